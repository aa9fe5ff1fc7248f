package detectors

import (
	"context"
	"fmt"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/internal/state"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// ClusteringDetector borrows the majority verdict of the signature's
// behavioural cluster. Botnets rotate addresses but keep their timing and
// path habits, so cluster-mates vouch for (or against) each other - at
// dampened weight, since guilt by association is weak evidence.
type ClusteringDetector struct {
	Base
	clusters *state.ClusterStore
}

func NewClusteringDetector(m *models.Manifest, clusters *state.ClusterStore) *ClusteringDetector {
	return &ClusteringDetector{Base: NewBase(m), clusters: clusters}
}

func (d *ClusteringDetector) Run(_ context.Context, dc *signals.Context) (*Result, error) {
	res := &Result{}
	m := d.Manifest()

	linkThreshold := m.ParamFloat("link_threshold", 0.35)
	minSize := int(m.ParamFloat("min_cluster_size", 3))

	info, ok := d.clusters.FindCluster(dc.PrimarySignature, linkThreshold, minSize)
	if !ok {
		return res, nil
	}

	res.Signals = append(res.Signals,
		Emit{"detection.cluster.id", models.StringSignal(info.ID)},
		Emit{"detection.cluster.size", models.IntSignal(int64(info.Size))},
		Emit{"detection.cluster.verdict", models.RealSignal(info.BotRatio)},
	)

	switch {
	case info.BotRatio >= 0.7:
		// dampen by how far the majority is from unanimous
		res.Contributions = append(res.Contributions,
			d.Bot(info.BotRatio, "cluster_verdict", models.CategoryUnknown,
				fmt.Sprintf("cluster of %d signatures, %.0f%% judged bot", info.Size, info.BotRatio*100)))
	case info.BotRatio <= 0.2:
		res.Contributions = append(res.Contributions,
			d.Human(1-info.BotRatio, "cluster_verdict",
				fmt.Sprintf("cluster of %d signatures, %.0f%% judged bot", info.Size, info.BotRatio*100)))
	}
	return res, nil
}
