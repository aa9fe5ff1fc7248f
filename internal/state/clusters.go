package state

import (
	"sort"
	"sync"
	"time"
)

// Signature Cluster Store
//
// Keeps the latest feature vector and verdict per signature and answers
// "which behavioural cluster does this signature belong to". Clusters are
// single-linkage components over the adaptive weighted distance: two
// signatures link when their distance falls under the threshold, and a
// cluster is the transitive closure of links. Recomputed lazily per query
// over a bounded population, so there is no background job to operate.

const maxTrackedVectors = 2048

type vectorRecord struct {
	vec       FeatureVector
	isBot     bool
	updatedAt time.Time
}

// ClusterInfo describes the cluster containing a queried signature.
type ClusterInfo struct {
	ID       string  `json:"id"` // lexicographically smallest member signature
	Size     int     `json:"size"`
	BotRatio float64 `json:"botRatio"`
}

// ClusterStore is safe for concurrent use.
type ClusterStore struct {
	mu       sync.Mutex
	vectors  map[string]vectorRecord
	weighter *AdaptiveWeighter
}

// NewClusterStore shares the adaptive weighter with its callers so the
// metric and the stored vectors evolve together.
func NewClusterStore(weighter *AdaptiveWeighter) *ClusterStore {
	return &ClusterStore{
		vectors:  make(map[string]vectorRecord),
		weighter: weighter,
	}
}

// Update stores the signature's latest vector and verdict, evicting the
// stalest record when the population bound is hit, then feeds the
// population back into the weighter.
func (cs *ClusterStore) Update(signature string, vec FeatureVector, isBot bool) {
	cs.mu.Lock()
	if _, exists := cs.vectors[signature]; !exists && len(cs.vectors) >= maxTrackedVectors {
		var victim string
		oldest := time.Now()
		for sig, rec := range cs.vectors {
			if rec.updatedAt.Before(oldest) {
				oldest = rec.updatedAt
				victim = sig
			}
		}
		delete(cs.vectors, victim)
	}
	cs.vectors[signature] = vectorRecord{vec: vec, isBot: isBot, updatedAt: time.Now()}

	population := make([]FeatureVector, 0, len(cs.vectors))
	for _, rec := range cs.vectors {
		population = append(population, rec.vec)
	}
	cs.mu.Unlock()

	cs.weighter.ComputeWeights(population)
}

// FindCluster returns the single-linkage component containing the
// signature. The second return is false when the signature is untracked
// or its component is below minSize.
func (cs *ClusterStore) FindCluster(signature string, linkThreshold float64, minSize int) (ClusterInfo, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	seed, ok := cs.vectors[signature]
	if !ok {
		return ClusterInfo{}, false
	}
	weights := cs.weighter.Weights()

	// BFS over the link graph from the seed. Populations are bounded at
	// maxTrackedVectors so the quadratic frontier scan stays cheap.
	member := map[string]bool{signature: true}
	frontier := []FeatureVector{seed.vec}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for sig, rec := range cs.vectors {
			if member[sig] {
				continue
			}
			if WeightedDistance(cur, rec.vec, weights) <= linkThreshold {
				member[sig] = true
				frontier = append(frontier, rec.vec)
			}
		}
	}

	if len(member) < minSize {
		return ClusterInfo{}, false
	}

	members := make([]string, 0, len(member))
	bots := 0
	for sig := range member {
		members = append(members, sig)
		if cs.vectors[sig].isBot {
			bots++
		}
	}
	sort.Strings(members)

	return ClusterInfo{
		ID:       members[0],
		Size:     len(members),
		BotRatio: float64(bots) / float64(len(members)),
	}, true
}

// TrackedCount returns the current population size.
func (cs *ClusterStore) TrackedCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.vectors)
}
