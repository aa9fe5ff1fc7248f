// Package registry loads the detector manifests: embedded YAML documents
// merged with user overrides, validated once at startup, read-only after.
package registry

import (
	"embed"
	"fmt"
	"log"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/perimeterlab/botshield-engine/internal/config"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// The manifest documents are compiled into the binary so the runtime image
// needs no config directory to boot a fully armed catalog.
//
//go:embed manifests/*.yaml
var manifestFS embed.FS

// InputStageKeys are the derived request properties the pipeline seeds onto
// the blackboard before wave 0. Trigger conditions may reference these in
// addition to detector-emitted keys. Raw UA and address never appear here.
var InputStageKeys = []string{
	"request.method",
	"request.path.depth",
	"request.path.length",
	"request.header.count",
	"request.has_tls",
	"request.has_http2",
	"request.has_client_bundle",
}

// Registry is the immutable name → manifest map plus the derived wave
// partitioning. Safe for concurrent reads.
type Registry struct {
	manifests map[string]*models.Manifest
	waves     []Wave

	// neverFires holds detectors whose triggers reference a key no
	// upstream stage can produce. They stay registered but are skipped.
	neverFires map[string]bool
}

// Wave is one priority tier of the catalog.
type Wave struct {
	Priority  int
	Detectors []*models.Manifest
}

// Load parses every embedded manifest, applies overrides keyed by detector
// name, and validates the catalog. Any validation failure other than a
// dangling trigger reference is fatal.
func Load(overrides map[string]config.DetectorOverride) (*Registry, error) {
	entries, err := manifestFS.ReadDir("manifests")
	if err != nil {
		return nil, fmt.Errorf("embedded manifests unreadable: %w", err)
	}

	r := &Registry{
		manifests:  make(map[string]*models.Manifest, len(entries)),
		neverFires: make(map[string]bool),
	}

	for _, e := range entries {
		raw, err := manifestFS.ReadFile("manifests/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", e.Name(), err)
		}
		var m models.Manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("manifest %s: invalid YAML: %w", e.Name(), err)
		}
		if err := validateManifest(&m, e.Name()); err != nil {
			return nil, err
		}
		if _, dup := r.manifests[m.Name]; dup {
			return nil, fmt.Errorf("manifest %s: duplicate detector name %q", e.Name(), m.Name)
		}
		r.manifests[m.Name] = &m
	}

	for name, ov := range overrides {
		m, ok := r.manifests[name]
		if !ok {
			log.Printf("[Registry] override for unknown detector %q ignored", name)
			continue
		}
		applyOverride(m, ov)
	}

	if err := r.validateCatalog(); err != nil {
		return nil, err
	}
	r.partition()

	log.Printf("[Registry] loaded %d detectors in %d waves (%d enabled)",
		len(r.manifests), len(r.waves), r.EnabledCount())
	return r, nil
}

// validateManifest checks a single document. Errors name the document and
// field so a broken deploy fails loudly and precisely.
func validateManifest(m *models.Manifest, doc string) error {
	if m.Name == "" {
		return fmt.Errorf("manifest %s: missing required field 'name'", doc)
	}
	if m.Priority < 0 {
		return fmt.Errorf("manifest %s: field 'priority' must be non-negative, got %d", doc, m.Priority)
	}
	if m.Defaults.Timing.TimeoutMs <= 0 {
		return fmt.Errorf("manifest %s: field 'defaults.timing.timeout_ms' must be positive", doc)
	}
	for i := range m.Triggers {
		if err := m.Triggers[i].Validate(); err != nil {
			return fmt.Errorf("manifest %s: trigger %d: %w", doc, i, err)
		}
	}
	for name, w := range m.Defaults.Weights {
		if w < 0 {
			return fmt.Errorf("manifest %s: weight %q must be >= 0, got %g", doc, name, w)
		}
	}
	for name, cf := range m.Defaults.Confidence {
		if cf < 0 || cf > 1 {
			return fmt.Errorf("manifest %s: confidence %q must be in [0,1], got %g", doc, name, cf)
		}
	}
	return nil
}

func applyOverride(m *models.Manifest, ov config.DetectorOverride) {
	if ov.Enabled != nil {
		m.Enabled = *ov.Enabled
	}
	if ov.Priority != nil && *ov.Priority >= 0 {
		m.Priority = *ov.Priority
	}
	if ov.TimeoutMs != nil && *ov.TimeoutMs > 0 {
		m.Defaults.Timing.TimeoutMs = *ov.TimeoutMs
	}
	for k, v := range ov.Weights {
		if m.Defaults.Weights == nil {
			m.Defaults.Weights = make(map[string]float64)
		}
		m.Defaults.Weights[k] = v
	}
	for k, v := range ov.Confidence {
		if m.Defaults.Confidence == nil {
			m.Defaults.Confidence = make(map[string]float64)
		}
		m.Defaults.Confidence[k] = v
	}
	for k, v := range ov.Features {
		if m.Defaults.Features == nil {
			m.Defaults.Features = make(map[string]float64)
		}
		m.Defaults.Features[k] = v
	}
	for k, v := range ov.Parameters {
		if m.Defaults.Parameters == nil {
			m.Defaults.Parameters = make(map[string]any)
		}
		m.Defaults.Parameters[k] = v
	}
}

// validateCatalog enforces cross-manifest rules: exclusive output keys
// among enabled detectors (fatal) and producible trigger references
// (warning; the detector simply never fires).
func (r *Registry) validateCatalog() error {
	producers := make(map[string]string) // signal key -> detector name
	for _, m := range r.manifests {
		if !m.Enabled {
			continue
		}
		for _, key := range m.Emits {
			if other, taken := producers[key]; taken {
				return fmt.Errorf("detectors %q and %q both declare output signal %q", other, m.Name, key)
			}
			producers[key] = m.Name
		}
	}

	inputKeys := make(map[string]bool, len(InputStageKeys))
	for _, k := range InputStageKeys {
		inputKeys[k] = true
	}

	for _, m := range r.manifests {
		if !m.Enabled {
			continue
		}
		for i := range m.Triggers {
			for _, key := range m.Triggers[i].Keys() {
				if inputKeys[key] {
					continue
				}
				producer, ok := producers[key]
				if !ok {
					log.Printf("[Registry] WARNING: detector %q triggers on %q which no enabled detector emits; it will never fire", m.Name, key)
					r.neverFires[m.Name] = true
					continue
				}
				// A trigger key must come from a strictly earlier wave,
				// otherwise the signal can never be visible at filter time.
				if r.manifests[producer].Priority >= m.Priority {
					return fmt.Errorf("detector %q (priority %d) triggers on %q emitted by %q (priority %d); producers must run strictly earlier",
						m.Name, m.Priority, key, producer, r.manifests[producer].Priority)
				}
			}
		}
	}
	return nil
}

// partition groups enabled detectors into ordered waves by priority.
func (r *Registry) partition() {
	byPriority := make(map[int][]*models.Manifest)
	for _, m := range r.manifests {
		if !m.Enabled || r.neverFires[m.Name] {
			continue
		}
		byPriority[m.Priority] = append(byPriority[m.Priority], m)
	}

	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	r.waves = r.waves[:0]
	for _, p := range priorities {
		ms := byPriority[p]
		sort.Slice(ms, func(i, j int) bool { return ms[i].Name < ms[j].Name })
		r.waves = append(r.waves, Wave{Priority: p, Detectors: ms})
	}
}

// Get returns the manifest for a detector name.
func (r *Registry) Get(name string) (*models.Manifest, bool) {
	m, ok := r.manifests[name]
	return m, ok
}

// Waves returns the priority-ordered wave partitioning of the enabled
// catalog. The returned slice is shared and must not be mutated.
func (r *Registry) Waves() []Wave {
	return r.waves
}

// All returns every manifest sorted by (priority, name), including
// disabled ones. Used by the registry dump endpoint.
func (r *Registry) All() []*models.Manifest {
	out := make([]*models.Manifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// EnabledCount returns the number of schedulable detectors.
func (r *Registry) EnabledCount() int {
	n := 0
	for _, w := range r.waves {
		n += len(w.Detectors)
	}
	return n
}

// marshalManifest serialises a manifest back to YAML. The parse/serialise/
// parse round trip preserves the parsed structure.
func marshalManifest(m *models.Manifest) ([]byte, error) {
	return yaml.Marshal(m)
}

func unmarshalManifest(raw []byte) (*models.Manifest, error) {
	var m models.Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
