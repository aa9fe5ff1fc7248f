package models

import "fmt"

// Detector Manifests
//
// Every detector ships a static YAML manifest describing when it runs
// (priority tier + trigger conditions), what it emits, and its tunable
// defaults. Manifests are embedded in the binary, merged with user
// overrides at startup, and immutable afterwards.

// Trigger kinds understood by the orchestrator.
const (
	TriggerExists      = "exists"
	TriggerEquals      = "equals"
	TriggerGreaterThan = "greater_than"
	TriggerAnyOf       = "any_of"
	TriggerAllOf       = "all_of"
)

// TriggerCondition is one node of a trigger expression tree. Leaf kinds
// (exists/equals/greater_than) use Key and possibly Value; composite kinds
// (any_of/all_of) use Nested.
type TriggerCondition struct {
	Kind   string             `yaml:"kind" json:"kind"`
	Key    string             `yaml:"key,omitempty" json:"key,omitempty"`
	Value  any                `yaml:"value,omitempty" json:"value,omitempty"`
	Nested []TriggerCondition `yaml:"of,omitempty" json:"of,omitempty"`
}

// Validate checks structural well-formedness of the condition tree.
func (t *TriggerCondition) Validate() error {
	switch t.Kind {
	case TriggerExists:
		if t.Key == "" {
			return fmt.Errorf("exists trigger missing key")
		}
	case TriggerEquals, TriggerGreaterThan:
		if t.Key == "" {
			return fmt.Errorf("%s trigger missing key", t.Kind)
		}
		if t.Value == nil {
			return fmt.Errorf("%s trigger on %q missing value", t.Kind, t.Key)
		}
	case TriggerAnyOf, TriggerAllOf:
		if len(t.Nested) == 0 {
			return fmt.Errorf("%s trigger has no nested conditions", t.Kind)
		}
		for i := range t.Nested {
			if err := t.Nested[i].Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	return nil
}

// Keys returns every signal key referenced anywhere in the condition tree.
// Used at startup to verify each referenced key is producible upstream.
func (t *TriggerCondition) Keys() []string {
	switch t.Kind {
	case TriggerAnyOf, TriggerAllOf:
		var keys []string
		for i := range t.Nested {
			keys = append(keys, t.Nested[i].Keys()...)
		}
		return keys
	default:
		if t.Key != "" {
			return []string{t.Key}
		}
		return nil
	}
}

// TimingDefaults bounds a single detector's wall-clock contribution.
type TimingDefaults struct {
	TimeoutMs int `yaml:"timeout_ms" json:"timeoutMs"`
}

// ManifestDefaults carries the tunable surface of a detector.
type ManifestDefaults struct {
	Weights    map[string]float64 `yaml:"weights,omitempty" json:"weights,omitempty"`
	Confidence map[string]float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	Timing     TimingDefaults     `yaml:"timing,omitempty" json:"timing,omitempty"`
	Features   map[string]float64 `yaml:"features,omitempty" json:"features,omitempty"`
	Parameters map[string]any     `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Manifest is the per-detector static record. Lower priority runs earlier;
// detectors sharing a priority form one concurrent wave.
type Manifest struct {
	Name     string             `yaml:"name" json:"name"`
	Priority int                `yaml:"priority" json:"priority"`
	Enabled  bool               `yaml:"enabled" json:"enabled"`
	Scope    string             `yaml:"scope,omitempty" json:"scope,omitempty"`
	Triggers []TriggerCondition `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Emits    []string           `yaml:"emits,omitempty" json:"emits,omitempty"`
	Defaults ManifestDefaults   `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

// Weight returns a named weight, falling back to def when the manifest does
// not define it.
func (m *Manifest) Weight(name string, def float64) float64 {
	if v, ok := m.Defaults.Weights[name]; ok {
		return v
	}
	return def
}

// ConfidenceFor returns a named confidence default.
func (m *Manifest) ConfidenceFor(name string, def float64) float64 {
	if v, ok := m.Defaults.Confidence[name]; ok {
		return v
	}
	return def
}

// Feature returns a named feature coefficient.
func (m *Manifest) Feature(name string, def float64) float64 {
	if v, ok := m.Defaults.Features[name]; ok {
		return v
	}
	return def
}

// ParamString returns a string parameter, "" when absent or not a string.
func (m *Manifest) ParamString(name string) string {
	if v, ok := m.Defaults.Parameters[name].(string); ok {
		return v
	}
	return ""
}

// ParamFloat returns a numeric parameter, def when absent.
func (m *Manifest) ParamFloat(name string, def float64) float64 {
	switch v := m.Defaults.Parameters[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// ParamBool returns a boolean parameter, def when absent.
func (m *Manifest) ParamBool(name string, def bool) bool {
	if v, ok := m.Defaults.Parameters[name].(bool); ok {
		return v
	}
	return def
}
