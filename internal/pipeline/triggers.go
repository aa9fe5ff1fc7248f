package pipeline

import (
	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// TriggerMet evaluates one condition tree against the published blackboard.
// Manifests with multiple top-level triggers require all of them (implicit
// all_of), matching how the condition list reads in YAML.
func TriggerMet(conds []models.TriggerCondition, dc *signals.Context) bool {
	for i := range conds {
		if !evalCondition(&conds[i], dc) {
			return false
		}
	}
	return true
}

func evalCondition(c *models.TriggerCondition, dc *signals.Context) bool {
	switch c.Kind {
	case models.TriggerExists:
		_, ok := dc.GetSignal(c.Key)
		return ok

	case models.TriggerEquals:
		v, ok := dc.GetSignal(c.Key)
		return ok && v.Equals(c.Value)

	case models.TriggerGreaterThan:
		v, ok := dc.GetSignal(c.Key)
		if !ok {
			return false
		}
		want, numeric := asFloat(c.Value)
		return numeric && v.AsReal() > want

	case models.TriggerAnyOf:
		for i := range c.Nested {
			if evalCondition(&c.Nested[i], dc) {
				return true
			}
		}
		return false

	case models.TriggerAllOf:
		for i := range c.Nested {
			if !evalCondition(&c.Nested[i], dc) {
				return false
			}
		}
		return true
	}
	// unknown kinds are rejected at registry load; treat defensively as no-fire
	return false
}

func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
