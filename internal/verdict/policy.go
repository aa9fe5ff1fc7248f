package verdict

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// Action Policy Registry
//
// The mapping from {risk band, bot type} to a recommended action is a
// declarative table, not code: operations tunes it per deployment without
// a rebuild. Policies are evaluated top to bottom, first match wins, and
// the chosen policy's name travels on the evidence so every action is
// attributable.

//go:embed policies.yaml
var defaultPolicyDoc []byte

// PolicyRule is one named row of the table.
type PolicyRule struct {
	Name     string   `yaml:"name"`
	BotTypes []string `yaml:"bot_types,omitempty"` // empty = any type
	MinBand  string   `yaml:"min_band,omitempty"`  // empty = any band
	Action   string   `yaml:"action"`
	Reason   string   `yaml:"reason,omitempty"`
}

type policyDoc struct {
	Policies []PolicyRule `yaml:"policies"`
	Default  PolicyRule   `yaml:"default"`
}

// PolicyRegistry is immutable after load.
type PolicyRegistry struct {
	rules       []compiledRule
	defaultRule compiledRule
	source      policyDoc
}

type compiledRule struct {
	name     string
	botTypes map[models.BotCategory]bool // nil = any
	minBand  models.RiskBand
	hasBand  bool
	action   models.Action
	reason   string
}

// LoadPolicies parses the embedded table, or the file at path when set.
func LoadPolicies(path string) (*PolicyRegistry, error) {
	raw := defaultPolicyDoc
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("policy file %s: %w", path, err)
		}
		raw = b
	}

	var doc policyDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("policy table invalid: %w", err)
	}
	if doc.Default.Name == "" || doc.Default.Action == "" {
		return nil, fmt.Errorf("policy table missing default policy")
	}

	reg := &PolicyRegistry{source: doc}
	for i, r := range doc.Policies {
		cr, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("policy %d (%s): %w", i, r.Name, err)
		}
		reg.rules = append(reg.rules, cr)
	}
	var err error
	reg.defaultRule, err = compileRule(doc.Default)
	if err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}
	return reg, nil
}

func compileRule(r PolicyRule) (compiledRule, error) {
	if r.Name == "" {
		return compiledRule{}, fmt.Errorf("missing name")
	}
	action, ok := models.ParseAction(r.Action)
	if !ok {
		return compiledRule{}, fmt.Errorf("unknown action %q", r.Action)
	}
	cr := compiledRule{name: r.Name, action: action, reason: r.Reason}

	if len(r.BotTypes) > 0 {
		cr.botTypes = make(map[models.BotCategory]bool, len(r.BotTypes))
		for _, t := range r.BotTypes {
			cr.botTypes[models.BotCategory(t)] = true
		}
	}
	if r.MinBand != "" {
		band, ok := parseBand(r.MinBand)
		if !ok {
			return compiledRule{}, fmt.Errorf("unknown risk band %q", r.MinBand)
		}
		cr.minBand = band
		cr.hasBand = true
	}
	return cr, nil
}

func parseBand(s string) (models.RiskBand, bool) {
	for b := models.RiskVeryLow; b <= models.RiskVeryHigh; b++ {
		if b.String() == s {
			return b, true
		}
	}
	return models.RiskVeryLow, false
}

// Select returns the action for a classified bot, plus the policy name
// and reason that chose it. Unknown bot types simply fail the typed rules
// and fall through to band-only rules or the default.
func (p *PolicyRegistry) Select(band models.RiskBand, botType models.BotCategory) (models.Action, string, string) {
	for _, r := range p.rules {
		if r.botTypes != nil && !r.botTypes[botType] {
			continue
		}
		if r.hasBand && band < r.minBand {
			continue
		}
		return r.action, r.name, r.reason
	}
	d := p.defaultRule
	return d.action, d.name, d.reason
}

// Rules returns the loaded table in evaluation order, default last. Used
// by the policy dump endpoint.
func (p *PolicyRegistry) Rules() []PolicyRule {
	out := make([]PolicyRule, 0, len(p.source.Policies)+1)
	out = append(out, p.source.Policies...)
	out = append(out, p.source.Default)
	return out
}
