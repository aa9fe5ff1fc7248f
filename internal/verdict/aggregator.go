package verdict

import (
	"fmt"
	"math"

	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/internal/state"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// Calibration carries the aggregator's tunables, lifted out of the full
// config so tests can drive the math directly.
type Calibration struct {
	LogisticK    float64 // steepness of the probability curve
	BotThreshold float64 // is_bot = p >= threshold
	Saturation   float64 // evidence mass at which confidence saturates
}

// InterimProbability calibrates the contributions recorded so far. The
// orchestrator uses it between waves to decide LLM escalation; the final
// Aggregate call uses the same math so the interim and final readings are
// comparable.
func InterimProbability(contribs []models.Contribution, k float64) float64 {
	botSum, humanSum := evidenceMass(contribs)
	return calibrate(botSum, humanSum, k)
}

func evidenceMass(contribs []models.Contribution) (botSum, humanSum float64) {
	for i := range contribs {
		w := contribs[i].WeightedScore
		if w > 0 {
			botSum += w
		} else {
			humanSum -= w
		}
	}
	return botSum, humanSum
}

// calibrate squashes the evidence imbalance through a logistic curve and
// clamps to (0,1) so downstream consumers never see a categorical 0 or 1.
func calibrate(botSum, humanSum, k float64) float64 {
	if k <= 0 {
		k = 1
	}
	p := 1.0 / (1.0 + math.Exp(-k*(botSum-humanSum)))
	if p < 0.01 {
		p = 0.01
	}
	if p > 0.99 {
		p = 0.99
	}
	return p
}

// Aggregate folds the context into the final evidence: calibrated
// probability, confidence, risk band, bot classification, and the policy
// verdict. completed/enabled is the detector completion ratio; partial
// marks a budget-exceeded run and clamps the action severity.
func Aggregate(dc *signals.Context, cal Calibration, completed, enabled int, partial bool, policies *PolicyRegistry, names *state.RecentNames) *models.Evidence {
	contribs := dc.Contributions()
	botSum, humanSum := evidenceMass(contribs)

	p := calibrate(botSum, humanSum, cal.LogisticK)
	conf := confidence(botSum, humanSum, cal.Saturation, completed, enabled)
	isBot := p >= cal.BotThreshold

	ev := &models.Evidence{
		EvaluationID:     dc.ID,
		IsBot:            isBot,
		BotProbability:   p,
		Confidence:       conf,
		RiskBand:         AssessRisk(dc),
		Contributions:    contribs,
		Signals:          dc.SignalRecords(),
		PrimarySignature: dc.PrimarySignature,
		ProcessingMs:     dc.ElapsedMs(),
		Partial:          partial,
	}

	if isBot {
		ev.BotType = classify(dc, contribs)
		ev.BotName = proposedName(dc, names)
	}

	if !isBot {
		ev.RecommendedAction = models.ActionAllow
		ev.ActionReason = "below bot threshold"
		return ev
	}

	action, policyName, reason := policies.Select(ev.RiskBand, ev.BotType)
	if partial && action > models.ActionChallenge {
		// incomplete evidence never earns more than a challenge
		action = models.ActionChallenge
		reason = fmt.Sprintf("%s (downgraded: partial evaluation)", reason)
	}
	ev.RecommendedAction = action
	ev.PolicyName = policyName
	ev.ActionReason = reason
	return ev
}

// confidence scales evidence mass against the saturation point, then
// discounts by the detector completion ratio so a half-run pipeline cannot
// claim full certainty.
func confidence(botSum, humanSum, saturation float64, completed, enabled int) float64 {
	if saturation <= 0 {
		saturation = 1
	}
	mass := (botSum + humanSum) / saturation
	if mass > 1 {
		mass = 1
	}
	ratio := 1.0
	if enabled > 0 {
		ratio = float64(completed) / float64(enabled)
	}
	return mass * ratio
}

// classify picks the bot type: the LLM's verdict when present, otherwise
// the category of the strongest bot-leaning contribution.
func classify(dc *signals.Context, contribs []models.Contribution) models.BotCategory {
	if t := dc.Str("detection.llm.bot_type"); t != "" {
		if cat, ok := knownCategory(t); ok {
			return cat
		}
	}
	best := models.CategoryUnknown
	bestScore := 0.0
	for i := range contribs {
		c := &contribs[i]
		if c.WeightedScore > bestScore && c.Category != "" {
			best = c.Category
			bestScore = c.WeightedScore
		}
	}
	return best
}

func knownCategory(s string) (models.BotCategory, bool) {
	switch models.BotCategory(s) {
	case models.CategorySearchEngine, models.CategorySocialCrawler,
		models.CategoryAutomation, models.CategoryScriptingLibrary,
		models.CategorySecurityScanner, models.CategoryAICrawler,
		models.CategoryMonitor, models.CategoryUnknown:
		return models.BotCategory(s), true
	}
	return models.CategoryUnknown, false
}

// proposedName returns the LLM-proposed bot name if it has not been seen
// recently. Repeated names are suppressed so the model cannot flood the
// evidence stream with one catchy label.
func proposedName(dc *signals.Context, names *state.RecentNames) string {
	name := dc.Str("detection.llm.bot_name")
	if name == "" || names == nil {
		return ""
	}
	if !names.TryAdd(name) {
		return ""
	}
	return name
}
