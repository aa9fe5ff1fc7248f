package models

// BotCategory classifies the kind of automation a detector believes it is
// looking at. Categories follow the curated user-agent taxonomy.
type BotCategory string

const (
	CategorySearchEngine     BotCategory = "SearchEngine"
	CategorySocialCrawler    BotCategory = "SocialCrawler"
	CategoryAutomation       BotCategory = "Automation"
	CategoryScriptingLibrary BotCategory = "ScriptingLibrary"
	CategorySecurityScanner  BotCategory = "SecurityScanner"
	CategoryAICrawler        BotCategory = "AICrawler"
	CategoryMonitor          BotCategory = "Monitor"
	CategoryUnknown          BotCategory = "Unknown"
)

// Contribution is a single detector's verdict fragment. Positive raw scores
// argue "bot", negative argue "human", zero is neutral. WeightedScore is
// recomputed by the sink (raw × weight); a producer-supplied value is never
// trusted.
type Contribution struct {
	Detector       string      `json:"detector"`
	Category       BotCategory `json:"category,omitempty"`
	RawScore       float64     `json:"rawScore"`      // [-1, 1]
	Weight         float64     `json:"weight"`        // >= 0
	WeightedScore  float64     `json:"weightedScore"` // raw × weight
	Confidence     float64     `json:"confidence"`    // [0, 1]
	Rationale      string      `json:"rationale"`
	EmittedSignals []string    `json:"emittedSignals,omitempty"`
}

// Normalize clamps the score and confidence into their contractual ranges
// and recomputes the weighted score. Called by the sink on every append.
func (c *Contribution) Normalize() {
	if c.RawScore > 1 {
		c.RawScore = 1
	}
	if c.RawScore < -1 {
		c.RawScore = -1
	}
	if c.Weight < 0 {
		c.Weight = 0
	}
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	c.WeightedScore = c.RawScore * c.Weight
}

// IsBotLeaning reports whether this contribution argues for automation.
func (c *Contribution) IsBotLeaning() bool {
	return c.WeightedScore > 0
}

// LearningRecord is an offline-training feature row emitted through the
// Context's AddLearning sink. The engine never consumes these itself.
type LearningRecord struct {
	Signature      string             `json:"signature"`
	Label          string             `json:"label,omitempty"` // "bot"/"human"/"" when unlabeled
	BotProbability float64            `json:"botProbability"`
	Features       map[string]float64 `json:"features,omitempty"`
	Source         string             `json:"source"` // emitting detector or subsystem
	UnixMs         int64              `json:"unixMs"`
}
