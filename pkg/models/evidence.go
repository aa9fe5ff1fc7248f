package models

// RiskBand is the coarse threat classification derived from the strongest
// weighted contribution, with multi-signal boosting.
type RiskBand int

const (
	RiskVeryLow RiskBand = iota
	RiskLow
	RiskElevated
	RiskMedium
	RiskHigh
	RiskVeryHigh
)

func (b RiskBand) String() string {
	switch b {
	case RiskVeryLow:
		return "VeryLow"
	case RiskLow:
		return "Low"
	case RiskElevated:
		return "Elevated"
	case RiskMedium:
		return "Medium"
	case RiskHigh:
		return "High"
	case RiskVeryHigh:
		return "VeryHigh"
	default:
		return "Unknown"
	}
}

// Boost raises the band by one step, saturating at VeryHigh.
func (b RiskBand) Boost() RiskBand {
	if b >= RiskVeryHigh {
		return RiskVeryHigh
	}
	return b + 1
}

// Action is the recommended response, ordered by severity. The engine only
// recommends; execution belongs to the action layer in front of it.
type Action int

const (
	ActionAllow Action = iota
	ActionLogOnly
	ActionChallenge
	ActionThrottle
	ActionBlock
	ActionRedirect
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "Allow"
	case ActionLogOnly:
		return "LogOnly"
	case ActionChallenge:
		return "Challenge"
	case ActionThrottle:
		return "Throttle"
	case ActionBlock:
		return "Block"
	case ActionRedirect:
		return "Redirect"
	default:
		return "Unknown"
	}
}

// ParseAction maps a policy-file action name to its Action. The second
// return is false for unrecognised names.
func ParseAction(s string) (Action, bool) {
	switch s {
	case "Allow":
		return ActionAllow, true
	case "LogOnly":
		return ActionLogOnly, true
	case "Challenge":
		return ActionChallenge, true
	case "Throttle":
		return ActionThrottle, true
	case "Block":
		return ActionBlock, true
	case "Redirect":
		return ActionRedirect, true
	}
	return ActionAllow, false
}

// Evidence is the aggregated pipeline output attached to the request.
type Evidence struct {
	EvaluationID string `json:"evaluationId"`

	IsBot          bool    `json:"isBot"`
	BotProbability float64 `json:"botProbability"` // clamped [0.01, 0.99]
	Confidence     float64 `json:"confidence"`     // [0, 1]

	RiskBand RiskBand    `json:"riskBand"`
	BotType  BotCategory `json:"botType,omitempty"`
	BotName  string      `json:"botName,omitempty"` // LLM-proposed, de-duplicated

	RecommendedAction Action `json:"recommendedAction"`
	ActionReason      string `json:"actionReason,omitempty"`
	PolicyName        string `json:"policyName,omitempty"`

	Contributions []Contribution `json:"contributions"`
	Signals       []SignalRecord `json:"signals"`

	// PrimarySignature correlates repeat visitors without retaining PII:
	// HMAC-SHA256(secret, UA|IP|path) truncated to 128 bits, hex.
	PrimarySignature string `json:"primarySignature"`

	ProcessingMs int64 `json:"processingMs"`

	// Partial is set when the global deadline expired before all waves ran.
	Partial bool `json:"partial,omitempty"`
}
