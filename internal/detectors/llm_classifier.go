package detectors

import (
	"context"
	"fmt"

	"github.com/perimeterlab/botshield-engine/internal/llm"
	"github.com/perimeterlab/botshield-engine/internal/signals"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// LLMDetector escalates the ambiguous band to the completion endpoint and
// folds the parsed verdict back in as one more contribution. The wave gate
// decides whether this tier runs at all; by the time Run executes, the
// interim probability already sits in the trigger band.
type LLMDetector struct {
	Base
	provider    llm.Provider
	temperature float64
	maxTokens   int
}

func NewLLMDetector(m *models.Manifest, provider llm.Provider, temperature float64, maxTokens int) *LLMDetector {
	return &LLMDetector{
		Base:        NewBase(m),
		provider:    provider,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

func (d *LLMDetector) Run(ctx context.Context, dc *signals.Context) (*Result, error) {
	res := &Result{}
	if d.provider == nil || !d.provider.IsReady() {
		return res, nil
	}

	raw, err := d.provider.Complete(ctx, llm.Request{
		Prompt:      llm.BuildPrompt(dc),
		Temperature: d.temperature,
		MaxTokens:   d.maxTokens,
		TimeoutMs:   d.Manifest().Defaults.Timing.TimeoutMs,
	})
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	v, err := llm.ParseVerdict(raw)
	if err != nil {
		return nil, fmt.Errorf("verdict unusable: %w", err)
	}

	res.Signals = append(res.Signals,
		Emit{"detection.llm.is_bot", models.BoolSignal(v.IsBot)},
		Emit{"detection.llm.confidence", models.RealSignal(v.Confidence)},
	)
	if v.BotType != "" {
		res.Signals = append(res.Signals,
			Emit{"detection.llm.bot_type", models.StringSignal(v.BotType)})
	}
	if v.Name != "" {
		res.Signals = append(res.Signals,
			Emit{"detection.llm.bot_name", models.StringSignal(v.Name)})
	}
	if v.Pattern != "" {
		res.Signals = append(res.Signals,
			Emit{"detection.llm.pattern", models.StringSignal(v.Pattern)})
	}

	// signed confidence: bot verdicts push up, human verdicts push down
	signed := v.Confidence
	if !v.IsBot {
		signed = -signed
	}
	res.Contributions = append(res.Contributions, models.Contribution{
		Detector:   d.Name(),
		Category:   models.BotCategory(v.BotType),
		RawScore:   signed,
		Weight:     d.Weight("verdict", 1.5),
		Confidence: v.Confidence,
		Rationale:  v.Reasoning,
	})
	return res, nil
}
