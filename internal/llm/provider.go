// Package llm is the escalation client: when the heuristic verdict lands
// in the ambiguous band, a redacted request fingerprint goes to an external
// completion endpoint and the structured verdict comes back as one more
// detector contribution.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"
)

// Request is a single completion call.
type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
	TimeoutMs   int
}

// Provider is the completion transport. Initialise may probe the endpoint;
// Complete is the only hot-path call and returns the raw completion text,
// empty on failure.
type Provider interface {
	Initialise(ctx context.Context) error
	IsReady() bool
	Complete(ctx context.Context, req Request) (string, error)
}

// HTTPProvider speaks an OpenAI-compatible chat completion API.
type HTTPProvider struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	ready    atomic.Bool
}

// NewHTTPProvider builds the provider; call Initialise before first use.
func NewHTTPProvider(endpoint, model, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

// Initialise marks the provider ready after a configuration sanity check.
// No network probe: completion endpoints routinely reject empty prompts,
// so reachability is discovered on first use instead.
func (p *HTTPProvider) Initialise(ctx context.Context) error {
	if p.endpoint == "" {
		return fmt.Errorf("llm endpoint not configured")
	}
	if p.model == "" {
		return fmt.Errorf("llm model not configured")
	}
	p.ready.Store(true)
	log.Printf("[LLM] provider initialised (model %s)", p.model)
	return nil
}

func (p *HTTPProvider) IsReady() bool {
	return p.ready.Load()
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the classification request. Every failure path returns an
// error and an empty string; callers log and proceed without a verdict.
func (p *HTTPProvider) Complete(ctx context.Context, req Request) (string, error) {
	if !p.IsReady() {
		return "", fmt.Errorf("llm provider not ready")
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(chatPayload{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm response malformed: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("llm response empty")
	}
	return parsed.Choices[0].Message.Content, nil
}

const systemPrompt = `You are a bot-detection classifier for HTTP traffic. ` +
	`Given a redacted request fingerprint, decide whether the client is automated. ` +
	`Respond with a single JSON object: {"is_bot": bool, "confidence": 0.0-1.0, ` +
	`"bot_type": "SearchEngine|SocialCrawler|Automation|ScriptingLibrary|SecurityScanner|AICrawler|Monitor|Unknown", ` +
	`"name": "short memorable name for this bot, or empty", ` +
	`"reasoning": "one sentence", "pattern": "optional pattern note"}. No prose outside the JSON.`
