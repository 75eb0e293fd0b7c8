package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/neurorouter"

	"github.com/arbiterhq/arbiter/internal/model"
)

// LLMConfig holds parameters for the LLM-backed proposal provider. The
// endpoint is any OpenAI-compatible chat-completions API.
type LLMConfig struct {
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

const proposalSystemPrompt = `You are a business-process decision assistant. You receive one event describing something that happened in an automated system and must propose a next action for governance review.

Valid recommended actions:
- log_info: record the event, take no action
- send_message: reply to the conversation
- update_record: modify a business record
- schedule_followup: create a delayed task
- apply_discount: grant a discount (include discount_pct in action_params)
- delete_records: remove data (include scope in action_params)
- escalate_to_human: hand the case to an operator

Valid risk levels: low, medium, high, critical

Return ONLY valid JSON, no markdown fences, no commentary:
{"recommended_action":"<action>","action_params":{},"confidence":<0..1>,"risk_level":"<level>","explanation":{"summary":"<one line>","rationale":"<short>"}}

Be conservative: when unsure, lower the confidence rather than guessing.`

// LLM is the production proposal provider.
type LLM struct {
	cfg LLMConfig
}

// NewLLM creates an LLM provider with defaults applied.
func NewLLM(cfg LLMConfig) *LLM {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &LLM{cfg: cfg}
}

func (l *LLM) Name() string { return "llm:" + l.cfg.Model }

// Propose sends the sanitized event to the LLM and parses the returned
// proposal. HTTP 429 maps to neurorouter.ErrRateLimited so callers can
// defer retries; everything else non-200 is a plain error.
func (l *LLM) Propose(ctx context.Context, e *model.EventEnvelope) (*model.Proposal, error) {
	eventJSON, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal event: %w", err)
	}

	messages := []map[string]string{
		{"role": "system", "content": proposalSystemPrompt},
		{"role": "user", "content": string(eventJSON)},
	}
	body, _ := json.Marshal(map[string]any{
		"model":       l.cfg.Model,
		"messages":    messages,
		"max_tokens":  l.cfg.MaxTokens,
		"temperature": 0,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider: create request: %w", err)
	}
	if l.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: l.cfg.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, neurorouter.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		return nil, fmt.Errorf("provider: empty response")
	}

	raw := cleanJSON(strings.TrimSpace(result.Choices[0].Message.Content))
	var partial map[string]any
	if err := json.Unmarshal([]byte(raw), &partial); err != nil {
		return nil, fmt.Errorf("provider: parse proposal: %w", err)
	}
	return model.ProposalFromMap(partial), nil
}

// cleanJSON strips markdown fences some models wrap around JSON output.
func cleanJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if i := strings.LastIndex(raw, "```"); i >= 0 {
			raw = raw[:i]
		}
	}
	return strings.TrimSpace(raw)
}
