// Package narrate turns a result-set summary into a short analyst note via
// an OpenAI-compatible chat completion endpoint. Narration is best effort:
// callers treat every failure here as non-fatal.
package narrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/intentql/intentql/internal/profile"
)

// Narrator summarizes executed queries for human readers.
type Narrator interface {
	Narrate(ctx context.Context, req Request) (string, error)
}

// Request carries everything the model may look at. Only the aggregate
// summary crosses the wire, never raw rows.
type Request struct {
	Query    string
	BoundSQL string
	Summary  profile.Summary
}

type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type ChatNarrator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewChatNarrator(cfg ChatConfig) (*ChatNarrator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatNarrator{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (n *ChatNarrator) Narrate(ctx context.Context, req Request) (string, error) {
	payload, err := buildChatPayload(n.model, n.temperature, req)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("chat completion failed status=%d", resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}

	narration := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if narration == "" {
		return "", fmt.Errorf("model returned empty narration")
	}
	return narration, nil
}

func buildChatPayload(model string, temperature float64, req Request) (map[string]any, error) {
	summaryJSON, err := json.Marshal(req.Summary)
	if err != nil {
		return nil, fmt.Errorf("marshal result summary: %w", err)
	}
	systemPrompt := "You are a data analyst. Summarize query results for a business reader " +
		"in at most 140 words of plain prose. Mention notable totals, ranges, and dominant " +
		"categories. Do not restate the SQL and do not invent numbers absent from the summary."
	userPrompt := fmt.Sprintf(
		"User question:\n%s\n\nExecuted SQL:\n%s\n\nResult summary (JSON):\n%s",
		strings.TrimSpace(req.Query),
		strings.TrimSpace(req.BoundSQL),
		string(summaryJSON),
	)

	return map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature": temperature,
	}, nil
}
