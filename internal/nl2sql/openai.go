package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIAgent talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, Groq, local gateways).
type OpenAIAgent struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
	prompts     *PromptBuilder
}

func NewOpenAIAgent(cfg OpenAIConfig) (*OpenAIAgent, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "llama-3.1-8b-instant"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIAgent{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
		prompts:     NewPromptBuilder(),
	}, nil
}

func (a *OpenAIAgent) Invoke(ctx context.Context, req Request) (Output, error) {
	messages, err := a.prompts.Build(ctx, req)
	if err != nil {
		return Output{}, err
	}
	body, err := json.Marshal(buildOpenAIPayload(a.model, a.temperature, messages))
	if err != nil {
		return Output{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Output{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Output{}, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Output{}, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Output{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Output{}, fmt.Errorf("empty chat completion choices")
	}

	return Output{
		Result:   parsed.Choices[0].Message.Content,
		Provider: "openai-compatible",
		Model:    a.model,
	}, nil
}

func buildOpenAIPayload(model string, temperature float64, messages []*schema.Message) map[string]any {
	wire := make([]map[string]string, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, map[string]string{
			"role":    string(msg.Role),
			"content": msg.Content,
		})
	}
	return map[string]any{
		"model":       model,
		"messages":    wire,
		"temperature": temperature,
		"stop":        []string{"\nSQLResult:"},
	}
}
