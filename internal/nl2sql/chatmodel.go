package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// ChatModelAgent adapts any eino chat model to the Agent interface.
type ChatModelAgent struct {
	model     model.BaseChatModel
	provider  string
	modelName string
	prompts   *PromptBuilder
}

func NewChatModelAgent(chatModel model.BaseChatModel, provider, modelName string) (*ChatModelAgent, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	return &ChatModelAgent{
		model:     chatModel,
		provider:  provider,
		modelName: modelName,
		prompts:   NewPromptBuilder(),
	}, nil
}

func (a *ChatModelAgent) Invoke(ctx context.Context, req Request) (Output, error) {
	messages, err := a.prompts.Build(ctx, req)
	if err != nil {
		return Output{}, err
	}
	resp, err := a.model.Generate(ctx, messages)
	if err != nil {
		return Output{}, fmt.Errorf("generate chat response: %w", err)
	}
	if resp == nil {
		return Output{}, fmt.Errorf("chat model returned no message")
	}
	return Output{
		Result:   resp.Content,
		Provider: a.provider,
		Model:    a.modelName,
	}, nil
}

type ArkConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

func NewArkAgent(ctx context.Context, cfg ArkConfig) (*ChatModelAgent, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	temperature := float32(cfg.Temperature)
	arkCfg := &ark.ChatModelConfig{
		BaseURL:     strings.TrimSpace(cfg.BaseURL),
		APIKey:      strings.TrimSpace(cfg.APIKey),
		Model:       strings.TrimSpace(cfg.Model),
		Temperature: &temperature,
	}
	if cfg.Timeout > 0 {
		timeout := cfg.Timeout
		arkCfg.Timeout = &timeout
	}
	chatModel, err := ark.NewChatModel(ctx, arkCfg)
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return NewChatModelAgent(chatModel, "ark", arkCfg.Model)
}
