package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-tavern/relay/internal/config"
	"github.com/zhouzirui/z-tavern/relay/internal/service/ai/gemini"
)

// NewChatModel 根据配置的 provider 创建模型实例。
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.BaseChatModel, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("provider %q is missing credentials or model configuration", cfg.Provider)
	}

	temperature := cfg.Temperature
	var topP *float32
	if cfg.TopP > 0 {
		val := cfg.TopP
		topP = &val
	}
	var maxTokens *int
	if cfg.MaxTokens > 0 {
		val := cfg.MaxTokens
		maxTokens = &val
	}

	switch cfg.Provider {
	case config.ProviderGemini:
		return gemini.NewChatModel(ctx, &gemini.Config{
			APIKey:      cfg.GoogleAPIKey,
			Model:       cfg.GeminiModel,
			Temperature: &temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		})
	case config.ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     cfg.ArkBaseURL,
			Region:      cfg.ArkRegion,
			APIKey:      cfg.ArkAPIKey,
			AccessKey:   cfg.ArkAccessKey,
			SecretKey:   cfg.ArkSecretKey,
			Model:       cfg.ArkModel,
			MaxTokens:   maxTokens,
			Temperature: &temperature,
			TopP:        topP,
		})
	case config.ProviderMock:
		return NewMockChatModel(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
