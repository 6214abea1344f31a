package llm

import (
	"context"
	"fmt"

	"github.com/ximass/lumnia/internal/config"
)

// Message 对话消息
type Message struct {
	Role    string `json:"role"` // system / user / assistant
	Content string `json:"content"`
}

// GenerateOptions 单次生成的可调参数，未设置的项用提供方配置的默认值
type GenerateOptions struct {
	Temperature *float64
}

// GenerateOption 单次生成的可选参数
type GenerateOption func(*GenerateOptions)

// WithTemperature 本次调用覆盖默认温度
func WithTemperature(temperature float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = &temperature
	}
}

// ApplyOptions 把可选参数折叠成一个 GenerateOptions
func ApplyOptions(opts []GenerateOption) GenerateOptions {
	var resolved GenerateOptions
	for _, opt := range opts {
		opt(&resolved)
	}
	return resolved
}

// ChatProvider 对话模型提供方
// GenerateStream 返回内容通道和错误通道，两个通道都在生成结束后关闭
type ChatProvider interface {
	Generate(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)
	GenerateStream(ctx context.Context, messages []Message, opts ...GenerateOption) (<-chan string, <-chan error, error)
	Model() string
}

// NewChatProvider 根据配置创建对话提供方
func NewChatProvider(cfg *config.LLMConfig) (ChatProvider, error) {
	providerCfg := cfg.Active()

	switch cfg.Provider {
	case "openai":
		return NewOpenAIChatProvider(providerCfg), nil
	case "ollama":
		return NewOllamaChatProvider(providerCfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
