package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/ximass/lumnia/internal/config"
)

// OpenAIProvider OpenAI 兼容的向量提供方
// 覆盖本地推理服务（LM Studio 等）和云端 API，走同一 /v1/embeddings 协议
type OpenAIProvider struct {
	embedder embedding.Embedder
	cfg      config.EmbeddingProviderConfig
}

// NewOpenAIProvider 创建 OpenAI 兼容提供方（复用 Eino）
func NewOpenAIProvider(cfg config.EmbeddingProviderConfig) (*OpenAIProvider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	embedder, err := openai.NewEmbedder(context.Background(), &openai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &OpenAIProvider{
		embedder: embedder,
		cfg:      cfg,
	}, nil
}

// GetEmbeddings 批量获取向量
func (p *OpenAIProvider) GetEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	vectors, err := p.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	return vectors, nil
}

// Model 当前模型标识
func (p *OpenAIProvider) Model() string { return p.cfg.Model }

// BatchSize 单次请求的最大文本数
func (p *OpenAIProvider) BatchSize() int { return p.cfg.BatchSize }

// MaxRetries 最大重试次数
func (p *OpenAIProvider) MaxRetries() int { return p.cfg.MaxRetries }

// RetryDelay 基础重试间隔
func (p *OpenAIProvider) RetryDelay() time.Duration { return p.cfg.RetryDelay }
