package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cnb.cool/zhiqiangwang/pkg/logx"

	"github.com/ximass/lumnia/internal/config"
)

// OllamaProvider Ollama 向量提供方
// /api/embeddings 不支持批量，逐条请求
type OllamaProvider struct {
	cfg    config.EmbeddingProviderConfig
	client *http.Client
}

// NewOllamaProvider 创建 Ollama 提供方
func NewOllamaProvider(cfg config.EmbeddingProviderConfig) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OllamaProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// GetEmbeddings 逐条调用 /api/embeddings，保持输入顺序
func (p *OllamaProvider) GetEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	embeddings := make([][]float64, len(texts))
	for i, text := range texts {
		embedding, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = embedding
	}
	return embeddings, nil
}

func (p *OllamaProvider) embedOne(ctx context.Context, text string) ([]float64, error) {
	jsonData, err := json.Marshal(ollamaEmbedRequest{
		Model:  p.cfg.Model,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var embedResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if len(embedResp.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}

	logx.Debug("Ollama embedding generated: model=%s, dim=%d", p.cfg.Model, len(embedResp.Embedding))
	return embedResp.Embedding, nil
}

// Model 当前模型标识
func (p *OllamaProvider) Model() string { return p.cfg.Model }

// BatchSize 单次请求的最大文本数
func (p *OllamaProvider) BatchSize() int { return p.cfg.BatchSize }

// MaxRetries 最大重试次数
func (p *OllamaProvider) MaxRetries() int { return p.cfg.MaxRetries }

// RetryDelay 基础重试间隔
func (p *OllamaProvider) RetryDelay() time.Duration { return p.cfg.RetryDelay }
