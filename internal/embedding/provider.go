package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ximass/lumnia/internal/config"
)

// Provider 向量嵌入提供方
// GetEmbeddings 结果与输入顺序一一对应
type Provider interface {
	GetEmbeddings(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
	BatchSize() int
	MaxRetries() int
	RetryDelay() time.Duration
}

// NewProvider 根据配置创建对应的提供方
func NewProvider(cfg *config.EmbeddingConfig) (Provider, error) {
	providerCfg := cfg.Active()

	switch cfg.Provider {
	case "openai", "cloud":
		return NewOpenAIProvider(providerCfg)
	case "ollama":
		return NewOllamaProvider(providerCfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// VectorToJSON 将向量编码为 JSON 字符串，写入 chunks.embedding 列
func VectorToJSON(vector []float64) (string, error) {
	data, err := json.Marshal(vector)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// JSONToVector 从 JSON 字符串还原向量
func JSONToVector(jsonStr string) ([]float64, error) {
	if jsonStr == "" {
		return nil, nil
	}
	var vector []float64
	err := json.Unmarshal([]byte(jsonStr), &vector)
	if err != nil {
		return nil, err
	}
	return vector, nil
}
