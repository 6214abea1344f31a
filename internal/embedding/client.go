package embedding

import (
	"context"
	"fmt"
	"time"

	"cnb.cool/zhiqiangwang/pkg/logx"

	"github.com/ximass/lumnia/internal/cache"
)

// Client 向量客户端，在 Provider 之上做分批、重试和缓存
type Client struct {
	provider Provider
	cache    *cache.EmbeddingCache // 可选
	sleep    func(time.Duration)   // 测试时可替换
}

// NewClient 创建向量客户端，cache 可为 nil
func NewClient(provider Provider, embCache *cache.EmbeddingCache) *Client {
	return &Client{
		provider: provider,
		cache:    embCache,
		sleep:    time.Sleep,
	}
}

// Model 当前模型标识
func (c *Client) Model() string {
	return c.provider.Model()
}

// GetEmbedding 获取单条文本的向量
func (c *Client) GetEmbedding(ctx context.Context, text string) ([]float64, error) {
	vectors, err := c.GetEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

// GetEmbeddings 批量获取向量，结果与输入顺序一致
// 按 provider 的 BatchSize 切批，批内失败按指数退避重试
func (c *Client) GetEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	results := make([][]float64, len(texts))

	// 先查缓存，只把未命中的送往远端
	missing := make([]int, 0, len(texts))
	for i, text := range texts {
		if c.cache != nil {
			cached, hit, err := c.cache.GetEmbedding(ctx, c.provider.Model(), text)
			if err == nil && hit {
				results[i] = cached
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return results, nil
	}

	batchSize := c.provider.BatchSize()
	if batchSize <= 0 {
		batchSize = 1
	}

	for start := 0; start < len(missing); start += batchSize {
		end := start + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		indices := missing[start:end]

		batch := make([]string, len(indices))
		for i, idx := range indices {
			batch[i] = texts[idx]
		}

		vectors, err := c.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}

		for i, idx := range indices {
			results[idx] = vectors[i]
			if c.cache != nil {
				if err := c.cache.SetEmbedding(ctx, c.provider.Model(), texts[idx], vectors[i]); err != nil {
					logx.Warn("Failed to cache embedding: %v", err)
				}
			}
		}
	}

	return results, nil
}

// embedWithRetry 单批请求，失败后等待 retryDelay * 2^attempt 再试
func (c *Client) embedWithRetry(ctx context.Context, batch []string) ([][]float64, error) {
	maxRetries := c.provider.MaxRetries()
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		vectors, err := c.provider.GetEmbeddings(ctx, batch)
		if err == nil {
			if len(vectors) != len(batch) {
				return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(batch))
			}
			return vectors, nil
		}

		lastErr = err
		if attempt == maxRetries {
			break
		}

		delay := c.provider.RetryDelay() * time.Duration(1<<uint(attempt))
		logx.Warn("Embedding attempt %d/%d failed, retrying in %v: %v",
			attempt+1, maxRetries+1, delay, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		c.sleep(delay)
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", maxRetries+1, lastErr)
}
