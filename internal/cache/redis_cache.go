package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmbeddingCache Redis 向量缓存层
// key 为 sha256(model_text)，同一文本同一模型只调用一次远端
type EmbeddingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEmbeddingCache 创建 Redis 向量缓存
func NewEmbeddingCache(addr, password string, db int, ttl time.Duration) (*EmbeddingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &EmbeddingCache{
		client: client,
		ttl:    ttl,
	}, nil
}

// embeddingKey 生成缓存键
func embeddingKey(model, text string) string {
	hash := sha256.Sum256([]byte(model + "_" + text))
	return fmt.Sprintf("emb:%s:%x", model, hash)
}

// GetEmbedding 获取缓存的向量
func (c *EmbeddingCache) GetEmbedding(ctx context.Context, model, text string) ([]float64, bool, error) {
	data, err := c.client.Get(ctx, embeddingKey(model, text)).Result()
	if err == redis.Nil {
		return nil, false, nil // 缓存未命中
	}
	if err != nil {
		return nil, false, err
	}

	var embedding []float64
	if err := json.Unmarshal([]byte(data), &embedding); err != nil {
		return nil, false, err
	}

	return embedding, true, nil
}

// SetEmbedding 写入向量缓存
func (c *EmbeddingCache) SetEmbedding(ctx context.Context, model, text string, embedding []float64) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, embeddingKey(model, text), data, c.ttl).Err()
}

// GetCachedAnswer 获取缓存的问答结果
func (c *EmbeddingCache) GetCachedAnswer(ctx context.Context, questionHash string) (string, bool, error) {
	answer, err := c.client.Get(ctx, fmt.Sprintf("qa:%s", questionHash)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	return answer, true, nil
}

// SetCachedAnswer 写入问答缓存
func (c *EmbeddingCache) SetCachedAnswer(ctx context.Context, questionHash, answer string) error {
	return c.client.Set(ctx, fmt.Sprintf("qa:%s", questionHash), answer, c.ttl).Err()
}

// Close 关闭 Redis 连接
func (c *EmbeddingCache) Close() error {
	return c.client.Close()
}
