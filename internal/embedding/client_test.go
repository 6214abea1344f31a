package embedding

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider 可编程的 Provider，记录每次收到的批
type fakeProvider struct {
	batchSize  int
	maxRetries int
	retryDelay time.Duration
	failures   int // 前 N 次调用返回错误
	calls      [][]string
}

func (f *fakeProvider) GetEmbeddings(_ context.Context, texts []string) ([][]float64, error) {
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("upstream unavailable")
	}
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = []float64{float64(len(text))}
	}
	return vectors, nil
}

func (f *fakeProvider) Model() string            { return "fake-model" }
func (f *fakeProvider) BatchSize() int           { return f.batchSize }
func (f *fakeProvider) MaxRetries() int          { return f.maxRetries }
func (f *fakeProvider) RetryDelay() time.Duration { return f.retryDelay }

func TestClientBatchingPreservesOrder(t *testing.T) {
	provider := &fakeProvider{batchSize: 2}
	client := NewClient(provider, nil)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := client.GetEmbeddings(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 5)

	for i, text := range texts {
		assert.Equal(t, []float64{float64(len(text))}, vectors[i])
	}

	// 5 条文本按每批 2 条切成 3 批
	require.Len(t, provider.calls, 3)
	assert.Equal(t, []string{"a", "bb"}, provider.calls[0])
	assert.Equal(t, []string{"ccc", "dddd"}, provider.calls[1])
	assert.Equal(t, []string{"eeeee"}, provider.calls[2])
}

func TestClientRetryBackoff(t *testing.T) {
	provider := &fakeProvider{
		batchSize:  10,
		maxRetries: 3,
		retryDelay: time.Second,
		failures:   3,
	}
	client := NewClient(provider, nil)

	var delays []time.Duration
	client.sleep = func(d time.Duration) { delays = append(delays, d) }

	vectors, err := client.GetEmbeddings(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)

	// 第 n 次失败后等待 retryDelay * 2^n
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
	assert.Len(t, provider.calls, 4)
}

func TestClientRetryExhausted(t *testing.T) {
	provider := &fakeProvider{
		batchSize:  10,
		maxRetries: 2,
		retryDelay: time.Millisecond,
		failures:   10,
	}
	client := NewClient(provider, nil)
	client.sleep = func(time.Duration) {}

	_, err := client.GetEmbeddings(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Len(t, provider.calls, 3)
}

func TestClientEmptyInput(t *testing.T) {
	provider := &fakeProvider{batchSize: 10}
	client := NewClient(provider, nil)

	vectors, err := client.GetEmbeddings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, provider.calls)
}

func TestClientGetEmbeddingSingle(t *testing.T) {
	provider := &fakeProvider{batchSize: 10}
	client := NewClient(provider, nil)

	vector, err := client.GetEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, vector)
}
