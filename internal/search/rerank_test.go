package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ximass/lumnia/internal/llm"
	"github.com/ximass/lumnia/internal/model"
)

// fakeChatProvider 固定应答的 ChatProvider
type fakeChatProvider struct {
	answers []string
	err     error
	calls   int
	prompts []string
}

func (f *fakeChatProvider) Generate(_ context.Context, messages []llm.Message, _ ...llm.GenerateOption) (string, error) {
	f.prompts = append(f.prompts, messages[len(messages)-1].Content)
	if f.err != nil {
		return "", f.err
	}
	answer := f.answers[f.calls%len(f.answers)]
	f.calls++
	return answer, nil
}

func (f *fakeChatProvider) GenerateStream(context.Context, []llm.Message, ...llm.GenerateOption) (<-chan string, <-chan error, error) {
	return nil, nil, fmt.Errorf("not implemented")
}

func (f *fakeChatProvider) Model() string { return "fake-chat" }

func chunkWithText(id, text string) ScoredChunk {
	return ScoredChunk{Chunk: model.Chunk{ID: id, Text: text}}
}

func TestExtractScore(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"0.85", 0.85},
		{"8.5", 0.85},
		{"85", 0.85},
		{"A pontuação é 7.", 0.7},
		{"Pontuação: 0,9", 0.9},
		{"sem número nenhum", 0.5},
		{"", 0.5},
		{"-2", 0},
		{"150", 1},
	}

	for _, tc := range cases {
		assert.InDelta(t, tc.want, extractScore(tc.raw), 1e-9, "raw=%q", tc.raw)
	}
}

func TestRerankIndividualOrdering(t *testing.T) {
	provider := &fakeChatProvider{answers: []string{"2", "9", "5"}}
	reranker := NewReranker(provider, 5, false)

	chunks := []ScoredChunk{
		chunkWithText("a", "texto a"),
		chunkWithText("b", "texto b"),
		chunkWithText("c", "texto c"),
	}

	result, err := reranker.Rerank(context.Background(), "pergunta", chunks)
	require.NoError(t, err)
	require.Len(t, result, 3)

	assert.Equal(t, "b", result[0].Chunk.ID)
	assert.InDelta(t, 0.9, result[0].RerankScore, 1e-9)
	assert.Equal(t, "c", result[1].Chunk.ID)
	assert.Equal(t, "a", result[2].Chunk.ID)
}

func TestRerankStableOnEqualScores(t *testing.T) {
	provider := &fakeChatProvider{answers: []string{"5"}}
	reranker := NewReranker(provider, 5, false)

	chunks := []ScoredChunk{
		chunkWithText("a", "texto a"),
		chunkWithText("b", "texto b"),
		chunkWithText("c", "texto c"),
	}

	result, err := reranker.Rerank(context.Background(), "pergunta", chunks)
	require.NoError(t, err)

	// 分数相同保持原有顺序
	assert.Equal(t, "a", result[0].Chunk.ID)
	assert.Equal(t, "b", result[1].Chunk.ID)
	assert.Equal(t, "c", result[2].Chunk.ID)
}

func TestRerankNeutralOnProviderError(t *testing.T) {
	provider := &fakeChatProvider{err: fmt.Errorf("upstream down")}
	reranker := NewReranker(provider, 5, false)

	chunks := []ScoredChunk{
		chunkWithText("a", "texto a"),
		chunkWithText("b", "texto b"),
	}

	result, err := reranker.Rerank(context.Background(), "pergunta", chunks)
	require.NoError(t, err)

	for _, sc := range result {
		assert.InDelta(t, neutralRerankScore, sc.RerankScore, 1e-9)
	}
	assert.Equal(t, "a", result[0].Chunk.ID)
	assert.Equal(t, "b", result[1].Chunk.ID)
}

func TestRerankBatchParsing(t *testing.T) {
	provider := &fakeChatProvider{answers: []string{"1: 9\n2: rabisco\n3: 0.2"}}
	reranker := NewReranker(provider, 5, true)

	chunks := []ScoredChunk{
		chunkWithText("a", "texto a"),
		chunkWithText("b", "texto b"),
		chunkWithText("c", "texto c"),
	}

	result, err := reranker.Rerank(context.Background(), "pergunta", chunks)
	require.NoError(t, err)
	require.Len(t, result, 3)

	// 一次请求覆盖整批，量表是 0.0-1.0
	assert.Equal(t, 1, provider.calls)
	assert.Contains(t, provider.prompts[0], "Trecho 1:")
	assert.Contains(t, provider.prompts[0], "Trecho 3:")
	assert.Contains(t, provider.prompts[0], "entre 0.0 (irrelevante) e 1.0")

	assert.Equal(t, "a", result[0].Chunk.ID) // 0.9
	assert.Equal(t, "b", result[1].Chunk.ID) // rabisco 拿中性分 0.5
	assert.Equal(t, "c", result[2].Chunk.ID) // 0.2
}

func TestRerankBatchSplitsBySize(t *testing.T) {
	provider := &fakeChatProvider{answers: []string{"1: 5\n2: 5"}}
	reranker := NewReranker(provider, 2, true)

	chunks := []ScoredChunk{
		chunkWithText("a", "texto a"),
		chunkWithText("b", "texto b"),
		chunkWithText("c", "texto c"),
	}

	_, err := reranker.Rerank(context.Background(), "pergunta", chunks)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestRerankEmptyInput(t *testing.T) {
	provider := &fakeChatProvider{answers: []string{"5"}}
	reranker := NewReranker(provider, 5, false)

	result, err := reranker.Rerank(context.Background(), "pergunta", nil)
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.Zero(t, provider.calls)
}
