package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestChunkEmptyText(t *testing.T) {
	c := New()
	assert.Empty(t, c.Chunk("", "src-1", 700, 150))
	assert.Empty(t, c.Chunk("   \n\t ", "src-1", 700, 150))
}

func TestChunkSingleWindow(t *testing.T) {
	c := New()
	chunks := c.Chunk("hello world foo", "src-1", 700, 150)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, "hello world foo", chunks[0].Text)
	assert.Equal(t, 3, chunks[0].TokenCount)
	assert.Equal(t, 0, chunks[0].OffsetTokens)
}

func TestChunkWindowOffsets(t *testing.T) {
	c := New()
	chunks := c.Chunk(makeWords(2000), "src-1", 700, 150)
	require.Len(t, chunks, 4)

	offsets := []int{0, 550, 1100, 1650}
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, offsets[i], chunk.OffsetTokens)
	}
	assert.Equal(t, 700, chunks[0].TokenCount)
	assert.Equal(t, 350, chunks[3].TokenCount)
}

func TestChunkOverlapContent(t *testing.T) {
	c := New()
	chunks := c.Chunk(makeWords(2000), "src-1", 700, 150)
	require.True(t, len(chunks) >= 2)

	// 前一窗口尾部 150 token 与后一窗口头部重合
	firstTail := strings.Fields(chunks[0].Text)[550:]
	secondHead := strings.Fields(chunks[1].Text)[:150]
	assert.Equal(t, firstTail, secondHead)
}

func TestChunkOversizedOverlap(t *testing.T) {
	c := New()
	// overlap >= maxTokens 时窗口不得回退
	chunks := c.Chunk(makeWords(30), "src-1", 10, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].OffsetTokens)
	assert.Equal(t, 10, chunks[1].OffsetTokens)
	assert.Equal(t, 20, chunks[2].OffsetTokens)

	// overlap > maxTokens 同样不得回退
	chunks = c.Chunk(makeWords(30), "src-1", 10, 25)
	require.Len(t, chunks, 3)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].OffsetTokens, chunks[i-1].OffsetTokens)
	}
}

func TestChunkLongWordSplitting(t *testing.T) {
	c := New()
	longWord := strings.Repeat("a", 20)
	chunks := c.Chunk(longWord, "src-1", 700, 150)
	require.Len(t, chunks, 1)
	// 20 字符按 8 字符切成 3 段
	assert.Equal(t, 3, chunks[0].TokenCount)
	assert.Equal(t, strings.Repeat("a", 8)+" "+strings.Repeat("a", 8)+" aaaa", chunks[0].Text)
}

func TestChunkIDDeterministic(t *testing.T) {
	id1 := GenerateChunkID("src-1", 0, "hello world")
	id2 := GenerateChunkID("src-1", 0, "hello world")
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)

	assert.NotEqual(t, id1, GenerateChunkID("src-2", 0, "hello world"))
	assert.NotEqual(t, id1, GenerateChunkID("src-1", 1, "hello world"))
	assert.NotEqual(t, id1, GenerateChunkID("src-1", 0, "hello there"))
}

func TestChunkIdempotent(t *testing.T) {
	c := New()
	text := makeWords(1500)
	first := c.Chunk(text, "src-1", 700, 150)
	second := c.Chunk(text, "src-1", 700, 150)
	assert.Equal(t, first, second)
}

func TestChunkJSON(t *testing.T) {
	c := New()
	chunks := c.ChunkJSON(`  {"a": 1, "b": 2}  `, "src-1")
	require.Len(t, chunks, 1)
	assert.Equal(t, `{"a": 1, "b": 2}`, chunks[0].Text)
	assert.Equal(t, "json_full_document", chunks[0].Metadata["chunking_method"])

	assert.Empty(t, c.ChunkJSON("  ", "src-1"))
}

func TestChunkJSONL(t *testing.T) {
	c := New()
	input := "{\"a\": 1}\n\nnot json at all\n{\"b\": 2}\n"
	chunks := c.ChunkJSONL(input, "src-1")
	require.Len(t, chunks, 2)

	assert.Equal(t, `{"a": 1}`, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, "1", chunks[0].Metadata["line_number"])

	assert.Equal(t, `{"b": 2}`, chunks[1].Text)
	assert.Equal(t, 1, chunks[1].ChunkIndex)
	assert.Equal(t, "4", chunks[1].Metadata["line_number"])
	assert.Equal(t, "jsonl_line", chunks[1].Metadata["chunking_method"])
}

func TestEstimateTokens(t *testing.T) {
	c := New()
	assert.Equal(t, 0, c.EstimateTokens(""))
	assert.Equal(t, 2, c.EstimateTokens("one"))
	assert.Equal(t, 13, c.EstimateTokens(makeWords(10)))
}

func TestClearCache(t *testing.T) {
	c := New()
	c.Chunk(makeWords(100), "src-1", 50, 10)
	c.ClearCache()
	assert.Empty(t, c.tokenCache)
}
