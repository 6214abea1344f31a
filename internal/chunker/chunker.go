package chunker

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"cnb.cool/zhiqiangwang/pkg/logx"
)

// Candidate 切分产出的候选块，尚未持久化
type Candidate struct {
	SourceID     string            `json:"source_id"`
	ChunkIndex   int               `json:"chunk_index"`
	Text         string            `json:"text"`
	ChunkID      string            `json:"chunk_id"`
	OffsetTokens int               `json:"offset_tokens"`
	TokenCount   int               `json:"token_count"`
	Embedding    []float64         `json:"embedding,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Chunker 文本切分器，滑动窗口，窗口间保留 overlap 个重叠 token
// token 缓存按实例持有，避免全局缓存无界增长
type Chunker struct {
	mu         sync.Mutex
	tokenCache map[[32]byte][]string
}

// New 创建切分器
func New() *Chunker {
	return &Chunker{
		tokenCache: make(map[[32]byte][]string),
	}
}

// Chunk 按 token 窗口切分文本
// 窗口 i 覆盖 [position, position+maxTokens)，下一窗口从 position+maxTokens-overlap 开始
// overlap >= maxTokens 时收紧到窗口末尾，保证 position 严格前进
func (c *Chunker) Chunk(text, sourceID string, maxTokens, overlap int) []Candidate {
	if strings.TrimSpace(text) == "" {
		return []Candidate{}
	}

	tokens := c.tokenize(text)
	chunks := []Candidate{}
	chunkIndex := 0
	position := 0

	for position < len(tokens) {
		endPosition := position + maxTokens
		if endPosition > len(tokens) {
			endPosition = len(tokens)
		}
		chunkTokens := tokens[position:endPosition]
		chunkText := detokenize(chunkTokens)

		chunks = append(chunks, Candidate{
			SourceID:     sourceID,
			ChunkIndex:   chunkIndex,
			Text:         chunkText,
			ChunkID:      GenerateChunkID(sourceID, chunkIndex, chunkText),
			OffsetTokens: position,
			TokenCount:   len(chunkTokens),
		})

		chunkIndex++

		if endPosition >= len(tokens) {
			break
		}

		prev := position
		position = endPosition - overlap
		if position <= prev {
			// 防死循环: overlap 过大时直接跳到窗口末尾
			position = endPosition
		}
	}

	return chunks
}

// ChunkJSON JSON 文档作为单块返回
func (c *Chunker) ChunkJSON(text, sourceID string) []Candidate {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []Candidate{}
	}

	return []Candidate{
		{
			SourceID:   sourceID,
			ChunkIndex: 0,
			Text:       trimmed,
			ChunkID:    GenerateChunkID(sourceID, 0, trimmed),
			TokenCount: c.EstimateTokens(trimmed),
			Metadata: map[string]string{
				"chunking_method": "json_full_document",
			},
		},
	}
}

// ChunkJSONL JSON Lines 文档每个合法行一块，非法行跳过
func (c *Chunker) ChunkJSONL(text, sourceID string) []Candidate {
	lines := strings.Split(text, "\n")
	chunks := []Candidate{}

	for index, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !json.Valid([]byte(line)) {
			logx.Warn("Skipping invalid JSONL line %d for source %s", index+1, sourceID)
			continue
		}

		chunkIndex := len(chunks)
		chunks = append(chunks, Candidate{
			SourceID:   sourceID,
			ChunkIndex: chunkIndex,
			Text:       line,
			ChunkID:    GenerateChunkID(sourceID, chunkIndex, line),
			TokenCount: c.EstimateTokens(line),
			Metadata: map[string]string{
				"chunking_method": "jsonl_line",
				"line_number":     fmt.Sprintf("%d", index+1),
			},
		})
	}

	return chunks
}

// EstimateTokens 快速估算 token 数，1 词约 1.3 token
func (c *Chunker) EstimateTokens(text string) int {
	wordCount := len(strings.Fields(text))
	return int(math.Ceil(float64(wordCount) * 1.3))
}

// ClearCache 清空 token 缓存
func (c *Chunker) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenCache = make(map[[32]byte][]string)
}

// tokenize 轻量级分词: 按空白切分，超长词按 8 字符再切
// 不是 BPE，但确定且稳定，窗口计数可复现
func (c *Chunker) tokenize(text string) []string {
	cacheKey := sha256.Sum256([]byte(text))

	c.mu.Lock()
	if cached, ok := c.tokenCache[cacheKey]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	words := strings.Fields(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		runes := []rune(word)
		if len(runes) > 15 {
			for i := 0; i < len(runes); i += 8 {
				end := i + 8
				if end > len(runes) {
					end = len(runes)
				}
				tokens = append(tokens, string(runes[i:end]))
			}
		} else {
			tokens = append(tokens, word)
		}
	}

	c.mu.Lock()
	c.tokenCache[cacheKey] = tokens
	c.mu.Unlock()

	return tokens
}

// detokenize token 还原为文本
func detokenize(tokens []string) string {
	return strings.Join(tokens, " ")
}

// GenerateChunkID 生成确定性的块 ID: sha256(sourceID_index_text)
func GenerateChunkID(sourceID string, chunkIndex int, text string) string {
	data := fmt.Sprintf("%s_%d_%s", sourceID, chunkIndex, text)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(data)))
}
