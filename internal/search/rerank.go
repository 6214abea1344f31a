package search

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cnb.cool/zhiqiangwang/pkg/logx"

	"github.com/ximass/lumnia/internal/llm"
)

// neutralRerankScore 单块打分失败时的中性分，既不提升也不惩罚
const neutralRerankScore = 0.5

// Reranker LLM 重排器，让对话模型给每个候选块打相关性分
type Reranker struct {
	provider  llm.ChatProvider
	batchSize int
	useBatch  bool
}

// NewReranker 创建重排器
func NewReranker(provider llm.ChatProvider, batchSize int, useBatch bool) *Reranker {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Reranker{
		provider:  provider,
		batchSize: batchSize,
		useBatch:  useBatch,
	}
}

// Rerank 给候选块打分并按 RerankScore 降序稳定排序
// 打分失败的块拿中性分 0.5，保持原有相对顺序
func (r *Reranker) Rerank(ctx context.Context, query string, chunks []ScoredChunk) ([]ScoredChunk, error) {
	if len(chunks) == 0 {
		return chunks, nil
	}

	result := make([]ScoredChunk, len(chunks))
	copy(result, chunks)

	if r.useBatch {
		for start := 0; start < len(result); start += r.batchSize {
			end := start + r.batchSize
			if end > len(result) {
				end = len(result)
			}
			r.scoreBatch(ctx, query, result[start:end])
		}
	} else {
		for i := range result {
			result[i].RerankScore = r.scoreOne(ctx, query, result[i].Chunk.Text)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].RerankScore > result[j].RerankScore
	})

	return result, nil
}

// scoreBatch 一次请求给一批块打分，解析失败的块拿中性分
func (r *Reranker) scoreBatch(ctx context.Context, query string, batch []ScoredChunk) {
	var b strings.Builder
	b.WriteString("Avalie a relevância de cada trecho abaixo para a pergunta do usuário.\n")
	b.WriteString("Responda somente com uma linha por trecho, no formato \"numero: pontuacao\", ")
	b.WriteString("onde a pontuação é um número decimal entre 0.0 (irrelevante) e 1.0 (altamente relevante).\n\n")
	b.WriteString(fmt.Sprintf("Pergunta: %s\n\n", query))
	for i, sc := range batch {
		b.WriteString(fmt.Sprintf("Trecho %d:\n%s\n\n", i+1, sc.Chunk.Text))
	}

	for i := range batch {
		batch[i].RerankScore = neutralRerankScore
	}

	answer, err := r.provider.Generate(ctx, []llm.Message{{Role: "user", Content: b.String()}})
	if err != nil {
		logx.Warn("Rerank batch scoring failed, using neutral scores: %v", err)
		return
	}

	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(parts[0], "Trecho ")))
		if err != nil || index < 1 || index > len(batch) {
			continue
		}
		batch[index-1].RerankScore = extractScore(parts[1])
	}
}

// scoreOne 单块打分
func (r *Reranker) scoreOne(ctx context.Context, query, text string) float64 {
	prompt := fmt.Sprintf(
		"Avalie a relevância do trecho abaixo para a pergunta do usuário.\n"+
			"Responda somente com um número decimal entre 0.0 (irrelevante) e 1.0 (altamente relevante).\n\n"+
			"Pergunta: %s\n\nTrecho:\n%s", query, text)

	answer, err := r.provider.Generate(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		logx.Warn("Rerank scoring failed, using neutral score: %v", err)
		return neutralRerankScore
	}

	return extractScore(answer)
}

var scorePattern = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

// extractScore 从模型输出里提取分数并归一到 [0,1]
// 提示要求 0.0-1.0，模型仍按 0-10 / 0-100 回答时兜底换算，解析失败给中性分
func extractScore(raw string) float64 {
	match := scorePattern.FindString(raw)
	if match == "" {
		return neutralRerankScore
	}

	score, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", "."), 64)
	if err != nil {
		return neutralRerankScore
	}

	switch {
	case score > 10:
		score /= 100
	case score > 1:
		score /= 10
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
