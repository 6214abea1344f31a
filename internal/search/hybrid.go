package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"gorm.io/gorm"

	"github.com/ximass/lumnia/internal/config"
	"github.com/ximass/lumnia/internal/embedding"
	"github.com/ximass/lumnia/internal/model"
)

// ScoredChunk 混合检索结果
type ScoredChunk struct {
	Chunk         model.Chunk
	SemanticScore float64
	LexicalScore  float64 // 归一化后的词法分
	CombinedScore float64
	RerankScore   float64
}

// HybridRetriever 混合检索器，余弦相似度 + FTS5 词法检索加权合并
type HybridRetriever struct {
	db       *gorm.DB
	embedder *embedding.Client
	reranker *Reranker // 可选
	cfg      config.SearchConfig
}

// NewHybridRetriever 创建混合检索器，reranker 可为 nil
func NewHybridRetriever(db *gorm.DB, embedder *embedding.Client, reranker *Reranker, cfg config.SearchConfig) *HybridRetriever {
	return &HybridRetriever{
		db:       db,
		embedder: embedder,
		reranker: reranker,
		cfg:      cfg,
	}
}

// Search 混合检索
// combined = semantic_weight * semantic + lexical_weight * lexical_norm
// 词法分先按最大值归一化再取 0.7 次幂，压缩头部优势
// 任一侧失败降级为另一侧单独检索
func (r *HybridRetriever) Search(ctx context.Context, kbID, query string) ([]ScoredChunk, error) {
	semantic, semErr := r.semanticScores(ctx, kbID, query)
	if semErr != nil {
		logx.Warn("Semantic search failed, falling back to lexical only: %v", semErr)
	}

	lexical, lexErr := searchLexical(r.db, kbID, query, r.cfg.MaxChunks)
	if lexErr != nil {
		logx.Warn("Lexical search failed, falling back to semantic only: %v", lexErr)
	}

	if semErr != nil && lexErr != nil {
		return nil, fmt.Errorf("hybrid search failed: semantic: %v, lexical: %w", semErr, lexErr)
	}

	// 词法分过滤最小阈值后按最大值归一化
	lexicalNorm := make(map[string]float64)
	var maxLexical float64
	for _, hit := range lexical {
		if hit.Score >= r.cfg.MinLexicalScore && hit.Score > maxLexical {
			maxLexical = hit.Score
		}
	}
	for _, hit := range lexical {
		if hit.Score < r.cfg.MinLexicalScore || maxLexical == 0 {
			continue
		}
		lexicalNorm[hit.ChunkID] = math.Pow(hit.Score/maxLexical, 0.7)
	}

	// 合并两侧命中的块
	combined := make(map[string]*ScoredChunk)
	for chunkID, score := range semantic {
		combined[chunkID] = &ScoredChunk{SemanticScore: score}
	}
	for chunkID, score := range lexicalNorm {
		if sc, ok := combined[chunkID]; ok {
			sc.LexicalScore = score
		} else {
			combined[chunkID] = &ScoredChunk{LexicalScore: score}
		}
	}

	scored := make([]ScoredChunk, 0, len(combined))
	ids := make([]string, 0, len(combined))
	for chunkID, sc := range combined {
		sc.CombinedScore = r.cfg.SemanticWeight*sc.SemanticScore + r.cfg.LexicalWeight*sc.LexicalScore
		if sc.CombinedScore <= 0 {
			continue
		}
		ids = append(ids, chunkID)
		scored = append(scored, *sc)
	}

	if len(scored) == 0 {
		return []ScoredChunk{}, nil
	}

	// 批量加载块内容
	var chunks []model.Chunk
	if err := r.db.Where("id IN ?", ids).Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	byID := make(map[string]model.Chunk, len(chunks))
	for _, chunk := range chunks {
		byID[chunk.ID] = chunk
	}
	for i := range scored {
		scored[i].Chunk = byID[ids[i]]
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].CombinedScore != scored[j].CombinedScore {
			return scored[i].CombinedScore > scored[j].CombinedScore
		}
		return scored[i].SemanticScore > scored[j].SemanticScore
	})

	if len(scored) > r.cfg.MaxChunks {
		scored = scored[:r.cfg.MaxChunks]
	}

	logx.Info("Hybrid search: semantic=%d, lexical=%d, combined=%d for query %q",
		len(semantic), len(lexicalNorm), len(scored), query)

	return scored, nil
}

// RetrieveRelevantChunks 检索 + 阈值过滤 + 可选重排，最终截断到 top-K
// 幸存候选超过 K 且启用重排时，整个过滤集交给重排器再取前 K
// 重排失败时保留混合检索顺序，不让请求失败
func (r *HybridRetriever) RetrieveRelevantChunks(ctx context.Context, kbID, query string) ([]ScoredChunk, error) {
	scored, err := r.Search(ctx, kbID, query)
	if err != nil {
		return nil, err
	}

	relevant := make([]ScoredChunk, 0, len(scored))
	for _, sc := range scored {
		if sc.CombinedScore >= r.cfg.RAGThreshold {
			relevant = append(relevant, sc)
		}
	}

	topK := r.cfg.RerankTopK
	if topK <= 0 || topK > len(relevant) {
		topK = len(relevant)
	}

	if r.reranker == nil || !r.cfg.EnableReranking || len(relevant) <= topK {
		return relevant[:topK], nil
	}

	reranked, err := r.reranker.Rerank(ctx, query, relevant)
	if err != nil {
		logx.Warn("Reranking failed, keeping hybrid order: %v", err)
		return relevant[:topK], nil
	}
	if len(reranked) > topK {
		reranked = reranked[:topK]
	}

	return reranked, nil
}

// semanticScores 余弦相似度检索，返回 chunkID -> 相似度
func (r *HybridRetriever) semanticScores(ctx context.Context, kbID, query string) (map[string]float64, error) {
	queryVector, err := r.embedder.GetEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	var chunks []model.Chunk
	if err := r.db.Select("id", "embedding").
		Where("kb_id = ? AND embedding != ''", kbID).
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	scores := make(map[string]float64)
	for i := range chunks {
		chunkVector, err := embedding.JSONToVector(chunks[i].Embedding)
		if err != nil {
			logx.Warn("Failed to parse embedding for chunk %s: %v", chunks[i].ID, err)
			continue
		}

		similarity := cosineSimilarity(queryVector, chunkVector)
		if similarity >= r.cfg.MinSemanticScore {
			scores[chunks[i].ID] = similarity
		}
	}

	// 语义侧自身也截断到候选上限，避免大库把全部块带进合并
	if r.cfg.MaxChunks > 0 && len(scores) > r.cfg.MaxChunks {
		ids := make([]string, 0, len(scores))
		for id := range scores {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return scores[ids[i]] > scores[ids[j]] })
		for _, id := range ids[r.cfg.MaxChunks:] {
			delete(scores, id)
		}
	}

	return scores, nil
}

// cosineSimilarity 计算两个向量的余弦相似度
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		logx.Warn("Vector dimension mismatch: %d vs %d", len(a), len(b))
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
