package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ximass/lumnia/internal/config"
	"github.com/ximass/lumnia/internal/database"
	"github.com/ximass/lumnia/internal/embedding"
	"github.com/ximass/lumnia/internal/model"
)

// fakeEmbeddingProvider 文本到向量的固定映射
type fakeEmbeddingProvider struct {
	vectors map[string][]float64
	err     error
}

func (f *fakeEmbeddingProvider) GetEmbeddings(_ context.Context, texts []string) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vector, ok := f.vectors[text]
		if !ok {
			vector = []float64{0, 0}
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (f *fakeEmbeddingProvider) Model() string             { return "fake-embed" }
func (f *fakeEmbeddingProvider) BatchSize() int            { return 10 }
func (f *fakeEmbeddingProvider) MaxRetries() int           { return 0 }
func (f *fakeEmbeddingProvider) RetryDelay() time.Duration { return 0 }

func testSearchConfig() config.SearchConfig {
	return config.SearchConfig{
		SemanticWeight:   0.6,
		LexicalWeight:    0.4,
		MinSemanticScore: 0.05,
		MinLexicalScore:  0.001,
		RAGThreshold:     0.15,
		MaxChunks:        100,
		RerankTopK:       10,
		RerankBatchSize:  5,
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db))
	return db
}

func insertChunk(t *testing.T, db *gorm.DB, id, kbID, text string, vector []float64) {
	t.Helper()
	embeddingJSON := ""
	if vector != nil {
		var err error
		embeddingJSON, err = embedding.VectorToJSON(vector)
		require.NoError(t, err)
	}
	require.NoError(t, db.Create(&model.Chunk{
		ID:             id,
		SourceID:       "src-1",
		KBID:           kbID,
		Text:           text,
		Embedding:      embeddingJSON,
		EmbeddingModel: "fake-embed",
	}).Error)
}

func TestHybridSearchCombinesScores(t *testing.T) {
	db := newTestDB(t)

	insertChunk(t, db, "chunk-a", "kb-1", "manual de solda de chapas", []float64{1, 0})
	insertChunk(t, db, "chunk-b", "kb-1", "tabela de precos de parafusos", []float64{0, 1})
	insertChunk(t, db, "chunk-c", "kb-1", "solda solda solda em aluminio", []float64{0.6, 0.8})

	provider := &fakeEmbeddingProvider{vectors: map[string][]float64{
		"solda": {1, 0},
	}}
	retriever := NewHybridRetriever(db, embedding.NewClient(provider, nil), nil, testSearchConfig())

	scored, err := retriever.Search(context.Background(), "kb-1", "solda")
	require.NoError(t, err)
	require.NotEmpty(t, scored)

	byID := make(map[string]ScoredChunk)
	for _, sc := range scored {
		byID[sc.Chunk.ID] = sc
		// 返回的块要带完整文本
		assert.NotEmpty(t, sc.Chunk.Text)
	}

	// chunk-a: 语义满分且词法命中
	scA, ok := byID["chunk-a"]
	require.True(t, ok)
	assert.InDelta(t, 1.0, scA.SemanticScore, 1e-9)
	assert.Greater(t, scA.LexicalScore, 0.0)

	// chunk-b: 语义零分，词法没有命中 solda，不应出现
	_, ok = byID["chunk-b"]
	assert.False(t, ok)

	// chunk-c: 两侧都有分
	scC, ok := byID["chunk-c"]
	require.True(t, ok)
	assert.InDelta(t, 0.6, scC.SemanticScore, 1e-9)

	// 按 combined 降序
	for i := 1; i < len(scored); i++ {
		assert.GreaterOrEqual(t, scored[i-1].CombinedScore, scored[i].CombinedScore)
	}

	// 词法分做过最大值归一化，不会超过 1
	for _, sc := range scored {
		assert.LessOrEqual(t, sc.LexicalScore, 1.0)
	}
}

func TestHybridSearchKnowledgeBaseIsolation(t *testing.T) {
	db := newTestDB(t)

	insertChunk(t, db, "chunk-a", "kb-1", "solda de chapas", []float64{1, 0})
	insertChunk(t, db, "chunk-x", "kb-2", "solda de chapas em outro acervo", []float64{1, 0})

	provider := &fakeEmbeddingProvider{vectors: map[string][]float64{"solda": {1, 0}}}
	retriever := NewHybridRetriever(db, embedding.NewClient(provider, nil), nil, testSearchConfig())

	scored, err := retriever.Search(context.Background(), "kb-1", "solda")
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "chunk-a", scored[0].Chunk.ID)
}

func TestHybridSearchLexicalFallbackWhenEmbeddingFails(t *testing.T) {
	db := newTestDB(t)
	insertChunk(t, db, "chunk-a", "kb-1", "manual de solda", []float64{1, 0})

	provider := &fakeEmbeddingProvider{err: fmt.Errorf("embedding service down")}
	retriever := NewHybridRetriever(db, embedding.NewClient(provider, nil), nil, testSearchConfig())

	scored, err := retriever.Search(context.Background(), "kb-1", "solda")
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "chunk-a", scored[0].Chunk.ID)
	assert.Zero(t, scored[0].SemanticScore)
	assert.Greater(t, scored[0].LexicalScore, 0.0)
}

func TestRetrieveRelevantChunksThreshold(t *testing.T) {
	db := newTestDB(t)
	insertChunk(t, db, "chunk-a", "kb-1", "conteudo qualquer", []float64{1, 0})

	provider := &fakeEmbeddingProvider{vectors: map[string][]float64{"pergunta distante": {0, 1}}}

	cfg := testSearchConfig()
	cfg.RAGThreshold = 0.5
	retriever := NewHybridRetriever(db, embedding.NewClient(provider, nil), nil, cfg)

	// 语义零分、词法不命中，超过阈值的块不存在
	scored, err := retriever.RetrieveRelevantChunks(context.Background(), "kb-1", "pergunta distante")
	require.NoError(t, err)
	assert.Empty(t, scored)
}

func TestRetrieveRelevantChunksWithReranker(t *testing.T) {
	db := newTestDB(t)
	insertChunk(t, db, "chunk-a", "kb-1", "texto a sobre solda", []float64{1, 0})
	insertChunk(t, db, "chunk-b", "kb-1", "texto b sobre solda", []float64{0.9, 0.1})

	provider := &fakeEmbeddingProvider{vectors: map[string][]float64{"solda": {1, 0}}}

	// 候选超过 top-K 时整个过滤集参与重排，K 之外的块也能被提升
	chat := &fakeChatProvider{answers: []string{"1: 2", "1: 9"}}
	cfg := testSearchConfig()
	cfg.EnableReranking = true
	cfg.RerankTopK = 1
	retriever := NewHybridRetriever(db, embedding.NewClient(provider, nil), NewReranker(chat, 1, true), cfg)

	scored, err := retriever.RetrieveRelevantChunks(context.Background(), "kb-1", "solda")
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "chunk-b", scored[0].Chunk.ID)
}

func TestRetrieveRelevantChunksTopKCap(t *testing.T) {
	db := newTestDB(t)
	insertChunk(t, db, "chunk-a", "kb-1", "texto a sobre solda", []float64{1, 0})
	insertChunk(t, db, "chunk-b", "kb-1", "texto b sobre solda", []float64{0.9, 0.1})
	insertChunk(t, db, "chunk-c", "kb-1", "texto c sobre solda", []float64{0.8, 0.2})

	provider := &fakeEmbeddingProvider{vectors: map[string][]float64{"solda": {1, 0}}}

	// 没有重排器时也要截断到 top-K
	cfg := testSearchConfig()
	cfg.RerankTopK = 2
	retriever := NewHybridRetriever(db, embedding.NewClient(provider, nil), nil, cfg)

	scored, err := retriever.RetrieveRelevantChunks(context.Background(), "kb-1", "solda")
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "chunk-a", scored[0].Chunk.ID)
	assert.Equal(t, "chunk-b", scored[1].Chunk.ID)
}

func TestSanitizeFTSQuery(t *testing.T) {
	assert.Equal(t, "solda MIG", sanitizeFTSQuery(`solda "MIG*" ()`))
	assert.Equal(t, "ligação elétrica", sanitizeFTSQuery("ligação: elétrica!"))
	assert.Equal(t, "", sanitizeFTSQuery(`"*:()"`))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float64{1, 0}, []float64{1, 0, 0}))
	assert.Zero(t, cosineSimilarity([]float64{0, 0}, []float64{1, 0}))
}
