package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ==================== 检索 API ====================

type searchRequest struct {
	Query string `json:"query" binding:"required"`
}

type searchHit struct {
	ChunkID       string  `json:"chunk_id"`
	SourceID      string  `json:"source_id"`
	SourceName    string  `json:"source_name,omitempty"`
	Text          string  `json:"text"`
	SemanticScore float64 `json:"semantic_score"`
	LexicalScore  float64 `json:"lexical_score"`
	CombinedScore float64 `json:"combined_score"`
	RerankScore   float64 `json:"rerank_score,omitempty"`
}

// handleSearch 对知识库执行混合检索
func (s *HTTPGinServer) handleSearch(c *gin.Context) {
	kbID := c.Param("id")
	if _, err := s.kbs.GetKnowledgeBase(kbID); err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "knowledge base not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}

	chunks, err := s.retriever.RetrieveRelevantChunks(c.Request.Context(), kbID, req.Query)
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	sourceIDs := make([]string, 0, len(chunks))
	for _, sc := range chunks {
		sourceIDs = append(sourceIDs, sc.Chunk.SourceID)
	}
	names, err := s.sources.SourceNames(sourceIDs)
	if err != nil {
		names = map[string]string{}
	}

	hits := make([]searchHit, 0, len(chunks))
	for _, sc := range chunks {
		hits = append(hits, searchHit{
			ChunkID:       sc.Chunk.ID,
			SourceID:      sc.Chunk.SourceID,
			SourceName:    names[sc.Chunk.SourceID],
			Text:          sc.Chunk.Text,
			SemanticScore: sc.SemanticScore,
			LexicalScore:  sc.LexicalScore,
			CombinedScore: sc.CombinedScore,
			RerankScore:   sc.RerankScore,
		})
	}

	s.success(c, gin.H{
		"query": req.Query,
		"total": len(hits),
		"hits":  hits,
	})
}
