package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ==================== 知识库 API ====================

type createKBRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (s *HTTPGinServer) handleKBCreate(c *gin.Context) {
	var req createKBRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}

	kb, err := s.kbs.CreateKnowledgeBase(req.Name, req.Description)
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, kb)
}

func (s *HTTPGinServer) handleKBList(c *gin.Context) {
	list, err := s.kbs.ListKnowledgeBases()
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{
		"total":           len(list),
		"knowledge_bases": list,
	})
}

func (s *HTTPGinServer) handleKBGet(c *gin.Context) {
	kb, err := s.kbs.GetKnowledgeBase(c.Param("id"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "knowledge base not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, kb)
}

func (s *HTTPGinServer) handleKBDelete(c *gin.Context) {
	if err := s.kbs.DeleteKnowledgeBase(c.Param("id")); err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "knowledge base not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{"deleted": true})
}
