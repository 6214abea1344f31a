package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ximass/lumnia/internal/model"
)

// ==================== 人格 API ====================

type personaRequest struct {
	Name           string  `json:"name" binding:"required"`
	Description    string  `json:"description"`
	Instructions   string  `json:"instructions"`
	ResponseFormat string  `json:"response_format"`
	Creativity     float64 `json:"creativity"`
	Active         *bool   `json:"active"`
}

func (s *HTTPGinServer) handlePersonaCreate(c *gin.Context) {
	var req personaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}

	persona := &model.Persona{
		Name:           req.Name,
		Description:    req.Description,
		Instructions:   req.Instructions,
		ResponseFormat: req.ResponseFormat,
		Creativity:     req.Creativity,
		Active:         true,
	}
	if req.Active != nil {
		persona.Active = *req.Active
	}

	if err := s.personas.CreatePersona(persona); err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, persona)
}

func (s *HTTPGinServer) handlePersonaList(c *gin.Context) {
	activeOnly := c.Query("active") == "true"

	list, err := s.personas.ListPersonas(activeOnly)
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{
		"total":    len(list),
		"personas": list,
	})
}

func (s *HTTPGinServer) handlePersonaGet(c *gin.Context) {
	id, err := personaID(c)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid persona id")
		return
	}

	persona, err := s.personas.GetPersona(id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "persona not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, persona)
}

func (s *HTTPGinServer) handlePersonaUpdate(c *gin.Context) {
	id, err := personaID(c)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid persona id")
		return
	}

	persona, err := s.personas.GetPersona(id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "persona not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	var req personaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}

	persona.Name = req.Name
	persona.Description = req.Description
	persona.Instructions = req.Instructions
	persona.ResponseFormat = req.ResponseFormat
	persona.Creativity = req.Creativity
	if req.Active != nil {
		persona.Active = *req.Active
	}

	if err := s.personas.UpdatePersona(persona); err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, persona)
}

func (s *HTTPGinServer) handlePersonaDelete(c *gin.Context) {
	id, err := personaID(c)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid persona id")
		return
	}

	if err := s.personas.DeletePersona(id); err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "persona not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{"deleted": true})
}

// ==================== 用户默认人格 API ====================

type setUserPersonaRequest struct {
	PersonaID uint `json:"persona_id" binding:"required"`
}

func (s *HTTPGinServer) handleUserPersonaSet(c *gin.Context) {
	var req setUserPersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.personas.GetPersona(req.PersonaID); err != nil {
		s.error(c, http.StatusBadRequest, "persona not found")
		return
	}

	if err := s.personas.SetUserDefault(c.Param("username"), req.PersonaID); err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{"updated": true})
}

func (s *HTTPGinServer) handleUserPersonaClear(c *gin.Context) {
	if err := s.personas.ClearUserDefault(c.Param("username")); err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{"cleared": true})
}

// personaID 解析路径中的人格 ID
func personaID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	return uint(id), err
}
