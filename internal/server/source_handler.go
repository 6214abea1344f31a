package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ximass/lumnia/internal/model"
)

// ==================== 数据源 API ====================

// handleSourceUpload 上传数据源文件并登记记录，文件以 source ID 命名落盘
func (s *HTTPGinServer) handleSourceUpload(c *gin.Context) {
	kbID := c.Param("id")
	if _, err := s.kbs.GetKnowledgeBase(kbID); err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "knowledge base not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		s.error(c, http.StatusBadRequest, "file is required")
		return
	}

	sourceType := c.PostForm("source_type")
	if sourceType == "" {
		sourceType = sourceTypeFromName(file.Filename)
	}

	source, err := s.sources.CreateSource(kbID, sourceType, file.Filename)
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	dst := filepath.Join(s.config.Storage.SourcesDir, source.ID)
	if err := os.MkdirAll(s.config.Storage.SourcesDir, 0o755); err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err := c.SaveUploadedFile(file, dst); err != nil {
		logx.Error("Failed to save uploaded file, source %s: %v", source.ID, err)
		s.error(c, http.StatusInternalServerError, "failed to store uploaded file")
		return
	}

	logx.Info("Source uploaded, id %s, kb %s, file %s, size %d", source.ID, kbID, file.Filename, file.Size)
	s.success(c, source)
}

// sourceTypeFromName 根据文件扩展名推断数据源类型
func sourceTypeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "json"
	case ".jsonl", ".ndjson":
		return "jsonl"
	default:
		return "text"
	}
}

func (s *HTTPGinServer) handleSourceList(c *gin.Context) {
	list, err := s.sources.ListSources(c.Param("id"))
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{
		"total":   len(list),
		"sources": list,
	})
}

func (s *HTTPGinServer) handleSourceGet(c *gin.Context) {
	source, err := s.sources.GetSource(c.Param("id"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "source not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, source)
}

// handleSourceProcess 将数据源投入摄取队列
func (s *HTTPGinServer) handleSourceProcess(c *gin.Context) {
	id := c.Param("id")

	source, err := s.sources.GetSource(id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "source not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	if source.IsProcessing() {
		s.error(c, http.StatusConflict, "source is already being processed")
		return
	}

	if err := s.sources.UpdateStatus(id, model.SourceStatusQueued); err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.queue.EnqueueParse(id); err != nil {
		logx.Error("Failed to enqueue parse task, source %s: %v", id, err)
		s.error(c, http.StatusInternalServerError, "failed to enqueue processing task")
		return
	}

	s.success(c, gin.H{
		"source_id": id,
		"status":    model.SourceStatusQueued,
	})
}

// handleSourceStatus 返回数据源状态与块统计
func (s *HTTPGinServer) handleSourceStatus(c *gin.Context) {
	id := c.Param("id")

	source, err := s.sources.GetSource(id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "source not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	count, err := s.sources.CountChunks(id)
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{
		"source":      source,
		"chunk_count": count,
	})
}

// handleSourceRetry 重新摄取失败的数据源
func (s *HTTPGinServer) handleSourceRetry(c *gin.Context) {
	id := c.Param("id")

	source, err := s.sources.RetrySource(id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "source not found")
			return
		}
		s.error(c, http.StatusConflict, err.Error())
		return
	}

	if err := s.queue.EnqueueParse(id); err != nil {
		logx.Error("Failed to enqueue retry task, source %s: %v", id, err)
		s.error(c, http.StatusInternalServerError, "failed to enqueue processing task")
		return
	}

	s.success(c, source)
}

func (s *HTTPGinServer) handleSourceDelete(c *gin.Context) {
	id := c.Param("id")

	if err := s.sources.DeleteSource(id); err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "source not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	// 落盘文件删除失败不影响记录删除
	if err := os.Remove(filepath.Join(s.config.Storage.SourcesDir, id)); err != nil && !os.IsNotExist(err) {
		logx.Warn("Failed to remove source file, id %s: %v", id, err)
	}

	s.success(c, gin.H{"deleted": true})
}
