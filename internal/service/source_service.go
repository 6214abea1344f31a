package service

import (
	"encoding/json"
	"fmt"
	"time"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ximass/lumnia/internal/model"
)

// SourceService 文档服务，维护 Source 记录与状态机
type SourceService struct {
	db *gorm.DB
}

// NewSourceService 创建文档服务实例
func NewSourceService(db *gorm.DB) *SourceService {
	return &SourceService{db: db}
}

// CreateSource 登记上传的文档，初始状态 uploaded
func (s *SourceService) CreateSource(kbID, sourceType, identifier string) (*model.Source, error) {
	source := &model.Source{
		ID:               uuid.New().String(),
		KBID:             kbID,
		SourceType:       sourceType,
		SourceIdentifier: identifier,
		Status:           model.SourceStatusUploaded,
	}
	if err := s.db.Create(source).Error; err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}
	return source, nil
}

// GetSource 根据ID获取文档
func (s *SourceService) GetSource(id string) (*model.Source, error) {
	var source model.Source
	if err := s.db.First(&source, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &source, nil
}

// ListSources 列出知识库下的文档
func (s *SourceService) ListSources(kbID string) ([]model.Source, error) {
	var sources []model.Source
	query := s.db.Order("created_at DESC")
	if kbID != "" {
		query = query.Where("kb_id = ?", kbID)
	}
	if err := query.Find(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}

// UpdateStatus 更新文档状态
func (s *SourceService) UpdateStatus(id, status string) error {
	result := s.db.Model(&model.Source{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	logx.Debug("Source %s status -> %s", id, status)
	return nil
}

// UpdateContentHash 记录最近一次成功提取文本的哈希
func (s *SourceService) UpdateContentHash(id, hash string) error {
	return s.db.Model(&model.Source{}).Where("id = ?", id).Update("content_hash", hash).Error
}

// SetProcessingStats 把处理统计写入 metadata JSON
func (s *SourceService) SetProcessingStats(id string, stats map[string]any) error {
	var source model.Source
	if err := s.db.First(&source, "id = ?", id).Error; err != nil {
		return err
	}

	metadata := map[string]any{}
	if source.Metadata != "" {
		if err := json.Unmarshal([]byte(source.Metadata), &metadata); err != nil {
			logx.Warn("Failed to parse metadata for source %s: %v", id, err)
			metadata = map[string]any{}
		}
	}
	metadata["processing_stats"] = stats

	data, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	return s.db.Model(&model.Source{}).Where("id = ?", id).Update("metadata", string(data)).Error
}

// CountChunks 统计文档下已入库的块数
func (s *SourceService) CountChunks(sourceID string) (int64, error) {
	var count int64
	err := s.db.Model(&model.Chunk{}).Where("source_id = ?", sourceID).Count(&count).Error
	return count, err
}

// SourceNames 批量取文档标识，用于回答里的出处标注
func (s *SourceService) SourceNames(ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	var sources []model.Source
	if err := s.db.Select("id", "source_identifier").Where("id IN ?", ids).Find(&sources).Error; err != nil {
		return nil, err
	}
	names := make(map[string]string, len(sources))
	for _, source := range sources {
		names[source.ID] = source.SourceIdentifier
	}
	return names, nil
}

// DeleteSource 删除文档及其块，FTS 索引由触发器同步清理
func (s *SourceService) DeleteSource(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&model.Source{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// RetrySource 把失败的文档重新置为可处理状态
// 只允许在失败状态下触发，处理中的文档拒绝重试
func (s *SourceService) RetrySource(id string) (*model.Source, error) {
	source, err := s.GetSource(id)
	if err != nil {
		return nil, err
	}

	if source.IsProcessing() {
		return nil, fmt.Errorf("source %s is still being processed", id)
	}
	if !source.IsFailedStatus() {
		return nil, fmt.Errorf("source %s is not in a failed state (status=%s)", id, source.Status)
	}

	// 清掉内容哈希，强制解析阶段完整重跑
	err = s.db.Model(&model.Source{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":       model.SourceStatusRetry,
			"content_hash": "",
			"updated_at":   time.Now(),
		}).Error
	if err != nil {
		return nil, err
	}
	source.Status = model.SourceStatusRetry
	source.ContentHash = ""
	return source, nil
}
