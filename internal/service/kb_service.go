package service

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ximass/lumnia/internal/model"
)

// KnowledgeBaseService 知识库服务
type KnowledgeBaseService struct {
	db *gorm.DB
}

// NewKnowledgeBaseService 创建知识库服务实例
func NewKnowledgeBaseService(db *gorm.DB) *KnowledgeBaseService {
	return &KnowledgeBaseService{db: db}
}

// CreateKnowledgeBase 创建知识库
func (s *KnowledgeBaseService) CreateKnowledgeBase(name, description string) (*model.KnowledgeBase, error) {
	kb := &model.KnowledgeBase{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
	}
	if err := s.db.Create(kb).Error; err != nil {
		return nil, fmt.Errorf("failed to create knowledge base: %w", err)
	}
	return kb, nil
}

// GetKnowledgeBase 根据ID获取知识库
func (s *KnowledgeBaseService) GetKnowledgeBase(id string) (*model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	if err := s.db.First(&kb, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &kb, nil
}

// ListKnowledgeBases 获取所有知识库
func (s *KnowledgeBaseService) ListKnowledgeBases() ([]model.KnowledgeBase, error) {
	var kbs []model.KnowledgeBase
	if err := s.db.Order("created_at DESC").Find(&kbs).Error; err != nil {
		return nil, err
	}
	return kbs, nil
}

// DeleteKnowledgeBase 删除知识库及其全部文档与块
func (s *KnowledgeBaseService) DeleteKnowledgeBase(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("kb_id = ?", id).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("kb_id = ?", id).Delete(&model.Source{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.KnowledgeBase{}, "id = ?", id).Error
	})
}
