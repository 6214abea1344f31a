package service

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ximass/lumnia/internal/model"
)

// PersonaService 人格服务
type PersonaService struct {
	db *gorm.DB
}

// NewPersonaService 创建人格服务实例
func NewPersonaService(db *gorm.DB) *PersonaService {
	return &PersonaService{db: db}
}

// CreatePersona 创建人格
func (s *PersonaService) CreatePersona(persona *model.Persona) error {
	return s.db.Create(persona).Error
}

// GetPersona 根据ID获取人格
func (s *PersonaService) GetPersona(id uint) (*model.Persona, error) {
	var persona model.Persona
	if err := s.db.First(&persona, id).Error; err != nil {
		return nil, err
	}
	return &persona, nil
}

// ListPersonas 列出人格，activeOnly 时过滤停用的
func (s *PersonaService) ListPersonas(activeOnly bool) ([]model.Persona, error) {
	var personas []model.Persona
	query := s.db.Order("name ASC")
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	err := query.Find(&personas).Error
	return personas, err
}

// UpdatePersona 更新人格
func (s *PersonaService) UpdatePersona(persona *model.Persona) error {
	return s.db.Save(persona).Error
}

// DeletePersona 删除人格，清理引用它的会话与用户默认
func (s *PersonaService) DeletePersona(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Chat{}).Where("persona_id = ?", id).
			Update("persona_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("persona_id = ?", id).Delete(&model.UserPersona{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Persona{}, id).Error
	})
}

// SetUserDefault 设置用户默认人格，重复设置覆盖旧值
func (s *PersonaService) SetUserDefault(username string, personaID uint) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"persona_id", "updated_at"}),
	}).Create(&model.UserPersona{
		Username:  username,
		PersonaID: personaID,
	}).Error
}

// ClearUserDefault 清除用户默认人格
func (s *PersonaService) ClearUserDefault(username string) error {
	return s.db.Where("username = ?", username).Delete(&model.UserPersona{}).Error
}
