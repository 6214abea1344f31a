package service

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ximass/lumnia/internal/model"
)

// ChatService 会话服务
type ChatService struct {
	db *gorm.DB
}

// NewChatService 创建会话服务实例
func NewChatService(db *gorm.DB) *ChatService {
	return &ChatService{db: db}
}

// CreateChat 创建会话
func (s *ChatService) CreateChat(username, name, kbID string, personaID *uint) (*model.Chat, error) {
	chat := &model.Chat{
		Username:      username,
		Name:          name,
		KBID:          kbID,
		PersonaID:     personaID,
		LastMessageAt: time.Now(),
	}
	if err := s.db.Create(chat).Error; err != nil {
		return nil, err
	}
	return chat, nil
}

// GetChat 获取会话，只允许属主访问
func (s *ChatService) GetChat(id uint, username string) (*model.Chat, error) {
	var chat model.Chat
	err := s.db.Where("id = ? AND username = ? AND deleted_at IS NULL", id, username).
		First(&chat).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListChats 列出用户的会话，最近活跃的在前
func (s *ChatService) ListChats(username string) ([]model.Chat, error) {
	var chats []model.Chat
	err := s.db.Where("username = ? AND deleted_at IS NULL", username).
		Order("last_message_at DESC").
		Find(&chats).Error
	return chats, err
}

// RenameChat 重命名会话
func (s *ChatService) RenameChat(id uint, username, name string) error {
	result := s.db.Model(&model.Chat{}).
		Where("id = ? AND username = ? AND deleted_at IS NULL", id, username).
		Update("name", name)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetChatPersona 设置会话级人格，nil 表示清除
func (s *ChatService) SetChatPersona(id uint, username string, personaID *uint) error {
	result := s.db.Model(&model.Chat{}).
		Where("id = ? AND username = ? AND deleted_at IS NULL", id, username).
		Update("persona_id", personaID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteChat 软删除会话，消息保留
func (s *ChatService) DeleteChat(id uint, username string) error {
	now := time.Now()
	result := s.db.Model(&model.Chat{}).
		Where("id = ? AND username = ? AND deleted_at IS NULL", id, username).
		Update("deleted_at", &now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateMessage 登记用户提问，回答稍后补写
func (s *ChatService) CreateMessage(chatID uint, username, text string) (*model.Message, error) {
	message := &model.Message{
		ChatID:   chatID,
		Username: username,
		Text:     text,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		return tx.Model(&model.Chat{}).Where("id = ?", chatID).
			Update("last_message_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// SetMessageAnswer 补写回答并登记引用的知识块
func (s *ChatService) SetMessageAnswer(messageID uint, answer string, sources []model.InformationSource) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Message{}).Where("id = ?", messageID).Update("answer", answer)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		for i := range sources {
			sources[i].MessageID = messageID
		}
		if len(sources) > 0 {
			if err := tx.Create(&sources).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListMessages 列出会话消息，按时间正序
func (s *ChatService) ListMessages(chatID uint) ([]model.Message, error) {
	var messages []model.Message
	err := s.db.Where("chat_id = ?", chatID).Order("id ASC").Find(&messages).Error
	return messages, err
}

// RecentMessages 取最近 limit 条已回答的消息，按时间正序返回
// 生成时作为会话上下文
func (s *ChatService) RecentMessages(chatID uint, limit int) ([]model.Message, error) {
	var messages []model.Message
	err := s.db.Where("chat_id = ? AND answer != ''", chatID).
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// 倒序查询，倒回正序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ClearMessages 清空会话历史，引用的知识块记录一并删除
func (s *ChatService) ClearMessages(chatID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var messageIDs []uint
		if err := tx.Model(&model.Message{}).Where("chat_id = ?", chatID).
			Pluck("id", &messageIDs).Error; err != nil {
			return err
		}
		if len(messageIDs) > 0 {
			if err := tx.Where("message_id IN ?", messageIDs).
				Delete(&model.InformationSource{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("chat_id = ?", chatID).Delete(&model.Message{}).Error
	})
}

// MessageSources 列出消息引用的知识块
func (s *ChatService) MessageSources(messageID uint) ([]model.InformationSource, error) {
	var sources []model.InformationSource
	err := s.db.Where("message_id = ?", messageID).Order("id ASC").Find(&sources).Error
	return sources, err
}

// ResolvePersona 解析生效人格: 会话级优先，其次用户默认，都没有返回 nil
// 停用的人格视同不存在
func (s *ChatService) ResolvePersona(chat *model.Chat) (*model.Persona, error) {
	if chat.PersonaID != nil {
		persona, err := s.activePersona(*chat.PersonaID)
		if err != nil {
			return nil, err
		}
		if persona != nil {
			return persona, nil
		}
	}

	var userPersona model.UserPersona
	err := s.db.Where("username = ?", chat.Username).First(&userPersona).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return s.activePersona(userPersona.PersonaID)
}

func (s *ChatService) activePersona(id uint) (*model.Persona, error) {
	var persona model.Persona
	err := s.db.Where("id = ? AND active = ?", id, true).First(&persona).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &persona, nil
}
