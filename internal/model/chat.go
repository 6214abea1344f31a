package model

import "time"

// Chat 会话模型
type Chat struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at" gorm:"index"`
	Username      string     `json:"username" gorm:"index;size:100"` // 所属用户
	Name          string     `json:"name" gorm:"size:255"`
	KBID          string     `json:"kb_id" gorm:"column:kb_id;size:36"` // 关联知识库，可为空
	PersonaID     *uint      `json:"persona_id"`                        // 会话级人格，可为空
	LastMessageAt time.Time  `json:"last_message_at" gorm:"index"`
}

// TableName 指定表名
func (Chat) TableName() string {
	return "chats"
}
