package model

import "time"

// Message 消息模型，一条记录包含提问与回答
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ChatID    uint      `json:"chat_id" gorm:"index"`
	Username  string    `json:"username" gorm:"size:100"`
	Text      string    `json:"text" gorm:"type:text"`
	Answer    string    `json:"answer" gorm:"type:text"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "messages"
}

// InformationSource 回答引用的知识块内容，随消息保存
type InformationSource struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	MessageID uint      `json:"message_id" gorm:"index"`
	ChunkID   string    `json:"chunk_id" gorm:"size:64"`
	Content   string    `json:"content" gorm:"type:text"`
}

// TableName 指定表名
func (InformationSource) TableName() string {
	return "information_sources"
}
