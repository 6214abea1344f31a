package model

import "time"

// Persona 人格设定，作为生成时的系统指令
type Persona struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Name           string    `json:"name" gorm:"size:255"`
	Description    string    `json:"description" gorm:"type:text"`
	Instructions   string    `json:"instructions" gorm:"type:text"`
	ResponseFormat string    `json:"response_format" gorm:"type:text"`
	Creativity     float64   `json:"creativity"` // 生成温度，[0,1]
	Active         bool      `json:"active" gorm:"index"`
}

// TableName 指定表名
func (Persona) TableName() string {
	return "personas"
}

// SystemInstructions 拼接指令与响应格式提示
func (p *Persona) SystemInstructions() string {
	if p.ResponseFormat == "" {
		return p.Instructions
	}
	return p.Instructions + "\n\nFormato de resposta: " + p.ResponseFormat
}

// UserPersona 用户默认人格映射
type UserPersona struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Username  string    `json:"username" gorm:"size:100;uniqueIndex"`
	PersonaID uint      `json:"persona_id"`
}

// TableName 指定表名
func (UserPersona) TableName() string {
	return "user_personas"
}
