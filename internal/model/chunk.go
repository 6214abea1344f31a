package model

import "time"

// Chunk 检索单元，来自 Source 切分
// ID 是 (source_id, chunk_index, text) 的确定性哈希，重复摄取时天然幂等
type Chunk struct {
	ID             string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	SourceID       string    `json:"source_id" gorm:"size:36;index"`
	KBID           string    `json:"kb_id" gorm:"column:kb_id;size:36;index"`
	ChunkIndex     int       `json:"chunk_index"`
	Text           string    `json:"text" gorm:"type:text"`
	TokenCount     int       `json:"token_count"`
	Embedding      string    `json:"embedding" gorm:"type:text"` // JSON 格式的向量，空表示尚未嵌入
	EmbeddingModel string    `json:"embedding_model" gorm:"size:64"`
	Metadata       string    `json:"metadata" gorm:"type:text"` // JSON
}

// TableName 指定表名
func (Chunk) TableName() string {
	return "chunks"
}
