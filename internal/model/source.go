package model

import "time"

// Source 状态机取值
// 正常链路: uploaded/queued -> processing -> chunked -> embedding -> embedding_complete -> processed
// 失败状态: failed / embedding_failed / upsert_failed，外部重试动作置为 retry
const (
	SourceStatusUploaded          = "uploaded"
	SourceStatusQueued            = "queued"
	SourceStatusProcessing        = "processing"
	SourceStatusChunked           = "chunked"
	SourceStatusEmbedding         = "embedding"
	SourceStatusEmbeddingComplete = "embedding_complete"
	SourceStatusProcessed         = "processed"
	SourceStatusFailed            = "failed"
	SourceStatusEmbeddingFailed   = "embedding_failed"
	SourceStatusUpsertFailed      = "upsert_failed"
	SourceStatusRetry             = "retry"
)

// Source 知识库原始文档
type Source struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	KBID             string    `json:"kb_id" gorm:"column:kb_id;size:36;index"`
	SourceType       string    `json:"source_type" gorm:"size:20"` // txt / md / json / jsonl
	SourceIdentifier string    `json:"source_identifier" gorm:"size:512"`
	ContentHash      string    `json:"content_hash" gorm:"size:64"` // 最近一次成功提取文本的 sha256
	Status           string    `json:"status" gorm:"size:32;index"`
	Metadata         string    `json:"metadata" gorm:"type:text"` // JSON，含 processing_stats
}

// TableName 指定表名
func (Source) TableName() string {
	return "sources"
}

// IsFailedStatus 是否处于可重试的失败状态
func (s *Source) IsFailedStatus() bool {
	switch s.Status {
	case SourceStatusFailed, SourceStatusEmbeddingFailed, SourceStatusUpsertFailed:
		return true
	}
	return false
}

// IsProcessing 是否处于处理中状态(不允许重复触发)
func (s *Source) IsProcessing() bool {
	switch s.Status {
	case SourceStatusProcessing, SourceStatusChunked, SourceStatusEmbedding:
		return true
	}
	return false
}
