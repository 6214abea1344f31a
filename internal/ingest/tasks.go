package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ximass/lumnia/internal/chunker"
	"github.com/ximass/lumnia/internal/model"
)

// 摄取流水线的三个阶段，每个阶段一种任务
const (
	TaskTypeParse  = "ingest:parse"
	TaskTypeEmbed  = "ingest:embed"
	TaskTypeUpsert = "ingest:upsert"
)

// QueueName 摄取任务专用队列
const QueueName = "ingest"

const maxRetry = 3

// 各阶段重试的固定等待时间
const (
	parseRetryDelay  = 60 * time.Second
	embedRetryDelay  = 120 * time.Second
	upsertRetryDelay = 60 * time.Second
)

// ParsePayload 解析阶段载荷
type ParsePayload struct {
	SourceID string `json:"source_id"`
}

// EmbedPayload 嵌入阶段载荷，携带解析阶段产出的候选块
type EmbedPayload struct {
	SourceID    string              `json:"source_id"`
	ContentHash string              `json:"content_hash"`
	Candidates  []chunker.Candidate `json:"candidates"`
}

// UpsertPayload 入库阶段载荷，候选块已带向量
type UpsertPayload struct {
	SourceID    string              `json:"source_id"`
	ContentHash string              `json:"content_hash"`
	Candidates  []chunker.Candidate `json:"candidates"`
}

// NewParseTask 创建解析任务
func NewParseTask(sourceID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ParsePayload{SourceID: sourceID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeParse, payload,
		asynq.Queue(QueueName), asynq.MaxRetry(maxRetry)), nil
}

// NewEmbedTask 创建嵌入任务
func NewEmbedTask(payload EmbedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeEmbed, data,
		asynq.Queue(QueueName), asynq.MaxRetry(maxRetry)), nil
}

// NewUpsertTask 创建入库任务
func NewUpsertTask(payload UpsertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeUpsert, data,
		asynq.Queue(QueueName), asynq.MaxRetry(maxRetry)), nil
}

// RetryDelay 各阶段重试采用固定退避
func RetryDelay(_ int, _ error, task *asynq.Task) time.Duration {
	switch task.Type() {
	case TaskTypeEmbed:
		return embedRetryDelay
	case TaskTypeUpsert:
		return upsertRetryDelay
	default:
		return parseRetryDelay
	}
}

// FailureStatus 任务类型对应的终态失败状态
func FailureStatus(taskType string) string {
	switch taskType {
	case TaskTypeEmbed:
		return model.SourceStatusEmbeddingFailed
	case TaskTypeUpsert:
		return model.SourceStatusUpsertFailed
	case TaskTypeParse:
		return model.SourceStatusFailed
	default:
		return model.SourceStatusFailed
	}
}

// sourceIDFromPayload 从任意阶段载荷里取 source_id，用于失败处理
func sourceIDFromPayload(payload []byte) (string, error) {
	var envelope struct {
		SourceID string `json:"source_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("failed to decode task payload: %w", err)
	}
	return envelope.SourceID, nil
}
