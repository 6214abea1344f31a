package ingest

import (
	"fmt"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"github.com/hibiken/asynq"

	"github.com/ximass/lumnia/internal/config"
	"github.com/ximass/lumnia/internal/model"
)

// Queue 摄取任务入队器
type Queue struct {
	client *asynq.Client
}

// RedisOpt 根据配置生成 asynq 的 Redis 连接参数
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewQueue 创建入队器
func NewQueue(redisOpt asynq.RedisClientOpt) *Queue {
	return &Queue{client: asynq.NewClient(redisOpt)}
}

// EnqueueParse 投递解析任务，文档进入 queued 状态由调用方负责
func (q *Queue) EnqueueParse(sourceID string) error {
	task, err := NewParseTask(sourceID)
	if err != nil {
		return err
	}
	info, err := q.client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("failed to enqueue parse task: %w", err)
	}
	logx.Info("Enqueued parse task %s for source %s", info.ID, sourceID)
	return nil
}

// EnqueueEmbed 投递嵌入任务
func (q *Queue) EnqueueEmbed(payload EmbedPayload) error {
	task, err := NewEmbedTask(payload)
	if err != nil {
		return err
	}
	if _, err := q.client.Enqueue(task); err != nil {
		return fmt.Errorf("failed to enqueue embed task: %w", err)
	}
	return nil
}

// EnqueueUpsert 投递入库任务
func (q *Queue) EnqueueUpsert(payload UpsertPayload) error {
	task, err := NewUpsertTask(payload)
	if err != nil {
		return err
	}
	if _, err := q.client.Enqueue(task); err != nil {
		return fmt.Errorf("failed to enqueue upsert task: %w", err)
	}
	return nil
}

// Close 关闭底层连接
func (q *Queue) Close() error {
	return q.client.Close()
}

// StatusUpdater 失败处理只需要改状态，避免反向依赖完整服务
type StatusUpdater interface {
	UpdateStatus(id, status string) error
	GetSource(id string) (*model.Source, error)
}
