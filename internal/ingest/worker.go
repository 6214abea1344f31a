package ingest

import (
	"context"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"github.com/hibiken/asynq"
)

// NewServer 创建摄取工作进程
// 重试耗尽后 ErrorHandler 把文档标记为对应阶段的终态失败
func NewServer(redisOpt asynq.RedisClientOpt, pipeline *Pipeline, sources StatusUpdater, concurrency int) (*asynq.Server, *asynq.ServeMux) {
	if concurrency <= 0 {
		concurrency = 5
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueName: 1,
		},
		RetryDelayFunc: RetryDelay,
		ErrorHandler:   asynq.ErrorHandlerFunc(makeErrorHandler(sources)),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeParse, pipeline.HandleParse)
	mux.HandleFunc(TaskTypeEmbed, pipeline.HandleEmbed)
	mux.HandleFunc(TaskTypeUpsert, pipeline.HandleUpsert)

	return server, mux
}

// makeErrorHandler 任务失败回调
// 最后一次重试也失败时落终态，中间失败只记日志等待下次重试
func makeErrorHandler(sources StatusUpdater) func(ctx context.Context, task *asynq.Task, err error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		sourceID, payloadErr := sourceIDFromPayload(task.Payload())
		if payloadErr != nil {
			logx.Error("Task %s failed with undecodable payload: %v", task.Type(), err)
			return
		}

		retried, _ := asynq.GetRetryCount(ctx)
		maxRetryAllowed, _ := asynq.GetMaxRetry(ctx)

		if retried >= maxRetryAllowed {
			status := FailureStatus(task.Type())
			logx.Error("Task %s for source %s exhausted retries, marking %s: %v",
				task.Type(), sourceID, status, err)
			if updateErr := sources.UpdateStatus(sourceID, status); updateErr != nil {
				logx.Error("Failed to mark source %s as %s: %v", sourceID, status, updateErr)
			}
			return
		}

		logx.Warn("Task %s for source %s failed (retry %d/%d): %v",
			task.Type(), sourceID, retried, maxRetryAllowed, err)
	}
}
