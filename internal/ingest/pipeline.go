package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ximass/lumnia/internal/chunker"
	"github.com/ximass/lumnia/internal/config"
	"github.com/ximass/lumnia/internal/embedding"
	"github.com/ximass/lumnia/internal/model"
	"github.com/ximass/lumnia/internal/service"
)

// upsertBatchSize 入库阶段每个事务写入的块数
const upsertBatchSize = 100

// enqueuer 下一阶段投递接口，测试时可替换
type enqueuer interface {
	EnqueueEmbed(payload EmbedPayload) error
	EnqueueUpsert(payload UpsertPayload) error
}

// Pipeline 摄取流水线: 解析切分 -> 嵌入 -> 入库
// 每个阶段是一个独立任务，状态机记录在 Source.Status
type Pipeline struct {
	db       *gorm.DB
	sources  *service.SourceService
	chunker  *chunker.Chunker
	embedder *embedding.Client
	queue    enqueuer
	storage  config.StorageConfig
	chunking config.ChunkingConfig
}

// NewPipeline 创建摄取流水线
func NewPipeline(db *gorm.DB, sources *service.SourceService, textChunker *chunker.Chunker,
	embedder *embedding.Client, queue *Queue, storage config.StorageConfig, chunking config.ChunkingConfig) *Pipeline {
	return &Pipeline{
		db:       db,
		sources:  sources,
		chunker:  textChunker,
		embedder: embedder,
		queue:    queue,
		storage:  storage,
		chunking: chunking,
	}
}

// SourceFilePath 文档原始文件的落盘位置
func (p *Pipeline) SourceFilePath(sourceID string) string {
	return filepath.Join(p.storage.SourcesDir, sourceID)
}

// HandleParse 解析阶段
// 读文件、提取文本、切分，产出候选块交给嵌入阶段
// 内容哈希没变且块已入库时直接标记 processed
func (p *Pipeline) HandleParse(ctx context.Context, task *asynq.Task) error {
	var payload ParsePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid parse payload: %v: %w", err, asynq.SkipRetry)
	}

	source, err := p.sources.GetSource(payload.SourceID)
	if err != nil {
		return fmt.Errorf("source %s not found: %v: %w", payload.SourceID, err, asynq.SkipRetry)
	}

	if err := p.sources.UpdateStatus(source.ID, model.SourceStatusProcessing); err != nil {
		return err
	}

	data, err := os.ReadFile(p.SourceFilePath(source.ID))
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		if err := p.sources.UpdateStatus(source.ID, model.SourceStatusFailed); err != nil {
			logx.Warn("Failed to mark source %s failed: %v", source.ID, err)
		}
		return fmt.Errorf("source %s produced no text: %w", source.ID, asynq.SkipRetry)
	}

	contentHash := fmt.Sprintf("%x", sha256.Sum256(data))
	if contentHash == source.ContentHash {
		count, err := p.sources.CountChunks(source.ID)
		if err == nil && count > 0 {
			logx.Info("Source %s unchanged (%d chunks), skipping re-ingestion", source.ID, count)
			return p.sources.UpdateStatus(source.ID, model.SourceStatusProcessed)
		}
	}

	candidates, err := p.chunkByType(source, text)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		if err := p.sources.UpdateStatus(source.ID, model.SourceStatusFailed); err != nil {
			logx.Warn("Failed to mark source %s failed: %v", source.ID, err)
		}
		return fmt.Errorf("no chunks created for source %s: %w", source.ID, asynq.SkipRetry)
	}

	// KB 归属在切分时就写进候选块
	for i := range candidates {
		if candidates[i].Metadata == nil {
			candidates[i].Metadata = map[string]string{}
		}
		candidates[i].Metadata["kb_id"] = source.KBID
	}

	if err := p.sources.UpdateStatus(source.ID, model.SourceStatusChunked); err != nil {
		return err
	}

	logx.Info("Source %s parsed into %d chunks", source.ID, len(candidates))
	return p.queue.EnqueueEmbed(EmbedPayload{
		SourceID:    source.ID,
		ContentHash: contentHash,
		Candidates:  candidates,
	})
}

// chunkByType 按文档类型选择切分策略
func (p *Pipeline) chunkByType(source *model.Source, text string) ([]chunker.Candidate, error) {
	switch strings.ToLower(source.SourceType) {
	case "json":
		if !json.Valid([]byte(strings.TrimSpace(text))) {
			return nil, fmt.Errorf("source %s is not valid JSON: %w", source.ID, asynq.SkipRetry)
		}
		return p.chunker.ChunkJSON(text, source.ID), nil
	case "jsonl":
		return p.chunker.ChunkJSONL(text, source.ID), nil
	default:
		// txt / md 走滑动窗口
		return p.chunker.Chunk(text, source.ID, p.chunking.MaxTokens, p.chunking.OverlapTokens), nil
	}
}

// HandleEmbed 嵌入阶段
// 已入库且带向量的块直接跳过，只嵌入新增或变化的块
func (p *Pipeline) HandleEmbed(ctx context.Context, task *asynq.Task) error {
	var payload EmbedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid embed payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := p.sources.UpdateStatus(payload.SourceID, model.SourceStatusEmbedding); err != nil {
		return err
	}

	// 块 ID 是内容哈希，已有向量的块无需重嵌
	ids := make([]string, 0, len(payload.Candidates))
	for _, candidate := range payload.Candidates {
		ids = append(ids, candidate.ChunkID)
	}

	var existing []string
	if err := p.db.Model(&model.Chunk{}).
		Where("id IN ? AND embedding != ''", ids).
		Pluck("id", &existing).Error; err != nil {
		return fmt.Errorf("failed to check existing chunks: %w", err)
	}
	existingSet := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		existingSet[id] = struct{}{}
	}

	pending := make([]int, 0, len(payload.Candidates))
	texts := make([]string, 0, len(payload.Candidates))
	for i, candidate := range payload.Candidates {
		if _, ok := existingSet[candidate.ChunkID]; ok {
			continue
		}
		pending = append(pending, i)
		texts = append(texts, candidate.Text)
	}

	if len(texts) > 0 {
		vectors, err := p.embedder.GetEmbeddings(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding stage failed for source %s: %w", payload.SourceID, err)
		}
		for i, idx := range pending {
			payload.Candidates[idx].Embedding = vectors[i]
		}
	}

	if err := p.sources.UpdateStatus(payload.SourceID, model.SourceStatusEmbeddingComplete); err != nil {
		return err
	}

	logx.Info("Source %s: embedded %d chunks, %d reused", payload.SourceID, len(texts), len(existing))
	return p.queue.EnqueueUpsert(UpsertPayload(payload))
}

// HandleUpsert 入库阶段
// 分批事务写入，清理本次摄取不再出现的旧块，最后登记统计并标记 processed
func (p *Pipeline) HandleUpsert(ctx context.Context, task *asynq.Task) error {
	var payload UpsertPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid upsert payload: %v: %w", err, asynq.SkipRetry)
	}

	source, err := p.sources.GetSource(payload.SourceID)
	if err != nil {
		return fmt.Errorf("source %s not found: %v: %w", payload.SourceID, err, asynq.SkipRetry)
	}

	var existingIDs []string
	if err := p.db.Model(&model.Chunk{}).
		Where("source_id = ?", source.ID).
		Pluck("id", &existingIDs).Error; err != nil {
		return err
	}
	existingSet := make(map[string]struct{}, len(existingIDs))
	for _, id := range existingIDs {
		existingSet[id] = struct{}{}
	}

	created, updated := 0, 0
	keepIDs := make([]string, 0, len(payload.Candidates))

	for start := 0; start < len(payload.Candidates); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(payload.Candidates) {
			end = len(payload.Candidates)
		}
		batch := payload.Candidates[start:end]

		rows := make([]model.Chunk, 0, len(batch))
		for _, candidate := range batch {
			embeddingJSON := ""
			if len(candidate.Embedding) > 0 {
				embeddingJSON, err = embedding.VectorToJSON(candidate.Embedding)
				if err != nil {
					return fmt.Errorf("failed to encode embedding for chunk %s: %w", candidate.ChunkID, err)
				}
			}

			metadataJSON := ""
			if len(candidate.Metadata) > 0 {
				data, err := json.Marshal(candidate.Metadata)
				if err != nil {
					return err
				}
				metadataJSON = string(data)
			}

			rows = append(rows, model.Chunk{
				ID:             candidate.ChunkID,
				SourceID:       source.ID,
				KBID:           source.KBID,
				ChunkIndex:     candidate.ChunkIndex,
				Text:           candidate.Text,
				TokenCount:     candidate.TokenCount,
				Embedding:      embeddingJSON,
				EmbeddingModel: p.embedder.Model(),
				Metadata:       metadataJSON,
			})

			keepIDs = append(keepIDs, candidate.ChunkID)
			if _, ok := existingSet[candidate.ChunkID]; ok {
				updated++
			} else {
				created++
			}
		}

		err := p.db.Transaction(func(tx *gorm.DB) error {
			// 冲突时只允许补写向量: 嵌入阶段复用已有向量的候选块带空向量到这里，
			// 空向量不得覆盖库里已存的
			return tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.Assignments(map[string]any{
					"text":            gorm.Expr("excluded.text"),
					"token_count":     gorm.Expr("excluded.token_count"),
					"embedding":       gorm.Expr("CASE WHEN excluded.embedding != '' THEN excluded.embedding ELSE chunks.embedding END"),
					"embedding_model": gorm.Expr("CASE WHEN excluded.embedding != '' THEN excluded.embedding_model ELSE chunks.embedding_model END"),
					"metadata":        gorm.Expr("excluded.metadata"),
					"updated_at":      gorm.Expr("excluded.updated_at"),
				}),
			}).Create(&rows).Error
		})
		if err != nil {
			return fmt.Errorf("upsert batch failed for source %s: %w", source.ID, err)
		}
	}

	// 清理旧内容切出来、这次不再出现的块
	removed := 0
	if len(existingIDs) > 0 {
		result := p.db.Where("source_id = ?", source.ID)
		if len(keepIDs) > 0 {
			result = result.Where("id NOT IN ?", keepIDs)
		}
		del := result.Delete(&model.Chunk{})
		if del.Error != nil {
			return del.Error
		}
		removed = int(del.RowsAffected)
	}

	total, err := p.sources.CountChunks(source.ID)
	if err != nil {
		return err
	}
	if total == 0 {
		if err := p.sources.UpdateStatus(source.ID, model.SourceStatusFailed); err != nil {
			logx.Warn("Failed to mark source %s failed: %v", source.ID, err)
		}
		return fmt.Errorf("no chunks created for source %s: %w", source.ID, asynq.SkipRetry)
	}

	if err := p.sources.UpdateContentHash(source.ID, payload.ContentHash); err != nil {
		return err
	}
	if err := p.sources.SetProcessingStats(source.ID, map[string]any{
		"chunks_created":    created,
		"chunks_updated":    updated,
		"chunks_removed":    removed,
		"total_chunks":      total,
		"last_processed_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		logx.Warn("Failed to record stats for source %s: %v", source.ID, err)
	}

	logx.Info("Source %s upserted: created=%d, updated=%d, removed=%d",
		source.ID, created, updated, removed)

	return p.sources.UpdateStatus(source.ID, model.SourceStatusProcessed)
}
