package database

import (
	"fmt"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"gorm.io/gorm"

	"github.com/ximass/lumnia/internal/model"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.KnowledgeBase{},
		&model.Source{},
		&model.Chunk{},
		&model.Persona{},
		&model.UserPersona{},
		&model.Chat{},
		&model.Message{},
		&model.InformationSource{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}

	// 创建全文索引虚拟表
	if err := createChunkFTS(db); err != nil {
		return fmt.Errorf("failed to create fts table: %w", err)
	}

	return nil
}

// createChunkFTS 创建 chunks 的 FTS5 虚拟表与同步触发器
// 词法检索走这张表，rank 由 bm25 给出
func createChunkFTS(db *gorm.DB) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			text,
			content='chunks',
			content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS chunks_fts_insert AFTER INSERT ON chunks BEGIN
			INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_fts_delete AFTER DELETE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_fts_update AFTER UPDATE OF text ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
			INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
	}

	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}

	logx.Debug("Chunk FTS5 table and triggers ready")
	return nil
}
