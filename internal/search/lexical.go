package search

import (
	"fmt"
	"strings"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"gorm.io/gorm"
)

// LexicalHit FTS5 命中结果，Score 为 -bm25，越大越相关
type LexicalHit struct {
	ChunkID string
	Score   float64
}

// searchLexical FTS5 全文检索，带三级降级:
// 原始查询 → 短语查询 → 词条 AND 查询
func searchLexical(db *gorm.DB, kbID, query string, limit int) ([]LexicalHit, error) {
	cleaned := sanitizeFTSQuery(query)
	if cleaned == "" {
		logx.Warn("FTS query is empty after sanitization, original: %s", query)
		return []LexicalHit{}, nil
	}

	candidates := []string{
		cleaned,
		fmt.Sprintf("%q", cleaned),
		strings.Join(strings.Fields(cleaned), " AND "),
	}

	var lastErr error
	for _, ftsQuery := range candidates {
		hits, err := runFTSQuery(db, kbID, ftsQuery, limit)
		if err != nil {
			lastErr = err
			logx.Warn("FTS query %q failed, trying fallback: %v", ftsQuery, err)
			continue
		}
		if len(hits) > 0 {
			return hits, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("lexical search failed: %w", lastErr)
	}
	return []LexicalHit{}, nil
}

func runFTSQuery(db *gorm.DB, kbID, ftsQuery string, limit int) ([]LexicalHit, error) {
	sql := `
		SELECT
			c.id AS chunk_id,
			-bm25(chunks_fts) AS score
		FROM chunks c
		JOIN chunks_fts f ON c.rowid = f.rowid
		WHERE chunks_fts MATCH ?
		AND c.kb_id = ?
		ORDER BY score DESC
		LIMIT ?
	`

	var results []struct {
		ChunkID string  `gorm:"column:chunk_id"`
		Score   float64 `gorm:"column:score"`
	}

	if err := db.Raw(sql, ftsQuery, kbID, limit).Scan(&results).Error; err != nil {
		return nil, err
	}

	hits := make([]LexicalHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, LexicalHit{ChunkID: res.ChunkID, Score: res.Score})
	}
	return hits, nil
}

// sanitizeFTSQuery 移除 FTS5 特殊字符，只保留字母、数字和空格
// 多语言文本里带重音的字符也要保留
func sanitizeFTSQuery(query string) string {
	var result []rune
	for _, r := range query {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			result = append(result, r)
		case r >= '0' && r <= '9':
			result = append(result, r)
		case r >= 0x00C0 && r <= 0x024F: // 拉丁扩展，覆盖葡语重音
			result = append(result, r)
		case r >= 0x4e00 && r <= 0x9fa5:
			result = append(result, r)
		case r == ' ':
			result = append(result, r)
		}
	}

	cleaned := strings.TrimSpace(string(result))
	return strings.Join(strings.Fields(cleaned), " ")
}
