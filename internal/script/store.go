// Package script 保存预渲染的台词音频索引。
// 台词音频是持久文件，播放器不会删除它们；只有 Delete 会清理。
package script

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/iabetor/streamvoice/internal/audio"
	"github.com/iabetor/streamvoice/internal/database"
	"github.com/iabetor/streamvoice/internal/logger"
)

// LineKind 区分台词类型。
type LineKind string

const (
	KindSpeech LineKind = "speech"
	KindWait   LineKind = "wait" // 静音等待
)

// Line 是一句已渲染的台词。
type Line struct {
	ScriptID    string
	LineNo      int
	Kind        LineKind
	Speaker     string
	Text        string
	Voice       string
	Engine      string // 实际产出音频的引擎
	WaitSeconds float64
	AudioPath   string
	CreatedAt   time.Time
}

// File 返回台词音频的持久句柄。
func (l Line) File() audio.File {
	return audio.Persistent(l.AudioPath)
}

// Summary 是一个剧本的概要。
type Summary struct {
	ID    string
	Lines int
}

// Store 台词存储（SQLite）
type Store struct {
	db *database.DB
}

// NewStore 创建台词存储，db 需已完成迁移。
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Save 写入一组台词，行号从 1 开始。同一剧本同一行号已存在时覆盖，被替换的旧音频文件会被删除。
func (s *Store) Save(ctx context.Context, lines []Line) error {
	if len(lines) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	var replaced []string
	for _, l := range lines {
		if l.ScriptID == "" || l.AudioPath == "" {
			return fmt.Errorf("台词缺少剧本 ID 或音频路径 (line %d)", l.LineNo)
		}
		if l.LineNo < 1 {
			return fmt.Errorf("台词行号必须从 1 开始 (got %d)", l.LineNo)
		}
		if l.Kind == "" {
			l.Kind = KindSpeech
		}

		var old string
		err := tx.QueryRowContext(ctx,
			`SELECT audio_path FROM script_lines WHERE script_id = ? AND line_no = ?`,
			l.ScriptID, l.LineNo).Scan(&old)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("查询台词失败: %w", err)
		}
		if old != "" && old != l.AudioPath {
			replaced = append(replaced, old)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO script_lines
			(script_id, line_no, kind, speaker, text, voice, engine, wait_seconds, audio_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(script_id, line_no) DO UPDATE SET
				kind = excluded.kind,
				speaker = excluded.speaker,
				text = excluded.text,
				voice = excluded.voice,
				engine = excluded.engine,
				wait_seconds = excluded.wait_seconds,
				audio_path = excluded.audio_path,
				created_at = CURRENT_TIMESTAMP`,
			l.ScriptID, l.LineNo, string(l.Kind), l.Speaker, l.Text, l.Voice, l.Engine, l.WaitSeconds, l.AudioPath)
		if err != nil {
			return fmt.Errorf("保存台词失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	removeFiles(replaced)
	logger.Infof("[script] 已保存 %d 句台词 (%s)", len(lines), lines[0].ScriptID)
	return nil
}

// List 按行号返回剧本的所有台词。
func (s *Store) List(ctx context.Context, scriptID string) ([]Line, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT script_id, line_no, kind, speaker, text, voice, engine,
			wait_seconds, audio_path, created_at
		FROM script_lines WHERE script_id = ? ORDER BY line_no`, scriptID)
	if err != nil {
		return nil, fmt.Errorf("查询台词失败: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var (
			l         Line
			kind      string
			createdAt sql.NullTime
		)
		if err := rows.Scan(&l.ScriptID, &l.LineNo, &kind, &l.Speaker, &l.Text, &l.Voice, &l.Engine,
			&l.WaitSeconds, &l.AudioPath, &createdAt); err != nil {
			return nil, fmt.Errorf("读取台词失败: %w", err)
		}
		l.Kind = LineKind(kind)
		if createdAt.Valid {
			l.CreatedAt = createdAt.Time
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Scripts 返回所有剧本及其台词数。
func (s *Store) Scripts(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT script_id, COUNT(*) FROM script_lines GROUP BY script_id ORDER BY script_id`)
	if err != nil {
		return nil, fmt.Errorf("查询剧本失败: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.Lines); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete 删除剧本的所有台词及其音频文件，返回删除的行数。
func (s *Store) Delete(ctx context.Context, scriptID string) (int, error) {
	n, err := s.deleteFrom(ctx, scriptID, 0)
	if err != nil {
		return 0, err
	}
	logger.Infof("[script] 已删除剧本 %s (%d 句)", scriptID, n)
	return n, nil
}

// Trim 删除行号大于 lastLine 的台词及其音频文件，用于重新渲染后剧本变短的情况。
func (s *Store) Trim(ctx context.Context, scriptID string, lastLine int) (int, error) {
	n, err := s.deleteFrom(ctx, scriptID, lastLine)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Infof("[script] 剧本 %s 删除了 %d 句多余台词", scriptID, n)
	}
	return n, nil
}

func (s *Store) deleteFrom(ctx context.Context, scriptID string, lastLine int) (int, error) {
	lines, err := s.List(ctx, scriptID)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM script_lines WHERE script_id = ? AND line_no > ?`, scriptID, lastLine)
	if err != nil {
		return 0, fmt.Errorf("删除台词失败: %w", err)
	}
	n, _ := res.RowsAffected()

	var paths []string
	for _, l := range lines {
		if l.LineNo > lastLine {
			paths = append(paths, l.AudioPath)
		}
	}
	removeFiles(paths)
	return int(n), nil
}

func removeFiles(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("[script] 删除音频文件 %s 失败: %v", p, err)
		}
	}
}
