package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	_ "modernc.org/sqlite"

	"github.com/iabetor/streamvoice/internal/logger"
)

// DefaultPath 是默认的数据库文件路径。
const DefaultPath = "~/.streamvoice/streamvoice.db"

// DB 是统一的 SQLite 数据库连接。
type DB struct {
	*sql.DB
	path string
}

// Open 打开或创建数据库。dbPath 为空时使用 DefaultPath。
func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		dbPath = DefaultPath
	}
	expanded, err := homedir.Expand(dbPath)
	if err != nil {
		return nil, fmt.Errorf("展开数据库路径失败: %w", err)
	}
	dbPath = expanded

	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// 设置 WAL 模式（更好的并发性能）
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}

	// 写入等待锁，避免并发写入时立即返回 SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置 busy_timeout 失败: %w", err)
	}

	logger.Infof("[database] 数据库已打开: %s", dbPath)

	return &DB{DB: db, path: dbPath}, nil
}

// Path 返回数据库文件路径。
func (db *DB) Path() string {
	return db.path
}

// Migrate 运行数据库迁移。
func (db *DB) Migrate() error {
	migrations := []string{
		// 预渲染台词表，audio_path 指向持久音频文件
		`CREATE TABLE IF NOT EXISTS script_lines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			script_id TEXT NOT NULL,
			line_no INTEGER NOT NULL,
			kind TEXT NOT NULL DEFAULT 'speech',
			speaker TEXT DEFAULT '',
			text TEXT DEFAULT '',
			voice TEXT DEFAULT '',
			engine TEXT DEFAULT '',
			wait_seconds REAL DEFAULT 0,
			audio_path TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(script_id, line_no)
		)`,
		// 合成使用统计表，按引擎和日期累计
		`CREATE TABLE IF NOT EXISTS synthesis_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			engine TEXT NOT NULL,
			date TEXT NOT NULL,
			count INTEGER DEFAULT 0,
			UNIQUE(engine, date)
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_script_lines_script ON script_lines(script_id)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			logger.Warnf("[database] 创建索引失败: %v", err)
		}
	}

	logger.Info("[database] 数据库迁移完成")
	return nil
}

// Close 关闭数据库连接。
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}
