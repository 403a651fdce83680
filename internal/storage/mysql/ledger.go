package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const memoryLedgerCap = 512

// MintRecord 表示一次 mint 尝试的落库结构。
type MintRecord struct {
	AttemptID   string `json:"attempt_id"`
	Action      string `json:"action"`
	Status      string `json:"status"`
	Signer      string `json:"signer,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	Reason      string `json:"reason,omitempty"`
	StartedAt   int64  `json:"started_at"`
	FinishedAt  int64  `json:"finished_at"`
}

// LedgerRepository 抽象 mint 账本的持久化接口。
type LedgerRepository interface {
	Save(ctx context.Context, record MintRecord) error
	ListLatest(ctx context.Context, limit int) ([]MintRecord, error)
	Close() error
}

// ErrUnsupportedDriver 表示配置了未知的账本驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// MemoryLedger 使用本地 JSON Lines 文件模拟 MySQL，方便本地调试。
type MemoryLedger struct {
	mu       sync.RWMutex
	dataFile string
	records  []MintRecord
}

// NewMemoryLedger 创建文件账本并恢复历史记录。
func NewMemoryLedger(dataDir string) (*MemoryLedger, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	ledger := &MemoryLedger{dataFile: filepath.Join(dataDir, "mints.log")}
	if err := ledger.loadFromDisk(); err != nil {
		return nil, err
	}
	return ledger, nil
}

// Save 以追加写的方式记录 mint 尝试。
func (m *MemoryLedger) Save(_ context.Context, record MintRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化 mint 记录失败: %w", err)
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开 mint 日志失败: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入 mint 日志失败: %w", err)
	}

	m.records = append([]MintRecord{record}, m.records...)
	if len(m.records) > memoryLedgerCap {
		m.records = m.records[:memoryLedgerCap]
	}
	return nil
}

// ListLatest 返回最近的 mint 记录，按写入时间倒序排列。
func (m *MemoryLedger) ListLatest(_ context.Context, limit int) ([]MintRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]MintRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 对文件账本无需操作。
func (m *MemoryLedger) Close() error { return nil }

func (m *MemoryLedger) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取 mint 日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []MintRecord
	for scanner.Scan() {
		var record MintRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]MintRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析 mint 日志失败: %w", err)
	}
	if len(restored) > memoryLedgerCap {
		restored = restored[:memoryLedgerCap]
	}
	m.records = restored
	return nil
}

const (
	insertMintSQL = `INSERT INTO mint_attempts
        (attempt_id, action, status, signer, tx_hash, block_number, reason, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	listMintsSQL = `SELECT attempt_id, action, status, signer, tx_hash, block_number, reason, started_at, finished_at
        FROM mint_attempts ORDER BY id DESC LIMIT ?`
)

// SQLLedger 使用 MySQL 存储 mint 账本。
type SQLLedger struct {
	db *sql.DB
}

// NewSQLLedger 创建连接池并执行内置迁移。
func NewSQLLedger(ctx context.Context, cfg Config) (*SQLLedger, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLLedger{db: db}, nil
}

// Save 将 mint 记录写入 MySQL。
func (s *SQLLedger) Save(ctx context.Context, record MintRecord) error {
	if _, err := s.db.ExecContext(ctx, insertMintSQL,
		record.AttemptID,
		record.Action,
		record.Status,
		record.Signer,
		record.TxHash,
		record.BlockNumber,
		record.Reason,
		record.StartedAt,
		record.FinishedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条 mint 记录。
func (s *SQLLedger) ListLatest(ctx context.Context, limit int) ([]MintRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, listMintsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("查询 mint 记录失败: %w", err)
	}
	defer rows.Close()

	var records []MintRecord
	for rows.Next() {
		var record MintRecord
		if err := rows.Scan(&record.AttemptID, &record.Action, &record.Status, &record.Signer, &record.TxHash,
			&record.BlockNumber, &record.Reason, &record.StartedAt, &record.FinishedAt); err != nil {
			return nil, fmt.Errorf("解析 mint 记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 mint 记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLLedger) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ LedgerRepository = (*MemoryLedger)(nil)
	_ LedgerRepository = (*SQLLedger)(nil)
)
