package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"garden-doctor-go/internal/platform/storage/migrations"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryPath opens a private in-memory database, mainly for tests.
const MemoryPath = ":memory:"

// Open 打开（必要时创建）SQLite 数据库并执行迁移
func Open(path string) (*gorm.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "garden-doctor.db")
	}

	inMemory := path == MemoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if inMemory {
		// 每个连接都是独立的内存库，限制为单连接
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	migrationManager := NewMigrationManager(db)
	migrationManager.AddMigration(&migrations.Migration001Initial{})

	if err := migrationManager.RunMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DiagnosisCacheEntry 诊断结果缓存
type DiagnosisCacheEntry struct {
	ID        uint           `gorm:"primaryKey"`
	CacheKey  string         `gorm:"type:varchar(128);uniqueIndex;not null" json:"cache_key"`
	Backend   string         `gorm:"type:varchar(32)"                       json:"backend"`
	Record    datatypes.JSON `gorm:"not null"                               json:"record"`
	CreatedAt time.Time      `                                              json:"created_at"`
	ExpiresAt *time.Time     `gorm:"index"                                  json:"expires_at,omitempty"`
}

func (DiagnosisCacheEntry) TableName() string { return "diagnosis_cache_entries" }

// AnalysisEvent 分析事件存储模型
type AnalysisEvent struct {
	ID        uint           `gorm:"primaryKey"`
	EventType string         `gorm:"index;not null"` // 事件类型
	RequestID string         `gorm:"index"`          // 请求ID
	Backend   string         // 分析后端
	Kind      string         // 失败类型，成功时为空
	Data      datatypes.JSON `gorm:"not null"` // 事件数据
	CreatedAt time.Time      `gorm:"index"`
}

func (AnalysisEvent) TableName() string { return "analysis_events" }
