package migrations

import (
	"gorm.io/gorm"
)

// Migration001Initial 创建诊断缓存表与分析事件表
type Migration001Initial struct{}

func (m *Migration001Initial) Version() string {
	return "001_initial"
}

func (m *Migration001Initial) Description() string {
	return "Create diagnosis cache and analysis event tables"
}

func (m *Migration001Initial) Up(db *gorm.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS diagnosis_cache_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cache_key VARCHAR(128) NOT NULL UNIQUE,
			backend VARCHAR(32),
			record JSON NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_diagnosis_cache_entries_expires_at ON diagnosis_cache_entries(expires_at)`,
		`CREATE TABLE IF NOT EXISTS analysis_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type VARCHAR(64) NOT NULL,
			request_id VARCHAR(64),
			backend VARCHAR(32),
			kind VARCHAR(32),
			data JSON NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_events_event_type ON analysis_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_events_request_id ON analysis_events(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_events_created_at ON analysis_events(created_at)`,
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (m *Migration001Initial) Down(db *gorm.DB) error {
	if err := db.Exec(`DROP TABLE IF EXISTS analysis_events`).Error; err != nil {
		return err
	}
	return db.Exec(`DROP TABLE IF EXISTS diagnosis_cache_entries`).Error
}
