package storage

import (
	"path/filepath"
	"testing"
	"time"

	"garden-doctor-go/internal/platform/storage/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestOpenRunsMigrations(t *testing.T) {
	db, err := Open(MemoryPath)
	require.NoError(t, err)
	defer Close(db)

	assert.True(t, db.Migrator().HasTable("diagnosis_cache_entries"))
	assert.True(t, db.Migrator().HasTable("analysis_events"))

	history, err := NewMigrationManager(db).GetMigrationHistory()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "001_initial", history[0].Version)
}

func TestOpenIsIdempotentOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, Close(db))

	db, err = Open(path)
	require.NoError(t, err)
	defer Close(db)

	history, err := NewMigrationManager(db).GetMigrationHistory()
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestDiagnosisCacheEntryRoundTrip(t *testing.T) {
	db, err := Open(MemoryPath)
	require.NoError(t, err)
	defer Close(db)

	expires := time.Now().Add(time.Hour)
	entry := DiagnosisCacheEntry{
		CacheKey:  "abc",
		Backend:   "remote",
		Record:    datatypes.JSON(`{"plant_name":"Fern"}`),
		CreatedAt: time.Now(),
		ExpiresAt: &expires,
	}
	require.NoError(t, db.Create(&entry).Error)

	var got DiagnosisCacheEntry
	require.NoError(t, db.Where("cache_key = ?", "abc").First(&got).Error)
	assert.Equal(t, "remote", got.Backend)
	assert.JSONEq(t, `{"plant_name":"Fern"}`, string(got.Record))
}

func TestRollbackMigration(t *testing.T) {
	db, err := Open(MemoryPath)
	require.NoError(t, err)
	defer Close(db)

	// Open 使用的管理器不可见，这里重新注册同一迁移
	m := NewMigrationManager(db)
	m.AddMigration(&migrations.Migration001Initial{})

	require.NoError(t, m.RollbackMigration("001_initial"))
	assert.False(t, db.Migrator().HasTable("diagnosis_cache_entries"))

	assert.Error(t, m.RollbackMigration("001_initial"))
	assert.Error(t, m.RollbackMigration("999_unknown"))
}
