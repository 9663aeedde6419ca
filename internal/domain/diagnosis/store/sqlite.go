package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"garden-doctor-go/internal/domain/diagnosis"
	"garden-doctor-go/internal/platform/storage"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"
)

type sqliteStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewSQLite builds a cache on the diagnosis_cache_entries table.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{
		db:  db,
		ttl: cfg.TTL,
	}, nil
}

func (s *sqliteStore) Put(ctx context.Context, entry Entry) error {
	if entry.Key == "" {
		return fmt.Errorf("cache key required")
	}
	entry = entry.stamp(s.ttl)

	payload, err := sonic.ConfigStd.Marshal(entry.Record)
	if err != nil {
		return fmt.Errorf("encode cached record: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cache_key = ?", entry.Key).Delete(&storage.DiagnosisCacheEntry{}).Error; err != nil {
			return err
		}
		return tx.Create(&storage.DiagnosisCacheEntry{
			CacheKey:  entry.Key,
			Backend:   entry.Backend,
			Record:    payload,
			CreatedAt: entry.CreatedAt,
			ExpiresAt: entry.ExpiresAt,
		}).Error
	})
}

func (s *sqliteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var row storage.DiagnosisCacheEntry
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	entry := Entry{
		Key:       row.CacheKey,
		Backend:   row.Backend,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	}
	if entry.expired(time.Now()) {
		_ = s.Remove(ctx, key)
		return Entry{}, false, nil
	}

	var rec diagnosis.Record
	if err := sonic.ConfigStd.Unmarshal(row.Record, &rec); err != nil {
		return Entry{}, false, fmt.Errorf("decode cached record: %w", err)
	}
	if rec.Diagnostics.Recommendations == nil {
		rec.Diagnostics.Recommendations = []string{}
	}
	entry.Record = rec
	return entry, true, nil
}

func (s *sqliteStore) Remove(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&storage.DiagnosisCacheEntry{}).Error
}

func (s *sqliteStore) CleanupExpired(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now()).
		Delete(&storage.DiagnosisCacheEntry{}).
		Error
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&storage.DiagnosisCacheEntry{}).Count(&total).Error; err != nil {
		return nil, err
	}
	return map[string]any{
		"type":        DriverSQLite,
		"total":       total,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

// Close leaves the shared database handle open; bootstrap owns it.
func (s *sqliteStore) Close(context.Context) error {
	return nil
}
