package store

import (
	"context"
	"time"

	"garden-doctor-go/internal/domain/diagnosis"
)

// Store caches normalized diagnoses keyed by image digest.
type Store interface {
	Put(ctx context.Context, entry Entry) error
	// Get reports ok=false for unknown or expired keys; err is reserved for driver failures.
	Get(ctx context.Context, key string) (Entry, bool, error)
	Remove(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context) error
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Entry is one cached diagnosis.
type Entry struct {
	Key       string           `json:"key"`
	Backend   string           `json:"backend"`
	Record    diagnosis.Record `json:"record"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

func (e Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// stamp fills CreatedAt and, when ttl is positive, ExpiresAt.
func (e Entry) stamp(ttl time.Duration) Entry {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.ExpiresAt == nil && ttl > 0 {
		exp := e.CreatedAt.Add(ttl)
		e.ExpiresAt = &exp
	}
	return e
}

// Config describes the cache selection parameters.
type Config struct {
	Driver string
	TTL    time.Duration
	Redis  *RedisConfig
	Memory *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}
