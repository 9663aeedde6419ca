package store

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Driver identifiers.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New creates a cache store for cfg.Driver; an empty driver disables caching.
func New(cfg Config, deps Dependencies) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverNone
	}

	switch driver {
	case DriverNone:
		return NewNoop(), nil
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverSQLite:
		if deps.SQLiteDB == nil {
			return nil, fmt.Errorf("sqlite driver requires database handle")
		}
		return NewSQLite(deps.SQLiteDB, cfg)
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", driver)
	}
}

// Enabled reports whether s keeps entries at all.
func Enabled(s Store) bool {
	if s == nil {
		return false
	}
	_, disabled := s.(noopStore)
	return !disabled
}
