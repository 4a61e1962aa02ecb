package credentials

import (
	"context"
	"fmt"
)

// StorageType selects a Store backend.
type StorageType string

const (
	StorageTypeMemory StorageType = "memory"
	StorageTypeSQLite StorageType = "sqlite"
	StorageTypeValkey StorageType = "valkey"
)

// Config selects and configures the credential backend.
type Config struct {
	Type       StorageType
	SQLitePath string
	Valkey     ValkeyConfig
}

// Open returns the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", StorageTypeMemory:
		return NewMemoryStore(), nil
	case StorageTypeSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case StorageTypeValkey:
		return NewValkeyStore(cfg.Valkey)
	default:
		return nil, fmt.Errorf("unsupported credential storage type %q (want memory, sqlite or valkey)", cfg.Type)
	}
}
