package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	"baboard/internal/infra/persistence/memory"
	"baboard/internal/infra/persistence/postgres"
	"baboard/internal/infra/persistence/sqlite"
	"baboard/internal/platform/config"
)

// OpenPersistentStore selects a backend from cfg.Driver, defaulting to
// sqlite. Durable stores implement io.Closer; see CloseStore.
func OpenPersistentStore(ctx context.Context, cfg config.StorageConfig, engine *RulesEngine) (PersistentStore, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = config.StorageSQLite
	}
	switch driver {
	case config.StorageMemory:
		return memory.NewStore(engine), nil
	case config.StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// CloseStore releases the store's resources when it holds any.
func CloseStore(store PersistentStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
