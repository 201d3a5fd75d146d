package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ivankudzin/tgaccounts/internal/config"
	"github.com/ivankudzin/tgaccounts/internal/repo/memory"
	pgrepo "github.com/ivankudzin/tgaccounts/internal/repo/postgres"
	"github.com/ivankudzin/tgaccounts/internal/repo/sqlite"
	"github.com/ivankudzin/tgaccounts/internal/services/accounts"
)

// Open builds the account store selected by store.driver. Postgres and
// SQLite schemas are migrated before the store is returned.
func Open(ctx context.Context, cfg config.Config) (accounts.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return memory.NewStore(), nil
	case config.StoreSQLite:
		if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		return sqlite.NewStore(cfg.Store.SQLitePath)
	case config.StorePostgres:
		pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, err
		}
		if err := pgrepo.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return pgrepo.NewStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
