// Package storedriver resolves the store_driver/store_dsn configuration
// tuple shared by cmd/chameleond and cmd/chameleon-seed into a concrete
// store.Store, keeping driver-selection logic in one place.
package storedriver

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clydewatts1/chameleon-workflow-engine/internal/config"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/memstore"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/mysql"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/postgres"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/sqlite"
)

// Opened bundles the resolved store with the underlying *sql.DB (nil for the
// in-memory driver) so callers can Close it on shutdown.
type Opened struct {
	Store store.Store
	// Writer is non-nil for drivers that support blueprint seeding; memstore
	// and every sqlstore-backed driver implement it.
	Writer store.BlueprintWriter
	DB     *sql.DB
}

// Open resolves cfg.StoreDriver/cfg.StoreDSN into a concrete store.
func Open(ctx context.Context, cfg *config.Config) (Opened, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		ms := memstore.New()
		return Opened{Store: ms, Writer: ms}, nil

	case "sqlite":
		st, db, err := sqlite.Open(ctx, cfg.StoreDSN)
		if err != nil {
			return Opened{}, fmt.Errorf("storedriver: sqlite: %w", err)
		}
		return Opened{Store: st, Writer: st, DB: db}, nil

	case "mysql":
		st, db, err := mysql.Open(ctx, mysql.Config{DSN: cfg.StoreDSN})
		if err != nil {
			return Opened{}, fmt.Errorf("storedriver: mysql: %w", err)
		}
		return Opened{Store: st, Writer: st, DB: db}, nil

	case "postgres":
		st, db, err := postgres.Open(ctx, postgres.Config{DSN: cfg.StoreDSN})
		if err != nil {
			return Opened{}, fmt.Errorf("storedriver: postgres: %w", err)
		}
		return Opened{Store: st, Writer: st, DB: db}, nil

	default:
		return Opened{}, fmt.Errorf("storedriver: unknown store_driver %q", cfg.StoreDriver)
	}
}
