// Package postgres opens a jackc/pgx/v5-backed store.Store (via pgx's
// database/sql stdlib adapter), the production-scale backend named in
// SPEC_FULL.md §11's domain stack. Grounded on the connection-pool tuning
// idiom of graph/store/mysql.go, generalized to pgx and goose's "postgres"
// dialect.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/migrations"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/sqlstore"
)

// Config tunes the connection pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres via pgx's stdlib driver, applies pending
// migrations, and returns a ready-to-use store.
func Open(ctx context.Context, cfg Config) (*sqlstore.Store, *sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres connection: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	return sqlstore.New(db, sqlstore.DialectPostgres), db, nil
}
