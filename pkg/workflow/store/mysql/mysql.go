// Package mysql opens a go-sql-driver/mysql-backed store.Store, grounded on
// the teacher's graph/store/mysql.go connection-pool tuning, generalized to
// delegate schema/queries to sqlstore and migrations to pressly/goose/v3.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/migrations"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/sqlstore"
)

// Config tunes the connection pool for a multi-writer production deployment
// (unlike the single-writer SQLite backend).
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to MySQL/MariaDB, applies pending migrations, and returns a
// ready-to-use store.
func Open(ctx context.Context, cfg Config) (*sqlstore.Store, *sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql connection: %w", err)
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
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("mysql"); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	return sqlstore.New(db, sqlstore.DialectMySQL), db, nil
}
