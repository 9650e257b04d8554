// Package sqlite opens a modernc.org/sqlite-backed store.Store, grounded on
// the teacher's graph/store/sqlite.go (WAL mode, single-writer connection
// pool, busy_timeout) but delegating schema/queries to sqlstore and using
// pressly/goose/v3 for migrations instead of the teacher's inline
// createTables DDL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/migrations"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/sqlstore"
)

// Open opens (creating if necessary) a SQLite database at path, applies
// pending migrations, and returns a ready-to-use store.
//
// path may be a file path ("./chameleon.db") or ":memory:" for ephemeral
// single-process use.
func Open(ctx context.Context, path string) (*sqlstore.Store, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	// SQLite supports exactly one writer; keep the pool pinned to it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	return sqlstore.New(db, sqlstore.DialectSQLite), db, nil
}
