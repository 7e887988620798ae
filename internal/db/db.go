package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"

	// Registers the "libsql" driver with database/sql.
	// Handles remote URLs (libsql://, https://, wss://).
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	// Import the pure-Go SQLite driver for local file: URLs.
	// libsql-client-go delegates file: URLs to this driver.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedded embed.FS

// driverName is the database/sql driver to use. Tests swap it to exercise
// open failures; production always uses "libsql".
var driverName = "libsql"

// migrationsFS returns the migration directory. Swapped in tests.
var migrationsFS = func() (fs.FS, error) {
	return fs.Sub(embedded, "migrations")
}

// Connect opens a libSQL database connection and verifies it with a ping.
//
// Supported URL schemes:
//
//	Local file:  "file:quartermaster.db"
//	Remote Turso: "libsql://[db-name].turso.io?authToken=[token]"
func Connect(dbURL string) (*sql.DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("database URL must not be empty")
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY and
	// keeps shared-cache in-memory databases alive and consistent.
	if strings.HasPrefix(dbURL, "file:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Migrate applies every pending embedded migration and returns the schema
// version afterwards.
func Migrate(ctx context.Context, db *sql.DB) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("db: migrate: nil database")
	}
	fsys, err := migrationsFS()
	if err != nil {
		return 0, fmt.Errorf("db: migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("db: goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return 0, fmt.Errorf("db: migrate up: %w", err)
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("db: schema version: %w", err)
	}
	return version, nil
}

// Open connects and migrates in one step, which is what every entry point wants.
func Open(ctx context.Context, dbURL string) (*sql.DB, error) {
	conn, err := Connect(dbURL)
	if err != nil {
		return nil, err
	}
	if _, err := Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
