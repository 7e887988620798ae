package db

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
)

// =============================================================================
// Connect tests
// =============================================================================

func TestConnect_WhenValidFileURL_ShouldReturnPingableDB(t *testing.T) {
	// Given: a valid in-memory libsql URL
	dbURL := "file:connect_ok.db?mode=memory&cache=shared"

	// When: connecting
	conn, err := Connect(dbURL)

	// Then: should succeed and answer pings
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	defer conn.Close()
	if pingErr := conn.Ping(); pingErr != nil {
		t.Fatalf("expected successful ping, got: %v", pingErr)
	}
}

func TestConnect_WhenInvalidURL_ShouldReturnError(t *testing.T) {
	// Given: a file URL pointing to an impossible path
	dbURL := "file:/dev/null/impossible.db"

	// When: connecting
	conn, err := Connect(dbURL)

	// Then: should return an error
	if err == nil {
		if conn != nil {
			conn.Close()
		}
		t.Fatal("expected error for invalid file URL, got nil")
	}
}

func TestConnect_WhenEmptyURL_ShouldReturnError(t *testing.T) {
	conn, err := Connect("")
	if err == nil {
		if conn != nil {
			conn.Close()
		}
		t.Fatal("expected error for empty URL, got nil")
	}
}

func TestConnect_WhenDriverUnknown_ShouldReturnOpenError(t *testing.T) {
	// Given: a broken driver name
	old := driverName
	driverName = "nonexistent_driver"
	defer func() { driverName = old }()

	// When: connecting
	conn, err := Connect("file:connect_bad.db?mode=memory&cache=shared")

	// Then: should return an error from sql.Open
	if err == nil {
		if conn != nil {
			conn.Close()
		}
		t.Fatal("expected error for unknown driver, got nil")
	}
	if !strings.Contains(err.Error(), "failed to open libsql") {
		t.Errorf("error should mention 'failed to open libsql', got: %v", err)
	}
}

// =============================================================================
// Migrate tests
// =============================================================================

func TestMigrate_WhenFreshDatabase_ShouldCreateSchema(t *testing.T) {
	// Given: an empty in-memory database
	conn, err := Connect("file:migrate_fresh.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	// When: migrating
	version, err := Migrate(context.Background(), conn)

	// Then: the schema is at the latest version and the tables exist
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if version != 1 {
		t.Errorf("want version 1, got %d", version)
	}
	for _, table := range []string{"regiments", "users", "stockpiles", "stockpile_items", "stockpile_scans",
		"stockpile_refreshes", "operations", "operation_requirements", "production_orders",
		"production_order_items", "production_contributions"} {
		var name string
		err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrate_WhenRunTwice_ShouldBeNoOp(t *testing.T) {
	// Given: a migrated database
	conn, err := Connect("file:migrate_twice.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	if _, err := Migrate(context.Background(), conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}

	// When: migrating again
	version, err := Migrate(context.Background(), conn)

	// Then: nothing fails and the version is unchanged
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if version != 1 {
		t.Errorf("want version 1, got %d", version)
	}
}

func TestMigrate_WhenMigrationIsBroken_ShouldReturnError(t *testing.T) {
	// Given: a migration set containing invalid SQL
	old := migrationsFS
	migrationsFS = func() (fs.FS, error) {
		return fstest.MapFS{
			"00001_bad.sql": &fstest.MapFile{Data: []byte("-- +goose Up\nCREATE TABLEX nope;\n")},
		}, nil
	}
	defer func() { migrationsFS = old }()

	conn, err := Connect("file:migrate_broken.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	// When: migrating
	_, err = Migrate(context.Background(), conn)

	// Then: the failure surfaces
	if err == nil {
		t.Fatal("expected migrate error, got nil")
	}
	if !strings.Contains(err.Error(), "migrate up") {
		t.Errorf("error should mention 'migrate up', got: %v", err)
	}
}

func TestMigrate_WhenNilDB_ShouldReturnError(t *testing.T) {
	if _, err := Migrate(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestOpen_WhenValidURL_ShouldReturnMigratedDB(t *testing.T) {
	conn, err := Open(context.Background(), "file:open_ok.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM stockpiles").Scan(&n); err != nil {
		t.Fatalf("query stockpiles: %v", err)
	}
	if n != 0 {
		t.Errorf("want empty stockpiles table, got %d rows", n)
	}
}
