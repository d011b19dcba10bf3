package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

func TestOpen_CreatesNestedPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	db, err := Open(context.Background(), Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if db.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", db.Path(), dbPath)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Error("Open() expected error for empty path")
	}
}

func TestConfig_DSN(t *testing.T) {
	dsn := Config{Path: "/var/lib/farm.db", WALMode: true, BusyTimeout: 2}.dsn()
	for _, want := range []string{"file:/var/lib/farm.db?", "_busy_timeout=2000", "_journal_mode=WAL", "_foreign_keys=on"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn() = %q, missing %q", dsn, want)
		}
	}
	if strings.Contains(Config{Path: "x.db"}.dsn(), "_journal_mode") {
		t.Error("dsn() without WAL should not set journal mode")
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestEnsureSchema_AppliesOncePerVersion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// A non-idempotent statement fails if it is ever run twice.
	create := `CREATE TABLE sample (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`
	for i := 0; i < 2; i++ {
		if err := db.EnsureSchema(ctx, "sample", 1, create); err != nil {
			t.Fatalf("EnsureSchema() run %d error = %v", i, err)
		}
	}
	if v, err := db.SchemaVersion(ctx, "sample"); err != nil || v != 1 {
		t.Errorf("SchemaVersion() = %d, %v; want 1", v, err)
	}

	if err := db.EnsureSchema(ctx, "sample", 2, create,
		`ALTER TABLE sample ADD COLUMN note TEXT`); err == nil {
		t.Fatal("EnsureSchema() v2 should rerun statements and fail on existing table")
	}

	if err := db.EnsureSchema(ctx, "sample", 2,
		`ALTER TABLE sample ADD COLUMN note TEXT`); err != nil {
		t.Fatalf("EnsureSchema() v2 error = %v", err)
	}
	if v, _ := db.SchemaVersion(ctx, "sample"); v != 2 {
		t.Errorf("SchemaVersion() = %d, want 2", v)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO sample (name, note) VALUES (?, ?)", "x", "y"); err != nil {
		t.Errorf("insert after upgrade: %v", err)
	}
}

func TestEnsureSchema_ComponentsAreIndependent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.EnsureSchema(ctx, "a", 3, `CREATE TABLE a (id INTEGER)`); err != nil {
		t.Fatal(err)
	}
	if v, err := db.SchemaVersion(ctx, "b"); err != nil || v != 0 {
		t.Errorf("SchemaVersion(b) = %d, %v; want 0", v, err)
	}
}

func TestEnsureSchema_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.EnsureSchema(ctx, "broken", 1,
		`CREATE TABLE first (id INTEGER)`,
		`THIS IS NOT SQL`,
	)
	if err == nil {
		t.Fatal("EnsureSchema() expected error")
	}

	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='first'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Error("table from failed schema transaction should not exist")
	}
}

func TestClose(t *testing.T) {
	db, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close() should fail")
	}
}
