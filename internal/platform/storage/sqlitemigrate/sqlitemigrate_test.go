package sqlitemigrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTempDB(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	t.Cleanup(func() {
		if err := sqlDB.Close(); err != nil {
			t.Errorf("close sqlite db: %v", err)
		}
	})
	return sqlDB
}

func TestApplyRunsMigrationsOnce(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"0001_widgets.sql": &fstest.MapFile{Data: []byte(`-- +migrate Up
CREATE TABLE widgets (id TEXT PRIMARY KEY);
-- +migrate Down
DROP TABLE widgets;
`)},
	}
	sqlDB := openTempDB(t)

	if err := Apply(sqlDB, fsys); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := sqlDB.Exec("INSERT INTO widgets (id) VALUES ('a')"); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}

	// Second run must be a no-op, not a duplicate-table error.
	if err := Apply(sqlDB, fsys); err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}

	var count int
	if err := sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count ledger rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("ledger rows = %d, want 1", count)
	}
}

func TestApplyOrdersFilesLexically(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"0002_add_column.sql": &fstest.MapFile{Data: []byte(`-- +migrate Up
ALTER TABLE gadgets ADD COLUMN label TEXT;
`)},
		"0001_gadgets.sql": &fstest.MapFile{Data: []byte(`-- +migrate Up
CREATE TABLE gadgets (id TEXT PRIMARY KEY);
`)},
	}
	sqlDB := openTempDB(t)

	if err := Apply(sqlDB, fsys); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := sqlDB.Exec("INSERT INTO gadgets (id, label) VALUES ('a', 'b')"); err != nil {
		t.Fatalf("insert with migrated column: %v", err)
	}
}

func TestApplyFailsOnInvalidSQL(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"0001_bad.sql": &fstest.MapFile{Data: []byte(`-- +migrate Up
CREATE TABL oops;
`)},
	}
	sqlDB := openTempDB(t)

	if err := Apply(sqlDB, fsys); err == nil {
		t.Fatal("expected error for invalid migration SQL")
	}
}

func TestApplyRequiresDB(t *testing.T) {
	t.Parallel()

	if err := Apply(nil, fstest.MapFS{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestUpSection(t *testing.T) {
	t.Parallel()

	full := "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;\n"
	got := upSection(full)
	if got != "\nCREATE TABLE a (id TEXT);\n" {
		t.Fatalf("up section = %q", got)
	}

	bare := "CREATE TABLE b (id TEXT);"
	if upSection(bare) != bare {
		t.Fatalf("unmarked content should pass through, got %q", upSection(bare))
	}
}
