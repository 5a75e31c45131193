package database

import (
	"io/fs"
	"regexp"
	"testing"
)

var migrationName = regexp.MustCompile(`^\d{4}_[a-z0-9_]+\.sql$`)

func TestEmbeddedMigrationsWellFormed(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, e := range entries {
		if !migrationName.MatchString(e.Name()) {
			t.Fatalf("migration %q does not follow NNNN_name.sql", e.Name())
		}
	}
}

func TestEmbeddedMigrationsCarryGooseDirectives(t *testing.T) {
	data, err := fs.ReadFile(migrationsFS, "migrations/0001_init.sql")
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	for _, directive := range []string{"-- +goose Up", "-- +goose Down"} {
		if !regexp.MustCompile(regexp.QuoteMeta(directive)).Match(data) {
			t.Fatalf("init migration missing %q", directive)
		}
	}
}
