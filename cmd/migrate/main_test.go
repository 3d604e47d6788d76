package main

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("unexpected error loading embedded migrations: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "analysis_reports" {
		t.Fatalf("unexpected first migration %d %s", migrations[0].Version, migrations[0].Name)
	}
	if migrations[1].Version != 2 || migrations[1].Name != "price_history" {
		t.Fatalf("unexpected second migration %d %s", migrations[1].Version, migrations[1].Name)
	}
	if !strings.Contains(migrations[0].UpSQL, "JSONB") {
		t.Fatal("expected report body column in first migration")
	}
	if migrations[1].DownSQL == "" {
		t.Fatal("expected non-empty down sql")
	}
}

func TestLoadMigrationsRejectsBadFiles(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"migrations/first.up.sql": {Data: []byte("SELECT 1;")},
		},
		"missing down": {
			"migrations/0001_init.up.sql": {Data: []byte("SELECT 1;")},
		},
		"empty file": {
			"migrations/0001_init.up.sql":   {Data: []byte("  ")},
			"migrations/0001_init.down.sql": {Data: []byte("SELECT 1;")},
		},
		"conflicting names": {
			"migrations/0001_init.up.sql":    {Data: []byte("SELECT 1;")},
			"migrations/0001_other.down.sql": {Data: []byte("SELECT 1;")},
		},
		"no files": {},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadMigrations(fsys); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPending(t *testing.T) {
	migrations := []migration{{Version: 1}, {Version: 2}, {Version: 3}}
	got := pending(migrations, map[int64]struct{}{1: {}, 3: {}})
	if len(got) != 1 || got[0].Version != 2 {
		t.Fatalf("expected only version 2 pending, got %+v", got)
	}
}

func TestRunValidatesArguments(t *testing.T) {
	log := zerolog.Nop()
	if err := run(context.Background(), log, nil, "postgres://x"); err == nil {
		t.Fatal("expected usage error")
	}
	if err := run(context.Background(), log, []string{"up"}, " "); err == nil {
		t.Fatal("expected missing DATABASE_URL error")
	}
}
