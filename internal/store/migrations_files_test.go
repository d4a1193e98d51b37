package store

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := migrationFiles(Migrations(), ".up.sql")
	if err != nil {
		t.Fatalf("list up migrations: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(Migrations(), down); err != nil {
			t.Errorf("%s has no matching %s", up, down)
		}
	}
}

func TestSiteAnalysesMigrationNotifies(t *testing.T) {
	contents, err := fs.ReadFile(Migrations(), "0001_site_analyses.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(contents)
	for _, want := range []string{"CREATE TABLE IF NOT EXISTS site_analyses", "pg_notify", "'" + NotifyChannel + "'", "search_vector"} {
		if !strings.Contains(sql, want) {
			t.Errorf("migration missing %q", want)
		}
	}
}
