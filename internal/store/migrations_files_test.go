package store

import (
	"context"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"testing"
)

var migrationName = regexp.MustCompile(`^(\d{4})_[a-z_]+\.(up|down)\.sql$`)

// migrationPairs maps version prefix to its up and down file names.
func migrationPairs(t *testing.T) map[string][2]string {
	t.Helper()
	entries, err := fs.ReadDir(Migrations(), ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	pairs := map[string][2]string{}
	for _, entry := range entries {
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("unexpected file in migrations: %s", entry.Name())
		}
		pair := pairs[match[1]]
		slot := 0
		if match[2] == "down" {
			slot = 1
		}
		if pair[slot] != "" {
			t.Fatalf("version %s has two %s files", match[1], match[2])
		}
		pair[slot] = entry.Name()
		pairs[match[1]] = pair
	}
	return pairs
}

func TestEveryMigrationHasUpAndDown(t *testing.T) {
	pairs := migrationPairs(t)
	if len(pairs) == 0 {
		t.Fatal("no migrations embedded")
	}
	for version, pair := range pairs {
		if pair[0] == "" || pair[1] == "" {
			t.Errorf("version %s: up=%q down=%q", version, pair[0], pair[1])
		}
	}
}

func TestDownMigrationsDropEverythingUpCreates(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	pairs := migrationPairs(t)
	versions := make([]string, 0, len(pairs))
	for version := range pairs {
		versions = append(versions, version)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(versions)))

	for _, version := range versions {
		contents, err := fs.ReadFile(Migrations(), pairs[version][1])
		if err != nil {
			t.Fatalf("read %s: %v", pairs[version][1], err)
		}
		if _, err := s.DB().ExecContext(ctx, string(contents)); err != nil {
			t.Fatalf("apply %s: %v", pairs[version][1], err)
		}
	}

	rows, err := s.DB().QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	defer rows.Close()
	var left []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if name != "schema_migrations" {
			left = append(left, name)
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(left) > 0 {
		t.Errorf("tables left after down migrations: %s", strings.Join(left, ", "))
	}
}
