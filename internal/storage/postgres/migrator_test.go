package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func twoStepFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/migrations/0001_init.up.sql":   {Data: []byte("CREATE TABLE test_a (id INT);")},
		"sql/migrations/0001_init.down.sql": {Data: []byte("DROP TABLE IF EXISTS test_a;")},
		"sql/migrations/0002_more.up.sql":   {Data: []byte("CREATE TABLE test_b (id INT);")},
		"sql/migrations/0002_more.down.sql": {Data: []byte("DROP TABLE IF EXISTS test_b;")},
	}
}

func TestParseMigrations_SortsByVersion(t *testing.T) {
	t.Parallel()

	migrations, err := parseMigrations(twoStepFS())
	if err != nil {
		t.Fatalf("parseMigrations failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "init" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].label() != "0002_more" {
		t.Fatalf("unexpected second migration label: %s", migrations[1].label())
	}
}

func TestParseMigrations_EmbeddedSchema(t *testing.T) {
	t.Parallel()

	migrations, err := parseMigrations(embeddedMigrations)
	if err != nil {
		t.Fatalf("parse embedded migrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 embedded migrations, got %d", len(migrations))
	}
	if !strings.Contains(migrations[0].UpSQL, "sap_orders") {
		t.Fatal("first migration must create sap_orders")
	}
}

func TestParseMigrations_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		fs      fstest.MapFS
		wantErr string
	}{
		"missing down": {
			fs:      fstest.MapFS{"sql/migrations/0001_init.up.sql": {Data: []byte("SELECT 1;")}},
			wantErr: "both up and down",
		},
		"invalid name": {
			fs:      fstest.MapFS{"sql/migrations/not_a_migration.sql": {Data: []byte("SELECT 1;")}},
			wantErr: "invalid migration file name",
		},
		"empty body": {
			fs: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":   {Data: []byte("   \n")},
				"sql/migrations/0001_init.down.sql": {Data: []byte("SELECT 1;")},
			},
			wantErr: "empty",
		},
		"name mismatch": {
			fs: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":    {Data: []byte("SELECT 1;")},
				"sql/migrations/0001_other.down.sql": {Data: []byte("SELECT 1;")},
			},
			wantErr: "name mismatch",
		},
		"no files": {
			fs:      fstest.MapFS{},
			wantErr: "no migration files",
		},
	}

	for name, tc := range cases {
		name := name
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := parseMigrations(tc.fs)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	all, err := parseMigrations(twoStepFS())
	if err != nil {
		t.Fatalf("parseMigrations failed: %v", err)
	}

	up := planMigrations(all, map[int64]bool{1: true}, migrationUp, 0)
	if len(up) != 1 || up[0].Version != 2 {
		t.Fatalf("unexpected up plan: %+v", up)
	}

	down := planMigrations(all, map[int64]bool{1: true, 2: true}, migrationDown, 1)
	if len(down) != 1 || down[0].Version != 2 {
		t.Fatalf("down must start from the latest version: %+v", down)
	}

	none := planMigrations(all, map[int64]bool{}, migrationDown, 5)
	if len(none) != 0 {
		t.Fatalf("nothing to roll back, got %+v", none)
	}
}
