package sqlite

import (
	"context"
	"testing"
	"testing/fstest"
)

func TestMigrateAppliesOnce(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	migrations := fstest.MapFS{
		"001_a.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE a (id INTEGER);\n-- +migrate Down\nDROP TABLE a;\n")},
		"002_b.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"notes.txt": {Data: []byte("ignored")},
	}

	ctx := context.Background()
	applied, err := Migrate(ctx, db, migrations, ".")
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if len(applied) != 2 || applied[0] != "001_a.sql" || applied[1] != "002_b.sql" {
		t.Errorf("applied = %v", applied)
	}

	applied, err = Migrate(ctx, db, migrations, "")
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("second run applied %v, want none", applied)
	}

	for _, table := range []string{"a", "b"} {
		if _, err := db.Exec("INSERT INTO " + table + " (id) VALUES (1)"); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrateFailureRollsBack(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	migrations := fstest.MapFS{
		"001_bad.sql": {Data: []byte("CREATE TABLE ok (id INTEGER); NOT SQL;")},
	}
	if _, err := Migrate(context.Background(), db, migrations, "."); err == nil {
		t.Fatal("expected error for bad migration")
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("recorded %d migrations, want 0", n)
	}
}

func TestUpSection(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"CREATE TABLE x (id INT);", "CREATE TABLE x (id INT);"},
		{"-- +migrate Up\nUP\n-- +migrate Down\nDOWN", "\nUP\n"},
		{"-- +migrate Up\nUP", "\nUP"},
	}
	for _, tt := range tests {
		if got := UpSection(tt.in); got != tt.want {
			t.Errorf("UpSection(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
