package database

import (
	"testing"
	"testing/fstest"

	"github.com/lib/pq"
)

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_add_index.up.sql":          {Data: []byte("CREATE INDEX a ON b (c);")},
		"001_initial_schema.up.sql":     {Data: []byte("CREATE TABLE b (c INT);")},
		"001_initial_schema.down.sql":   {Data: []byte("DROP TABLE b;")},
		"003_orphan_down_only.down.sql": {Data: []byte("SELECT 1;")},
		"README.md":                     {Data: []byte("not a migration")},
	}

	migrations, err := ReadMigrations(fsys)
	if err != nil {
		t.Fatalf("ReadMigrations() error = %v", err)
	}

	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != "001" || migrations[1].Version != "002" {
		t.Errorf("migrations not sorted by version: %s, %s", migrations[0].Version, migrations[1].Version)
	}
	if migrations[0].Title != "initial schema" {
		t.Errorf("unexpected title %q", migrations[0].Title)
	}
	if migrations[0].DownSQL != "DROP TABLE b;" {
		t.Errorf("down script not paired: %q", migrations[0].DownSQL)
	}
	if migrations[0].Checksum != calculateChecksum("CREATE TABLE b (c INT);") {
		t.Error("checksum does not match up script")
	}
}

func TestValidateChecksums(t *testing.T) {
	migrations := []Migration{
		{Version: "001", Title: "initial", Checksum: "abc"},
		{Version: "002", Title: "second", Checksum: "def"},
	}

	if err := validateChecksums(migrations, map[string]string{"001": "abc"}); err != nil {
		t.Errorf("expected matching checksums to pass, got %v", err)
	}
	if err := validateChecksums(migrations, map[string]string{"001": ""}); err != nil {
		t.Errorf("legacy rows without checksum should be ignored, got %v", err)
	}
	if err := validateChecksums(migrations, map[string]string{"002": "changed"}); err == nil {
		t.Error("expected modified migration to be rejected")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		unique    bool
		retryable bool
	}{
		{"unique", &pq.Error{Code: "23505"}, true, false},
		{"serialization", &pq.Error{Code: "40001"}, false, true},
		{"deadlock", &pq.Error{Code: "40P01"}, false, true},
		{"other", &pq.Error{Code: "42P01"}, false, false},
		{"nil", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err); got != tt.unique {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.unique)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}
