package db

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_indexes.sql": {Data: []byte("CREATE INDEX idx ON analysis_archive (case_id);")},
		"001_archive.sql": {Data: []byte("CREATE TABLE analysis_archive (id UUID PRIMARY KEY);")},
		"010_later.sql":   {Data: []byte("SELECT 1;")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	wantVersions := []int{1, 2, 10}
	for i, v := range wantVersions {
		if migrations[i].Version != v {
			t.Errorf("migration %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_archive.sql" {
		t.Errorf("expected name 001_archive.sql, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE analysis_archive (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsUnrelatedFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"001_valid.sql":       {Data: []byte("SELECT 1;")},
		"README.md":           {Data: []byte("docs")},
		"noversion.sql":       {Data: []byte("SELECT 2;")},
		"abc_bad.sql":         {Data: []byte("SELECT 3;")},
		"sub/002_nested.sql":  {Data: []byte("SELECT 4;")},
		"003_not_sql.sql.bak": {Data: []byte("SELECT 5;")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 valid migration, got %d", len(migrations))
	}
	if migrations[0].Name != "001_valid.sql" {
		t.Errorf("expected 001_valid.sql, got %s", migrations[0].Name)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"01_b.sql":  {Data: []byte("SELECT 2;")},
	}

	_, err := NewMigrator(nil, fsys).LoadMigrations()
	if err == nil || !strings.Contains(err.Error(), "share version 1") {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migrations))
	}
}

func TestValidateSchema(t *testing.T) {
	valid := []string{"public", "aibot", "_archive", "Reports2"}
	for _, s := range valid {
		if err := ValidateSchema(s); err != nil {
			t.Errorf("ValidateSchema(%q) unexpected error: %v", s, err)
		}
	}

	invalid := []string{"", "1abc", "public; DROP TABLE x", "my-schema", "a.b"}
	for _, s := range invalid {
		if err := ValidateSchema(s); err == nil {
			t.Errorf("ValidateSchema(%q) expected error", s)
		}
	}
}

func TestPending(t *testing.T) {
	migrations := []Migration{{Version: 1}, {Version: 2}, {Version: 3}, {Version: 4}}
	applied := map[int]time.Time{1: time.Now(), 3: time.Now()}

	all := pending(migrations, applied, 0)
	if len(all) != 2 || all[0].Version != 2 || all[1].Version != 4 {
		t.Errorf("unexpected pending set %+v", all)
	}

	upTo := pending(migrations, applied, 3)
	if len(upTo) != 1 || upTo[0].Version != 2 {
		t.Errorf("unexpected pending set up to 3: %+v", upTo)
	}
}

func TestStatuses(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	migrations := []Migration{{Version: 1, Name: "001_a.sql"}, {Version: 2, Name: "002_b.sql"}}

	got := statuses(migrations, map[int]time.Time{1: at})
	if len(got) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(got))
	}
	if !got[0].Applied || got[0].AppliedAt == nil || !got[0].AppliedAt.Equal(at) {
		t.Errorf("expected first migration applied at %s, got %+v", at, got[0])
	}
	if got[1].Applied || got[1].AppliedAt != nil {
		t.Errorf("expected second migration pending, got %+v", got[1])
	}
}

func TestNewMigrator(t *testing.T) {
	fsys := fstest.MapFS{}
	m := NewMigrator(nil, fsys)
	if m == nil {
		t.Fatal("expected non-nil migrator")
	}
	if m.pool != nil {
		t.Error("expected nil pool")
	}
}
