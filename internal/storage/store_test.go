package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nixlim/evalstats/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.StorageConfig{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "stats.db")})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.StorageConfig{Driver: "mysql", DSN: "x"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpen_ExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandTilde("~/data/stats.db"); got != filepath.Join(home, "data", "stats.db") {
		t.Errorf("expandTilde: got %s", got)
	}
	if got := expandTilde("/abs/stats.db"); got != "/abs/stats.db" {
		t.Errorf("absolute path changed: got %s", got)
	}
}

func TestSeed_InsertsAllRows(t *testing.T) {
	db := openTestDB(t)
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	priority := 2

	ds := &Dataset{
		TypeLookups: []TypeLookup{{ID: "tl-1", TypeName: "EntityType", TypeValue: "Test"}},
		Statuses:    []Status{{ID: "st-1", Name: "Active", EntityTypeID: "tl-1"}},
		Behaviors:   []NamedEntity{{ID: "b-1", Name: "Robustness", OrganizationID: "org"}},
		Tests: []Test{
			{ID: "t-1", BehaviorID: "b-1", StatusID: "st-1", Priority: &priority, OrganizationID: "org", CreatedAt: created},
			{ID: "t-2", OrganizationID: "org"},
		},
		TestResults: []TestResult{
			{ID: "r-1", TestID: "t-1", TestMetrics: json.RawMessage(`{"m":{"is_successful":true}}`)},
		},
	}

	n, err := db.Seed(context.Background(), ds)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != 6 {
		t.Errorf("rows inserted: want 6, got %d", n)
	}

	var createdAt string
	if err := db.Get(&createdAt, "SELECT created_at FROM test WHERE id = ?", "t-1"); err != nil {
		t.Fatalf("reading created_at: %v", err)
	}
	if createdAt != "2026-02-03 04:05:06" {
		t.Errorf("created_at: want 2026-02-03 04:05:06, got %s", createdAt)
	}

	var nulls int
	err = db.Get(&nulls, "SELECT COUNT(*) FROM test WHERE id = ? AND behavior_id IS NULL AND priority IS NULL AND created_at IS NULL", "t-2")
	if err != nil {
		t.Fatalf("reading t-2: %v", err)
	}
	if nulls != 1 {
		t.Error("empty fields should be stored as NULL")
	}

	var metrics string
	if err := db.Get(&metrics, "SELECT test_metrics FROM test_result WHERE id = ?", "r-1"); err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	if metrics != `{"m":{"is_successful":true}}` {
		t.Errorf("metrics: got %s", metrics)
	}
}

func TestSeed_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ds := &Dataset{
		Behaviors: []NamedEntity{
			{ID: "b-1", Name: "Robustness"},
			{ID: "b-1", Name: "Duplicate"},
		},
	}

	if _, err := db.Seed(context.Background(), ds); err == nil {
		t.Fatal("expected primary key violation")
	}

	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM behavior"); err != nil {
		t.Fatalf("counting behaviors: %v", err)
	}
	if count != 0 {
		t.Errorf("behaviors after failed seed: want 0, got %d", count)
	}
}

func TestLoadDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.json")
	content := `{
  "behaviors": [{"id": "b-1", "name": "Robustness", "created_at": "2026-01-02T03:04:05Z"}],
  "test_results": [{"id": "r-1", "test_metrics": {"m": {"is_successful": false}}}]
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing dataset: %v", err)
	}

	ds, err := LoadDataset(path)
	if err != nil {
		t.Fatalf("LoadDataset failed: %v", err)
	}
	if len(ds.Behaviors) != 1 || ds.Behaviors[0].Name != "Robustness" {
		t.Errorf("behaviors: got %+v", ds.Behaviors)
	}
	if !strings.Contains(string(ds.TestResults[0].TestMetrics), "is_successful") {
		t.Errorf("test_metrics not kept raw: %s", ds.TestResults[0].TestMetrics)
	}

	if _, err := LoadDataset(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing dataset")
	}
}

func TestSeed_PostgresPlaceholders(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = raw.Close() }()

	db, err := Wrap(raw, DriverPostgres)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tag (id,name,organization_id,created_at) VALUES ($1,$2,$3,$4)").
		WithArgs("tag-1", "smoke", "org", created).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	n, err := db.Seed(context.Background(), &Dataset{
		Tags: []Tag{{ID: "tag-1", Name: "smoke", OrganizationID: "org", CreatedAt: created}},
	})
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != 1 {
		t.Errorf("rows: want 1, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDialect(t *testing.T) {
	if _, err := DialectFor("oracle"); err == nil {
		t.Error("expected error for unknown driver")
	}

	sqlite, _ := DialectFor(DriverSQLite)
	pg, _ := DialectFor(DriverPostgres)

	if got := sqlite.MonthExpr("e.created_at"); got != "strftime('%Y-%m', e.created_at)" {
		t.Errorf("sqlite month: got %s", got)
	}
	if got := pg.MonthExpr("e.created_at"); got != "to_char(e.created_at, 'YYYY-MM')" {
		t.Errorf("postgres month: got %s", got)
	}

	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("X", 3600))
	if got := sqlite.Time(ts); got != "2026-03-04 04:06:07" {
		t.Errorf("sqlite time: got %v", got)
	}
	if got, ok := pg.Time(ts).(time.Time); !ok || !got.Equal(ts) {
		t.Errorf("postgres time: got %v", pg.Time(ts))
	}

	sql, _, err := pg.Builder().Select("id").From("test").Where("id = ?", "x").ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if sql != "SELECT id FROM test WHERE id = $1" {
		t.Errorf("postgres placeholders: got %s", sql)
	}
}
