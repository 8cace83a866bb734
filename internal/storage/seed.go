package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Dataset is a snapshot of entity rows used to populate a store, for demos
// and fixtures. Rows are inserted in declaration order of the fields so
// lookups exist before the rows that reference them.
type Dataset struct {
	TypeLookups        []TypeLookup        `json:"type_lookups"`
	Statuses           []Status            `json:"statuses"`
	Users              []User              `json:"users"`
	Behaviors          []NamedEntity       `json:"behaviors"`
	Categories         []NamedEntity       `json:"categories"`
	Topics             []NamedEntity       `json:"topics"`
	Prompts            []Prompt            `json:"prompts"`
	TestSets           []NamedEntity       `json:"test_sets"`
	Tests              []Test              `json:"tests"`
	TestTestSets       []TestTestSet       `json:"test_test_sets"`
	TestConfigurations []TestConfiguration `json:"test_configurations"`
	TestRuns           []TestRun           `json:"test_runs"`
	TestResults        []TestResult        `json:"test_results"`
	Tags               []Tag               `json:"tags"`
	TaggedItems        []TaggedItem        `json:"tagged_items"`
}

type TypeLookup struct {
	ID             string `json:"id"`
	TypeName       string `json:"type_name"`
	TypeValue      string `json:"type_value"`
	OrganizationID string `json:"organization_id"`
}

type Status struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	EntityTypeID   string    `json:"entity_type_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// NamedEntity covers behavior, category, topic and test_set rows.
type NamedEntity struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	StatusID       string    `json:"status_id"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type Prompt struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type Test struct {
	ID             string    `json:"id"`
	PromptID       string    `json:"prompt_id"`
	TestTypeID     string    `json:"test_type_id"`
	Priority       *int      `json:"priority"`
	UserID         string    `json:"user_id"`
	AssigneeID     string    `json:"assignee_id"`
	OwnerID        string    `json:"owner_id"`
	BehaviorID     string    `json:"behavior_id"`
	CategoryID     string    `json:"category_id"`
	TopicID        string    `json:"topic_id"`
	StatusID       string    `json:"status_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type TestTestSet struct {
	TestID         string `json:"test_id"`
	TestSetID      string `json:"test_set_id"`
	OrganizationID string `json:"organization_id"`
}

type TestConfiguration struct {
	ID             string    `json:"id"`
	TestSetID      string    `json:"test_set_id"`
	UserID         string    `json:"user_id"`
	StatusID       string    `json:"status_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type TestRun struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	TestConfigurationID string    `json:"test_configuration_id"`
	StatusID            string    `json:"status_id"`
	UserID              string    `json:"user_id"`
	OrganizationID      string    `json:"organization_id"`
	CreatedAt           time.Time `json:"created_at"`
}

type TestResult struct {
	ID                  string          `json:"id"`
	TestConfigurationID string          `json:"test_configuration_id"`
	TestRunID           string          `json:"test_run_id"`
	PromptID            string          `json:"prompt_id"`
	TestID              string          `json:"test_id"`
	StatusID            string          `json:"status_id"`
	UserID              string          `json:"user_id"`
	TestMetrics         json.RawMessage `json:"test_metrics"`
	OrganizationID      string          `json:"organization_id"`
	CreatedAt           time.Time       `json:"created_at"`
}

type Tag struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

type TaggedItem struct {
	ID             string `json:"id"`
	TagID          string `json:"tag_id"`
	EntityID       string `json:"entity_id"`
	EntityType     string `json:"entity_type"`
	OrganizationID string `json:"organization_id"`
}

// LoadDataset reads a JSON dataset file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing dataset: %w", err)
	}
	return &ds, nil
}

type insertRow struct {
	table  string
	cols   []string
	values []any
}

// Seed inserts every row of ds in a single transaction. Either all rows
// land or none do.
func (db *DB) Seed(ctx context.Context, ds *Dataset) (int, error) {
	rows := db.seedRows(ds)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b := db.Dialect.Builder()
	for i, r := range rows {
		query, args, err := b.Insert(r.table).Columns(r.cols...).Values(r.values...).ToSql()
		if err != nil {
			return 0, fmt.Errorf("building insert into %s: %w", r.table, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("inserting row %d into %s: %w", i, r.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing seed: %w", err)
	}
	return len(rows), nil
}

func (db *DB) seedRows(ds *Dataset) []insertRow {
	var rows []insertRow
	add := func(table string, cols []string, values ...any) {
		rows = append(rows, insertRow{table: table, cols: cols, values: values})
	}
	ts := func(t time.Time) any {
		if t.IsZero() {
			return nil
		}
		return db.Dialect.Time(t)
	}

	for _, r := range ds.TypeLookups {
		add("type_lookup", []string{"id", "type_name", "type_value", "organization_id"},
			r.ID, r.TypeName, r.TypeValue, nullable(r.OrganizationID))
	}
	for _, r := range ds.Statuses {
		add("status", []string{"id", "name", "entity_type_id", "organization_id", "created_at"},
			r.ID, r.Name, nullable(r.EntityTypeID), nullable(r.OrganizationID), ts(r.CreatedAt))
	}
	for _, r := range ds.Users {
		add("users", []string{"id", "name", "email", "organization_id", "created_at"},
			r.ID, nullable(r.Name), nullable(r.Email), nullable(r.OrganizationID), ts(r.CreatedAt))
	}
	named := []struct {
		table string
		rows  []NamedEntity
	}{
		{"behavior", ds.Behaviors},
		{"category", ds.Categories},
		{"topic", ds.Topics},
	}
	for _, n := range named {
		for _, r := range n.rows {
			add(n.table, []string{"id", "name", "status_id", "user_id", "organization_id", "created_at"},
				r.ID, r.Name, nullable(r.StatusID), nullable(r.UserID), nullable(r.OrganizationID), ts(r.CreatedAt))
		}
	}
	for _, r := range ds.Prompts {
		add("prompt", []string{"id", "content", "user_id", "organization_id", "created_at"},
			r.ID, nullable(r.Content), nullable(r.UserID), nullable(r.OrganizationID), ts(r.CreatedAt))
	}
	for _, r := range ds.TestSets {
		add("test_set", []string{"id", "name", "status_id", "user_id", "organization_id", "created_at"},
			r.ID, r.Name, nullable(r.StatusID), nullable(r.UserID), nullable(r.OrganizationID), ts(r.CreatedAt))
	}
	for _, r := range ds.Tests {
		var priority any
		if r.Priority != nil {
			priority = *r.Priority
		}
		add("test", []string{"id", "prompt_id", "test_type_id", "priority", "user_id", "assignee_id", "owner_id",
			"behavior_id", "category_id", "topic_id", "status_id", "organization_id", "created_at"},
			r.ID, nullable(r.PromptID), nullable(r.TestTypeID), priority, nullable(r.UserID),
			nullable(r.AssigneeID), nullable(r.OwnerID), nullable(r.BehaviorID), nullable(r.CategoryID),
			nullable(r.TopicID), nullable(r.StatusID), nullable(r.OrganizationID), ts(r.CreatedAt))
	}
	for _, r := range ds.TestTestSets {
		add("test_test_set", []string{"test_id", "test_set_id", "organization_id"},
			r.TestID, r.TestSetID, nullable(r.OrganizationID))
	}
	for _, r := range ds.TestConfigurations {
		add("test_configuration", []string{"id", "test_set_id", "user_id", "status_id", "organization_id", "created_at"},
			r.ID, nullable(r.TestSetID), nullable(r.UserID), nullable(r.StatusID), nullable(r.OrganizationID), ts(r.CreatedAt))
	}
	for _, r := range ds.TestRuns {
		add("test_run", []string{"id", "name", "test_configuration_id", "status_id", "user_id", "organization_id", "created_at"},
			r.ID, nullable(r.Name), nullable(r.TestConfigurationID), nullable(r.StatusID), nullable(r.UserID),
			nullable(r.OrganizationID), ts(r.CreatedAt))
	}
	for _, r := range ds.TestResults {
		var metrics any
		if len(r.TestMetrics) > 0 {
			metrics = string(r.TestMetrics)
		}
		add("test_result", []string{"id", "test_configuration_id", "test_run_id", "prompt_id", "test_id", "status_id",
			"user_id", "test_metrics", "organization_id", "created_at"},
			r.ID, nullable(r.TestConfigurationID), nullable(r.TestRunID), nullable(r.PromptID), nullable(r.TestID),
			nullable(r.StatusID), nullable(r.UserID), metrics, nullable(r.OrganizationID), ts(r.CreatedAt))
	}
	for _, r := range ds.Tags {
		add("tag", []string{"id", "name", "organization_id", "created_at"},
			r.ID, r.Name, nullable(r.OrganizationID), ts(r.CreatedAt))
	}
	for _, r := range ds.TaggedItems {
		add("tagged_item", []string{"id", "tag_id", "entity_id", "entity_type", "organization_id"},
			r.ID, r.TagID, r.EntityID, r.EntityType, nullable(r.OrganizationID))
	}
	return rows
}

// nullable stores empty strings as NULL so LEFT JOINs see missing relations.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
