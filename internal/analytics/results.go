package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nixlim/evalstats/internal/filter"
	"github.com/nixlim/evalstats/internal/stats"
)

// ResultRequest asks for pass-rate statistics over the test results that
// match Criteria.
type ResultRequest struct {
	Criteria filter.Criteria
	Mode     string
}

// ResultStats is the response of GetTestResultStats. Only the sections of
// the selected mode, plus metadata, are serialized.
type ResultStats struct {
	MetricPassRates   map[string]stats.PassRate
	BehaviorPassRates map[string]stats.PassRate
	CategoryPassRates map[string]stats.PassRate
	TopicPassRates    map[string]stats.PassRate
	OverallPassRates  stats.PassRate
	Timeline          []stats.MonthlyPassRates
	TestRunSummary    []stats.RunSummary
	Metadata          ResultMetadata

	sel stats.Selection
}

// ResultMetadata describes how a ResultStats response was computed.
type ResultMetadata struct {
	GeneratedAt         string   `json:"generated_at"`
	OrganizationID      string   `json:"organization_id,omitempty"`
	Mode                string   `json:"mode"`
	Sections            []string `json:"sections"`
	TotalTestResults    int64    `json:"total_test_results"`
	TotalTestRuns       int      `json:"total_test_runs"`
	Period              string   `json:"period,omitempty"`
	StartDate           string   `json:"start_date,omitempty"`
	EndDate             string   `json:"end_date,omitempty"`
	AvailableMetrics    []string `json:"available_metrics"`
	AvailableBehaviors  []string `json:"available_behaviors,omitempty"`
	AvailableCategories []string `json:"available_categories,omitempty"`
	AvailableTopics     []string `json:"available_topics,omitempty"`
}

// Has reports whether a section is part of the response.
func (r *ResultStats) Has(section string) bool {
	return r.sel.Has(section)
}

// MarshalJSON writes metadata and the selected sections.
func (r *ResultStats) MarshalJSON() ([]byte, error) {
	out := map[string]any{stats.SectionMetadata: r.Metadata}
	add := func(section string, v any) {
		if r.sel.Has(section) {
			out[section] = v
		}
	}
	add(stats.SectionMetricPassRates, r.MetricPassRates)
	add(stats.SectionBehaviorPassRates, r.BehaviorPassRates)
	add(stats.SectionCategoryPassRates, r.CategoryPassRates)
	add(stats.SectionTopicPassRates, r.TopicPassRates)
	add(stats.SectionOverallPassRates, r.OverallPassRates)
	add(stats.SectionTimeline, r.Timeline)
	add(stats.SectionTestRunSummary, r.TestRunSummary)
	return json.Marshal(out)
}

type resultRow struct {
	TestRunID    sql.NullString `db:"test_run_id"`
	RunName      sql.NullString `db:"run_name"`
	RunCreatedAt sql.NullString `db:"run_created_at"`
	Month        sql.NullString `db:"month"`
	Behavior     sql.NullString `db:"behavior"`
	Category     sql.NullString `db:"category"`
	Topic        sql.NullString `db:"topic"`
	Metrics      []byte         `db:"metrics"`
}

// GetTestResultStats aggregates the metrics payloads of the matching test
// results into pass rates per metric, dimension, month and test run.
func (s *Service) GetTestResultStats(ctx context.Context, req ResultRequest) (*ResultStats, error) {
	defer s.step("results")()

	sel := stats.TestResultModes().Select(req.Mode, s.logger)
	c := req.Criteria
	if err := c.Validate(); err != nil {
		return nil, err
	}
	period, err := c.ResolvePeriod(s.now())
	if err != nil {
		return nil, err
	}
	c = c.WithPeriod(period)

	needBehavior := sel.Has(stats.SectionBehaviorPassRates)
	needCategory := sel.Has(stats.SectionCategoryPassRates)
	needTopic := sel.Has(stats.SectionTopicPassRates)
	needMonth := sel.Has(stats.SectionTimeline)
	needRun := sel.Has(stats.SectionTestRunSummary)

	cols := []string{"tr.test_run_id AS test_run_id", "tr.test_metrics AS metrics"}
	query := s.builder().Select().From("test_result tr")
	scope := filter.TestResults()
	if needBehavior || needCategory || needTopic {
		query = query.LeftJoin("test t ON t.id = tr.test_id")
		scope = scope.WithJoins(filter.JoinTest)
	}
	cols = append(cols, optionalColumn(needBehavior, "b.name", "behavior"))
	if needBehavior {
		query = query.LeftJoin("behavior b ON b.id = t.behavior_id")
	}
	cols = append(cols, optionalColumn(needCategory, "c.name", "category"))
	if needCategory {
		query = query.LeftJoin("category c ON c.id = t.category_id")
	}
	cols = append(cols, optionalColumn(needTopic, "tp.name", "topic"))
	if needTopic {
		query = query.LeftJoin("topic tp ON tp.id = t.topic_id")
	}
	cols = append(cols, optionalColumn(needMonth, s.db.Dialect.MonthExpr("tr.created_at"), "month"))
	cols = append(cols, optionalColumn(needRun, "run.name", "run_name"))
	cols = append(cols, optionalColumn(needRun, "run.created_at", "run_created_at"))
	if needRun {
		query = query.LeftJoin("test_run run ON run.id = tr.test_run_id")
	}
	query = s.composer.Compose(query.Columns(cols...), scope, c)

	var rows []resultRow
	scanDone := s.step("results.scan")
	err = s.selectRows(ctx, &rows, query)
	scanDone()
	if err != nil {
		return nil, fmt.Errorf("loading test results: %w", err)
	}

	calc := stats.NewCalculator()
	for _, r := range rows {
		calc.Add(stats.ResultRecord{
			TestRunID:    r.TestRunID.String,
			RunName:      r.RunName.String,
			RunCreatedAt: normalizeTimestamp(r.RunCreatedAt.String),
			Month:        r.Month.String,
			Behavior:     r.Behavior.String,
			Category:     r.Category.String,
			Topic:        r.Topic.String,
			Metrics:      r.Metrics,
		})
	}
	agg := calc.Result()

	res := &ResultStats{
		MetricPassRates:   agg.Metrics,
		BehaviorPassRates: agg.Behaviors,
		CategoryPassRates: agg.Categories,
		TopicPassRates:    agg.Topics,
		OverallPassRates:  agg.Overall,
		Timeline:          agg.Timeline,
		TestRunSummary:    agg.RunSummary,
		Metadata: ResultMetadata{
			GeneratedAt:      s.generatedAt(),
			OrganizationID:   c.OrganizationID,
			Mode:             sel.Mode,
			Sections:         sel.Sections(),
			TotalTestResults: agg.RecordCount,
			TotalTestRuns:    agg.TotalRuns,
			AvailableMetrics: stats.SortedKeys(agg.Metrics),
		},
		sel: sel,
	}
	if period != nil {
		res.Metadata.Period = period.Label
		res.Metadata.StartDate = period.Start.Format(stats.DateLayout)
		res.Metadata.EndDate = period.End.Format(stats.DateLayout)
	}
	if needBehavior {
		res.Metadata.AvailableBehaviors = stats.SortedKeys(agg.Behaviors)
	}
	if needCategory {
		res.Metadata.AvailableCategories = stats.SortedKeys(agg.Categories)
	}
	if needTopic {
		res.Metadata.AvailableTopics = stats.SortedKeys(agg.Topics)
	}
	return res, nil
}

// optionalColumn selects expr as alias when needed, NULL otherwise, so the
// scan target stays the same for every mode.
func optionalColumn(needed bool, expr, alias string) string {
	if needed {
		return expr + " AS " + alias
	}
	return "NULL AS " + alias
}

// normalizeTimestamp renders stored timestamps as RFC 3339. SQLite
// stores text, PostgreSQL drivers hand back RFC 3339 already.
func normalizeTimestamp(s string) string {
	if s == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", stats.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return s
}
