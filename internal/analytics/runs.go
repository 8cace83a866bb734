package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/nixlim/evalstats/internal/filter"
	"github.com/nixlim/evalstats/internal/stats"
)

// RunRequest asks for statistics over the test runs that match Criteria.
type RunRequest struct {
	Criteria filter.Criteria
	Mode     string
	// Top truncates the test set and executor leaderboards. Zero uses the
	// service default.
	Top int
}

// RunOverview is the overall_summary section.
type RunOverview struct {
	TotalRuns        int64   `json:"total_runs"`
	UniqueTestSets   int64   `json:"unique_test_sets"`
	UniqueExecutors  int64   `json:"unique_executors"`
	MostCommonStatus string  `json:"most_common_status"`
	PassRate         float64 `json:"pass_rate"`
}

// StatusCount is one row of the status distribution.
type StatusCount struct {
	Status     string  `json:"status"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// TestSetCount is one entry of the most-run test sets leaderboard.
type TestSetCount struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	RunCount int64  `json:"run_count" db:"run_count"`
}

// ExecutorCount is one entry of the top executors leaderboard.
type ExecutorCount struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Email    string `json:"email" db:"email"`
	RunCount int64  `json:"run_count" db:"run_count"`
}

// RunTimelinePoint is one month of test-run activity. StatusCounts tallies
// runs by workflow status name; ResultBreakdown classifies the month's test
// results from their metrics payloads.
type RunTimelinePoint struct {
	Date            string                   `json:"date"`
	TotalRuns       int64                    `json:"total_runs"`
	StatusCounts    map[string]int64         `json:"status_counts"`
	ResultBreakdown stats.ResultDistribution `json:"result_breakdown"`
}

// RunStats is the response of GetTestRunStats. Only the sections of the
// selected mode, plus metadata, are serialized.
type RunStats struct {
	OverallSummary     RunOverview
	StatusDistribution []StatusCount
	ResultDistribution stats.ResultDistribution
	MostRunTestSets    []TestSetCount
	TopExecutors       []ExecutorCount
	Timeline           []RunTimelinePoint
	Metadata           RunMetadata

	sel stats.Selection
}

// RunMetadata describes how a RunStats response was computed.
type RunMetadata struct {
	GeneratedAt    string   `json:"generated_at"`
	OrganizationID string   `json:"organization_id,omitempty"`
	Mode           string   `json:"mode"`
	Sections       []string `json:"sections"`
	Top            int      `json:"top,omitempty"`
	Period         string   `json:"period,omitempty"`
	StartDate      string   `json:"start_date,omitempty"`
	EndDate        string   `json:"end_date,omitempty"`
}

// Has reports whether a section is part of the response.
func (r *RunStats) Has(section string) bool {
	return r.sel.Has(section)
}

// MarshalJSON writes metadata and the selected sections.
func (r *RunStats) MarshalJSON() ([]byte, error) {
	out := map[string]any{stats.SectionMetadata: r.Metadata}
	add := func(section string, v any) {
		if r.sel.Has(section) {
			out[section] = v
		}
	}
	add(stats.SectionOverallSummary, r.OverallSummary)
	add(stats.SectionStatusDistribution, r.StatusDistribution)
	add(stats.SectionResultDistribution, r.ResultDistribution)
	add(stats.SectionMostRunTestSets, r.MostRunTestSets)
	add(stats.SectionTopExecutors, r.TopExecutors)
	add(stats.SectionTimeline, r.Timeline)
	return json.Marshal(out)
}

type runOverviewRow struct {
	TotalRuns       int64 `db:"total_runs"`
	UniqueTestSets  int64 `db:"unique_test_sets"`
	UniqueExecutors int64 `db:"unique_executors"`
}

type runResultRow struct {
	Month   sql.NullString `db:"month"`
	Metrics []byte         `db:"metrics"`
}

type monthStatusRow struct {
	Month sql.NullString `db:"month"`
	Label sql.NullString `db:"label"`
	Count int64          `db:"count"`
}

type resultTally struct {
	passed, failed, pending int64
}

func (t *resultTally) add(c stats.Classification) {
	switch c {
	case stats.Passed:
		t.passed++
	case stats.Failed:
		t.failed++
	default:
		t.pending++
	}
}

func (t *resultTally) distribution() stats.ResultDistribution {
	return stats.NewResultDistribution(t.passed, t.failed, t.pending)
}

// GetTestRunStats computes the run-level statistics of the matching test
// runs. Pass and fail always come from the test results' metrics
// payloads; status names only describe the workflow state of a run.
func (s *Service) GetTestRunStats(ctx context.Context, req RunRequest) (*RunStats, error) {
	defer s.step("runs")()

	sel := stats.TestRunModes().Select(req.Mode, s.logger)
	c := req.Criteria
	if err := c.Validate(); err != nil {
		return nil, err
	}
	top, err := s.resolveTop(req.Top)
	if err != nil {
		return nil, err
	}
	period, err := c.ResolvePeriod(s.now())
	if err != nil {
		return nil, err
	}
	c = c.WithPeriod(period)

	needSummary := sel.Has(stats.SectionOverallSummary)
	needStatus := needSummary || sel.Has(stats.SectionStatusDistribution)
	needTimeline := sel.Has(stats.SectionTimeline)
	needResults := needSummary || needTimeline || sel.Has(stats.SectionResultDistribution)

	var (
		overview  runOverviewRow
		statuses  stats.Breakdown
		results   []runResultRow
		testSets  []TestSetCount
		executors []ExecutorCount
		monthly   []monthStatusRow
	)

	var tasks []task
	if needSummary {
		tasks = append(tasks, task{step: "runs.overview", run: func(ctx context.Context) error {
			return s.runOverview(ctx, c, &overview)
		}})
	}
	if needStatus {
		tasks = append(tasks, task{step: "runs.status", run: func(ctx context.Context) error {
			b, err := s.runStatuses(ctx, c)
			statuses = b
			return err
		}})
	}
	if needResults {
		tasks = append(tasks, task{step: "runs.results", run: func(ctx context.Context) error {
			return s.runResults(ctx, c, needTimeline, &results)
		}})
	}
	if sel.Has(stats.SectionMostRunTestSets) {
		tasks = append(tasks, task{step: "runs.test_sets", run: func(ctx context.Context) error {
			return s.runTestSets(ctx, c, &testSets)
		}})
	}
	if sel.Has(stats.SectionTopExecutors) {
		tasks = append(tasks, task{step: "runs.executors", run: func(ctx context.Context) error {
			return s.runExecutors(ctx, c, &executors)
		}})
	}
	if needTimeline {
		tasks = append(tasks, task{step: "runs.timeline", run: func(ctx context.Context) error {
			return s.runMonthlyStatuses(ctx, c, &monthly)
		}})
	}
	if err := s.runTasks(ctx, tasks); err != nil {
		return nil, err
	}

	res := &RunStats{
		StatusDistribution: make([]StatusCount, 0, len(statuses.Entries)),
		MostRunTestSets:    stats.TruncateLeaderboard(nonNil(testSets), top),
		TopExecutors:       stats.TruncateLeaderboard(nonNil(executors), top),
		Timeline:           []RunTimelinePoint{},
		Metadata: RunMetadata{
			GeneratedAt:    s.generatedAt(),
			OrganizationID: c.OrganizationID,
			Mode:           sel.Mode,
			Sections:       sel.Sections(),
			Top:            top,
		},
		sel: sel,
	}
	if period != nil {
		res.Metadata.Period = period.Label
		res.Metadata.StartDate = period.Start.Format(stats.DateLayout)
		res.Metadata.EndDate = period.End.Format(stats.DateLayout)
	}

	for _, e := range statuses.Entries {
		res.StatusDistribution = append(res.StatusDistribution, StatusCount{
			Status:     e.Label,
			Count:      e.Count,
			Percentage: stats.Percentage(e.Count, statuses.Total),
		})
	}

	var overall resultTally
	perMonth := make(map[string]*resultTally)
	for _, r := range results {
		class := stats.ClassifyPayload(r.Metrics)
		overall.add(class)
		if r.Month.Valid {
			t := perMonth[r.Month.String]
			if t == nil {
				t = &resultTally{}
				perMonth[r.Month.String] = t
			}
			t.add(class)
		}
	}
	res.ResultDistribution = overall.distribution()

	if needSummary {
		res.OverallSummary = RunOverview{
			TotalRuns:       overview.TotalRuns,
			UniqueTestSets:  overview.UniqueTestSets,
			UniqueExecutors: overview.UniqueExecutors,
			PassRate:        res.ResultDistribution.PassRate,
		}
		if len(res.StatusDistribution) > 0 {
			res.OverallSummary.MostCommonStatus = res.StatusDistribution[0].Status
		}
	}

	if needTimeline {
		res.Timeline = buildRunTimeline(monthly, perMonth)
	}
	return res, nil
}

func buildRunTimeline(monthly []monthStatusRow, perMonth map[string]*resultTally) []RunTimelinePoint {
	points := make(map[string]*RunTimelinePoint)
	point := func(month string) *RunTimelinePoint {
		p := points[month]
		if p == nil {
			p = &RunTimelinePoint{Date: month, StatusCounts: map[string]int64{}}
			points[month] = p
		}
		return p
	}
	for _, r := range monthly {
		if !r.Month.Valid {
			continue
		}
		p := point(r.Month.String)
		label := stats.NoneLabel
		if r.Label.Valid {
			label = r.Label.String
		}
		p.StatusCounts[label] += r.Count
		p.TotalRuns += r.Count
	}
	for month, t := range perMonth {
		point(month).ResultBreakdown = t.distribution()
	}

	out := make([]RunTimelinePoint, 0, len(points))
	for _, p := range points {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (s *Service) runOverview(ctx context.Context, c filter.Criteria, dest *runOverviewRow) error {
	query := s.builder().
		Select("COUNT(*) AS total_runs",
			"COUNT(DISTINCT tc.test_set_id) AS unique_test_sets",
			"COUNT(DISTINCT run.user_id) AS unique_executors").
		From("test_run run").
		LeftJoin("test_configuration tc ON tc.id = run.test_configuration_id")
	query = s.composer.Compose(query, filter.TestRuns().WithJoins(filter.JoinTestConfiguration), c)

	var rows []runOverviewRow
	if err := s.selectRows(ctx, &rows, query); err != nil {
		return fmt.Errorf("summarizing test runs: %w", err)
	}
	if len(rows) > 0 {
		*dest = rows[0]
	}
	return nil
}

func (s *Service) runStatuses(ctx context.Context, c filter.Criteria) (stats.Breakdown, error) {
	query := s.builder().
		Select("st.name AS label", "COUNT(*) AS count").
		From("test_run run").
		LeftJoin("status st ON st.id = run.status_id")
	query = s.composer.Compose(query, filter.TestRuns(), c).GroupBy("st.name")

	var rows []labelRow
	if err := s.selectRows(ctx, &rows, query); err != nil {
		return stats.Breakdown{}, fmt.Errorf("counting test run statuses: %w", err)
	}
	return stats.RankBreakdown("status", toLabelCounts(rows), 0), nil
}

// runResults loads the metrics payloads of every test result belonging to
// a matching run.
func (s *Service) runResults(ctx context.Context, c filter.Criteria, withMonth bool, dest *[]runResultRow) error {
	query := s.builder().
		Select("tr.test_metrics AS metrics",
			optionalColumn(withMonth, s.db.Dialect.MonthExpr("run.created_at"), "month")).
		From("test_result tr").
		Join("test_run run ON run.id = tr.test_run_id")
	query = s.composer.Compose(query, filter.TestRuns(), c)

	if err := s.selectRows(ctx, dest, query); err != nil {
		return fmt.Errorf("loading test run results: %w", err)
	}
	return nil
}

func (s *Service) runTestSets(ctx context.Context, c filter.Criteria, dest *[]TestSetCount) error {
	query := s.builder().
		Select("ts.id AS id", "ts.name AS name", "COUNT(DISTINCT run.id) AS run_count").
		From("test_run run").
		Join("test_configuration tc ON tc.id = run.test_configuration_id").
		Join("test_set ts ON ts.id = tc.test_set_id")
	query = s.composer.Compose(query, filter.TestRuns().WithJoins(filter.JoinTestConfiguration), c).
		GroupBy("ts.id", "ts.name").
		OrderBy("run_count DESC", "ts.name ASC")

	if err := s.selectRows(ctx, dest, query); err != nil {
		return fmt.Errorf("ranking test sets: %w", err)
	}
	return nil
}

func (s *Service) runExecutors(ctx context.Context, c filter.Criteria, dest *[]ExecutorCount) error {
	query := s.builder().
		Select("u.id AS id", "COALESCE(u.name, '') AS name", "COALESCE(u.email, '') AS email",
			"COUNT(run.id) AS run_count").
		From("test_run run").
		Join("users u ON u.id = run.user_id")
	query = s.composer.Compose(query, filter.TestRuns(), c).
		GroupBy("u.id", "u.name", "u.email").
		OrderBy("run_count DESC", "name ASC")

	if err := s.selectRows(ctx, dest, query); err != nil {
		return fmt.Errorf("ranking executors: %w", err)
	}
	return nil
}

func (s *Service) runMonthlyStatuses(ctx context.Context, c filter.Criteria, dest *[]monthStatusRow) error {
	month := s.db.Dialect.MonthExpr("run.created_at")
	query := s.builder().
		Select(month+" AS month", "st.name AS label", "COUNT(*) AS count").
		From("test_run run").
		LeftJoin("status st ON st.id = run.status_id")
	query = s.composer.Compose(query, filter.TestRuns(), c).GroupBy(month, "st.name")

	if err := s.selectRows(ctx, dest, query); err != nil {
		return fmt.Errorf("building test run timeline: %w", err)
	}
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
