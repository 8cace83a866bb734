// Package stats provides the pure computations behind the dashboard
// statistics: ranking breakdowns, cumulative history series, metric
// payload parsing and pass-rate aggregation. Nothing here touches the
// database.
package stats

import (
	"sort"
)

// ResultRecord is one test result as seen by the pass-rate calculator.
type ResultRecord struct {
	TestRunID    string
	RunName      string
	RunCreatedAt string
	Month        string
	Behavior     string
	Category     string
	Topic        string
	Metrics      []byte
}

// ResultStats is everything the calculator derives from a result set.
type ResultStats struct {
	Overall     PassRate
	Metrics     map[string]PassRate
	Behaviors   map[string]PassRate
	Categories  map[string]PassRate
	Topics      map[string]PassRate
	Timeline    []MonthlyPassRates
	RunSummary  []RunSummary
	TotalRuns   int
	RecordCount int64
}

type tally struct {
	passed int64
	failed int64
}

func (t *tally) add(ok bool) {
	if ok {
		t.passed++
	} else {
		t.failed++
	}
}

func (t *tally) rate() PassRate {
	return NewPassRate(t.passed, t.failed)
}

type breakdownTally struct {
	overall tally
	metrics map[string]*tally
}

func newBreakdownTally() *breakdownTally {
	return &breakdownTally{metrics: make(map[string]*tally)}
}

func (b *breakdownTally) add(o Outcome) {
	b.overall.add(o.Passed)
	for name, ok := range o.Metrics {
		tallyFor(b.metrics, name).add(ok)
	}
}

type runTally struct {
	*breakdownTally
	name      string
	createdAt string
	total     int64
}

// Calculator accumulates test-result outcomes into pass-rate tallies at
// overall, metric, dimension, month and run granularity. Results whose
// metrics payload is absent or malformed are counted towards their run's
// total but otherwise skipped.
type Calculator struct {
	overall    tally
	metrics    map[string]*tally
	behaviors  map[string]*tally
	categories map[string]*tally
	topics     map[string]*tally
	months     map[string]*breakdownTally
	runs       map[string]*runTally
	records    int64
}

// NewCalculator creates an empty Calculator.
func NewCalculator() *Calculator {
	return &Calculator{
		metrics:    make(map[string]*tally),
		behaviors:  make(map[string]*tally),
		categories: make(map[string]*tally),
		topics:     make(map[string]*tally),
		months:     make(map[string]*breakdownTally),
		runs:       make(map[string]*runTally),
	}
}

// Add folds one record into the tallies. It reports whether the record
// carried a usable outcome.
func (c *Calculator) Add(r ResultRecord) bool {
	c.records++

	var run *runTally
	if r.TestRunID != "" {
		run = c.runs[r.TestRunID]
		if run == nil {
			run = &runTally{
				breakdownTally: newBreakdownTally(),
				name:           r.RunName,
				createdAt:      r.RunCreatedAt,
			}
			c.runs[r.TestRunID] = run
		}
		run.total++
	}

	o := ParseOutcome(r.Metrics)
	if !o.Valid {
		return false
	}

	c.overall.add(o.Passed)
	for name, ok := range o.Metrics {
		tallyFor(c.metrics, name).add(ok)
	}
	tallyFor(c.behaviors, labelOr(r.Behavior, "Unknown Behavior")).add(o.Passed)
	tallyFor(c.categories, labelOr(r.Category, "Unknown Category")).add(o.Passed)
	tallyFor(c.topics, labelOr(r.Topic, "Unknown Topic")).add(o.Passed)

	if r.Month != "" {
		m := c.months[r.Month]
		if m == nil {
			m = newBreakdownTally()
			c.months[r.Month] = m
		}
		m.add(o)
	}

	if run != nil {
		run.add(o)
	}
	return true
}

// Result returns the computed statistics. The timeline is sorted by month
// ascending and the run summary by creation time descending.
func (c *Calculator) Result() ResultStats {
	res := ResultStats{
		Overall:     c.overall.rate(),
		Metrics:     rates(c.metrics),
		Behaviors:   rates(c.behaviors),
		Categories:  rates(c.categories),
		Topics:      rates(c.topics),
		Timeline:    make([]MonthlyPassRates, 0, len(c.months)),
		RunSummary:  make([]RunSummary, 0, len(c.runs)),
		TotalRuns:   len(c.runs),
		RecordCount: c.records,
	}

	for month, m := range c.months {
		res.Timeline = append(res.Timeline, MonthlyPassRates{
			Date:    month,
			Overall: m.overall.rate(),
			Metrics: rates(m.metrics),
		})
	}
	sort.Slice(res.Timeline, func(i, j int) bool {
		return res.Timeline[i].Date < res.Timeline[j].Date
	})

	for id, run := range c.runs {
		res.RunSummary = append(res.RunSummary, RunSummary{
			ID:         id,
			Name:       run.name,
			CreatedAt:  run.createdAt,
			TotalTests: run.total,
			Overall:    run.overall.rate(),
			Metrics:    rates(run.metrics),
		})
	}
	sort.Slice(res.RunSummary, func(i, j int) bool {
		a, b := res.RunSummary[i], res.RunSummary[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	})

	return res
}

// SortedKeys returns the keys of a pass-rate map in ascending order.
func SortedKeys(m map[string]PassRate) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func tallyFor(m map[string]*tally, key string) *tally {
	t := m[key]
	if t == nil {
		t = &tally{}
		m[key] = t
	}
	return t
}

func rates(m map[string]*tally) map[string]PassRate {
	out := make(map[string]PassRate, len(m))
	for k, t := range m {
		out[k] = t.rate()
	}
	return out
}

func labelOr(label, fallback string) string {
	if label == "" {
		return fallback
	}
	return label
}
