package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nixlim/evalstats/internal/analytics"
	"github.com/nixlim/evalstats/internal/stats"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

func render(w io.Writer, format string, v any) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	switch r := v.(type) {
	case *analytics.EntityStats:
		renderEntityStats(w, r)
	case *analytics.ResultStats:
		renderResultStats(w, r)
	case *analytics.RunStats:
		renderRunStats(w, r)
	case seedReport:
		newTable(w, "Seed").
			appendRows(table.Row{"Dataset", r.Path}, table.Row{"Rows inserted", r.Rows}).
			render()
	default:
		return fmt.Errorf("no table layout for %T", v)
	}
	return nil
}

// tableOut wraps a go-pretty writer with the style every table shares.
type tableOut struct {
	t table.Writer
}

func newTable(w io.Writer, title string, header ...any) *tableOut {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("%s", title)
	if len(header) > 0 {
		t.AppendHeader(table.Row(header))
	}
	return &tableOut{t: t}
}

func (o *tableOut) appendRows(rows ...table.Row) *tableOut {
	o.t.AppendRows(rows)
	return o
}

func (o *tableOut) render() {
	o.t.Render()
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

func renderEntityStats(w io.Writer, r *analytics.EntityStats) {
	m := r.Metadata
	newTable(w, m.EntityType).appendRows(
		table.Row{"Total", r.Total},
		table.Row{"Period", m.Period},
		table.Row{"Generated", m.GeneratedAt},
	).render()

	for _, dim := range append(append([]string{}, m.Dimensions...), m.CategoryColumns...) {
		b, ok := r.Stats[dim]
		if !ok {
			continue
		}
		t := newTable(w, dim, "Label", "Count", "Share")
		for _, e := range b.Entries {
			t.appendRows(table.Row{e.Label, e.Count, pct(stats.Percentage(e.Count, b.Total))})
		}
		t.t.AppendFooter(table.Row{"Total", b.Total, ""})
		t.render()
	}

	t := newTable(w, "History", "Month", "Cumulative")
	for _, mc := range r.History.Monthly {
		t.appendRows(table.Row{mc.Month, mc.Count})
	}
	t.render()
}

func passRateRow(label string, p stats.PassRate) table.Row {
	return table.Row{label, p.Total, p.Passed, p.Failed, pct(p.PassRate)}
}

func renderPassRates(w io.Writer, title string, rates map[string]stats.PassRate) {
	t := newTable(w, title, "Name", "Total", "Passed", "Failed", "Pass rate")
	for _, k := range stats.SortedKeys(rates) {
		t.appendRows(passRateRow(k, rates[k]))
	}
	t.render()
}

func renderResultStats(w io.Writer, r *analytics.ResultStats) {
	m := r.Metadata
	newTable(w, "Test results").appendRows(
		table.Row{"Mode", m.Mode},
		table.Row{"Test results", m.TotalTestResults},
		table.Row{"Test runs", m.TotalTestRuns},
		table.Row{"Period", m.Period},
	).render()

	if r.Has(stats.SectionOverallPassRates) {
		newTable(w, "Overall", "Name", "Total", "Passed", "Failed", "Pass rate").
			appendRows(passRateRow("overall", r.OverallPassRates)).
			render()
	}
	if r.Has(stats.SectionMetricPassRates) {
		renderPassRates(w, "Metrics", r.MetricPassRates)
	}
	if r.Has(stats.SectionBehaviorPassRates) {
		renderPassRates(w, "Behaviors", r.BehaviorPassRates)
	}
	if r.Has(stats.SectionCategoryPassRates) {
		renderPassRates(w, "Categories", r.CategoryPassRates)
	}
	if r.Has(stats.SectionTopicPassRates) {
		renderPassRates(w, "Topics", r.TopicPassRates)
	}
	if r.Has(stats.SectionTimeline) {
		t := newTable(w, "Timeline", "Month", "Total", "Passed", "Failed", "Pass rate")
		for _, p := range r.Timeline {
			t.appendRows(passRateRow(p.Date, p.Overall))
		}
		t.render()
	}
	if r.Has(stats.SectionTestRunSummary) {
		t := newTable(w, "Test runs", "Run", "Created", "Tests", "Passed", "Failed", "Pass rate")
		for _, s := range r.TestRunSummary {
			t.appendRows(table.Row{s.Name, s.CreatedAt, s.TotalTests, s.Overall.Passed, s.Overall.Failed, pct(s.Overall.PassRate)})
		}
		t.render()
	}
}

func distributionRow(label string, d stats.ResultDistribution) table.Row {
	return table.Row{label, d.Total, d.Passed, d.Failed, d.Pending, pct(d.PassRate)}
}

func renderRunStats(w io.Writer, r *analytics.RunStats) {
	m := r.Metadata
	newTable(w, "Test runs").appendRows(
		table.Row{"Mode", m.Mode},
		table.Row{"Period", m.Period},
	).render()

	if r.Has(stats.SectionOverallSummary) {
		o := r.OverallSummary
		newTable(w, "Summary").appendRows(
			table.Row{"Total runs", o.TotalRuns},
			table.Row{"Unique test sets", o.UniqueTestSets},
			table.Row{"Unique executors", o.UniqueExecutors},
			table.Row{"Most common status", o.MostCommonStatus},
			table.Row{"Pass rate", pct(o.PassRate)},
		).render()
	}
	if r.Has(stats.SectionStatusDistribution) {
		t := newTable(w, "Status", "Status", "Runs", "Share")
		for _, s := range r.StatusDistribution {
			t.appendRows(table.Row{s.Status, s.Count, pct(s.Percentage)})
		}
		t.render()
	}
	if r.Has(stats.SectionResultDistribution) {
		newTable(w, "Results", "", "Total", "Passed", "Failed", "Pending", "Pass rate").
			appendRows(distributionRow("all", r.ResultDistribution)).
			render()
	}
	if r.Has(stats.SectionMostRunTestSets) {
		t := newTable(w, "Most run test sets", "Test set", "Runs")
		for _, s := range r.MostRunTestSets {
			t.appendRows(table.Row{s.Name, s.RunCount})
		}
		t.render()
	}
	if r.Has(stats.SectionTopExecutors) {
		t := newTable(w, "Top executors", "Name", "Email", "Runs")
		for _, e := range r.TopExecutors {
			t.appendRows(table.Row{e.Name, e.Email, e.RunCount})
		}
		t.render()
	}
	if r.Has(stats.SectionTimeline) {
		t := newTable(w, "Timeline", "Month", "Total", "Passed", "Failed", "Pending", "Pass rate")
		for _, p := range r.Timeline {
			t.appendRows(distributionRow(p.Date, p.ResultBreakdown))
		}
		t.render()
	}
}

// renderTimings prints the step histogram gathered during one command.
func renderTimings(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gathering step timings: %w", err)
	}

	type timing struct {
		step  string
		count uint64
		sum   float64
	}
	var timings []timing
	for _, f := range families {
		for _, m := range f.GetMetric() {
			var step string
			for _, l := range m.GetLabel() {
				if l.GetName() == "step" {
					step = l.GetValue()
				}
			}
			h := m.GetHistogram()
			timings = append(timings, timing{step: step, count: h.GetSampleCount(), sum: h.GetSampleSum()})
		}
	}
	sort.Slice(timings, func(i, j int) bool { return timings[i].step < timings[j].step })

	t := newTable(w, "Step timings", "Step", "Calls", "Seconds")
	for _, tm := range timings {
		t.appendRows(table.Row{tm.step, tm.count, fmt.Sprintf("%.4f", tm.sum)})
	}
	t.render()
	return nil
}
