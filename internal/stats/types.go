package stats

import (
	"bytes"
	"encoding/json"
	"time"
)

// LabelCount is one raw (label, count) row from a grouped query.
// A nil Label means the row had no related value.
type LabelCount struct {
	Label *string
	Count int64
}

// Entry is a single ranked label in a Breakdown.
type Entry struct {
	Label string
	Count int64
}

// Breakdown is the count distribution of one dimension.
type Breakdown struct {
	Dimension string
	Total     int64
	Entries   []Entry
}

// Get returns the count for label and whether it is present.
func (b Breakdown) Get(label string) (int64, bool) {
	for _, e := range b.Entries {
		if e.Label == label {
			return e.Count, true
		}
	}
	return 0, false
}

// MarshalJSON writes the breakdown with its entries as an object whose
// key order follows the rank order.
func (b Breakdown) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"dimension":`)
	name, err := json.Marshal(b.Dimension)
	if err != nil {
		return nil, err
	}
	buf.Write(name)
	buf.WriteString(`,"total":`)
	total, err := json.Marshal(b.Total)
	if err != nil {
		return nil, err
	}
	buf.Write(total)
	buf.WriteString(`,"breakdown":{`)
	for i, e := range b.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(e.Count)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// Period is a resolved, inclusive date range. Start and End are dates at
// midnight UTC.
type Period struct {
	Label string
	Start time.Time
	End   time.Time
}

// MonthCount is one month of a cumulative series.
type MonthCount struct {
	Month string
	Count int64
}

// History is a cumulative growth curve keyed by "YYYY-MM".
type History struct {
	Period    string
	StartDate string
	EndDate   string
	Monthly   []MonthCount
}

// MarshalJSON keeps monthly_counts in chronological key order.
func (h History) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	head, err := json.Marshal(struct {
		Period    string `json:"period"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}{h.Period, h.StartDate, h.EndDate})
	if err != nil {
		return nil, err
	}
	buf.Write(head[:len(head)-1])
	buf.WriteString(`,"monthly_counts":{`)
	for i, m := range h.Monthly {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.Month)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(m.Count)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// PassRate is a passed/failed tally with its derived percentage.
type PassRate struct {
	Total    int64   `json:"total"`
	Passed   int64   `json:"passed"`
	Failed   int64   `json:"failed"`
	PassRate float64 `json:"pass_rate"`
}

// MonthlyPassRates is one timeline point of test-result stats.
type MonthlyPassRates struct {
	Date    string              `json:"date"`
	Overall PassRate            `json:"overall"`
	Metrics map[string]PassRate `json:"metrics"`
}

// RunSummary is the per-test-run pass/fail summary.
type RunSummary struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	CreatedAt  string              `json:"created_at"`
	TotalTests int64               `json:"total_tests"`
	Overall    PassRate            `json:"overall"`
	Metrics    map[string]PassRate `json:"metrics"`
}

// ResultDistribution is the pass/fail/pending split of a set of test results.
type ResultDistribution struct {
	Total    int64   `json:"total"`
	Passed   int64   `json:"passed"`
	Failed   int64   `json:"failed"`
	Pending  int64   `json:"pending"`
	PassRate float64 `json:"pass_rate"`
}
