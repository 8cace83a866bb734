package stats

import (
	"math"

	"github.com/tidwall/gjson"
)

// Classification is the run-level verdict for one test result.
type Classification int

const (
	Pending Classification = iota
	Passed
	Failed
)

func (c Classification) String() string {
	switch c {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Outcome is the parsed metrics payload of one test result.
// Valid is false for absent, malformed or flag-less payloads.
type Outcome struct {
	Valid   bool
	Passed  bool
	Metrics map[string]bool
}

// ParseOutcome reads a metrics payload of the form
//
//	{"<metric>": {"is_successful": true, ...}, ...}
//
// optionally nested under a top-level "metrics" object. Entries whose
// is_successful is missing or not a boolean are ignored. The overall
// outcome passes iff every remaining flag is true.
func ParseOutcome(raw []byte) Outcome {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return Outcome{}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Outcome{}
	}
	if nested := root.Get("metrics"); nested.IsObject() && !isMetricEntry(nested) {
		root = nested
	}

	out := Outcome{Metrics: make(map[string]bool), Passed: true}
	root.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			return true
		}
		flag := value.Get("is_successful")
		if !flag.IsBool() {
			return true
		}
		ok := flag.Bool()
		out.Metrics[key.String()] = ok
		if !ok {
			out.Passed = false
		}
		return true
	})

	if len(out.Metrics) == 0 {
		return Outcome{}
	}
	out.Valid = true
	return out
}

// isMetricEntry reports whether v is itself a metric entry rather than a
// container of entries. Guards against a metric literally named "metrics".
func isMetricEntry(v gjson.Result) bool {
	return v.Get("is_successful").IsBool()
}

// Classify maps an outcome to passed, failed or pending.
func Classify(o Outcome) Classification {
	switch {
	case !o.Valid:
		return Pending
	case o.Passed:
		return Passed
	default:
		return Failed
	}
}

// ClassifyPayload parses and classifies a raw metrics payload.
func ClassifyPayload(raw []byte) Classification {
	return Classify(ParseOutcome(raw))
}

// Percentage returns part/total*100 rounded to two decimals, or 0 when
// total is zero.
func Percentage(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*100*100) / 100
}

// NewPassRate builds a PassRate from passed and failed counts.
func NewPassRate(passed, failed int64) PassRate {
	total := passed + failed
	return PassRate{
		Total:    total,
		Passed:   passed,
		Failed:   failed,
		PassRate: Percentage(passed, total),
	}
}

// NewResultDistribution builds a ResultDistribution. The pass rate is taken
// over the whole population, pending included.
func NewResultDistribution(passed, failed, pending int64) ResultDistribution {
	total := passed + failed + pending
	return ResultDistribution{
		Total:    total,
		Passed:   passed,
		Failed:   failed,
		Pending:  pending,
		PassRate: Percentage(passed, total),
	}
}
