package stats

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the accepted format for explicit start/end dates.
	DateLayout = "2006-01-02"
	// MonthLayout is the key format of monthly series.
	MonthLayout = "2006-01"

	// DefaultMonths is the look-back window used when neither explicit
	// dates nor a month count are given.
	DefaultMonths = 6
)

// ParseDate parses a YYYY-MM-DD string into midnight UTC.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, NewValidationError(field, value, "expected YYYY-MM-DD")
	}
	return t, nil
}

// ResolvePeriod returns the date range a stats call covers. Explicit start
// and end strings take precedence; a missing end defaults to today and a
// missing start to months before the end. With neither given, the range is
// the last months months (DefaultMonths when months <= 0) ending today.
func ResolvePeriod(months int, start, end string, now time.Time) (Period, error) {
	if months <= 0 {
		months = DefaultMonths
	}
	today := truncateDay(now.UTC())

	if start == "" && end == "" {
		from := monthsBefore(today, months)
		return Period{
			Label: fmt.Sprintf("Last %d months", months),
			Start: from,
			End:   today,
		}, nil
	}

	to := today
	if end != "" {
		t, err := ParseDate("end_date", end)
		if err != nil {
			return Period{}, err
		}
		to = t
	}
	from := monthsBefore(to, months)
	if start != "" {
		t, err := ParseDate("start_date", start)
		if err != nil {
			return Period{}, err
		}
		from = t
	}
	if from.After(to) {
		return Period{}, NewValidationError("start_date", start, "must not be after end_date "+to.Format(DateLayout))
	}

	return Period{
		Label: from.Format(DateLayout) + " to " + to.Format(DateLayout),
		Start: from,
		End:   to,
	}, nil
}

// UpperBound is the exclusive upper bound of the period (the day after End).
func (p Period) UpperBound() time.Time {
	return p.End.AddDate(0, 0, 1)
}

// MonthKeys lists every calendar month touched by the period, oldest first.
func (p Period) MonthKeys() []string {
	var keys []string
	cur := time.Date(p.Start.Year(), p.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(p.End.Year(), p.End.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		keys = append(keys, cur.Format(MonthLayout))
		cur = cur.AddDate(0, 1, 0)
	}
	return keys
}

// BuildCumulativeSeries converts sparse per-month counts into a running
// total over every month of the period. baseline is the population that
// existed before the period started. A month with data adds its count; a
// month without data carries the previous total forward. When nothing
// exists at all the series is empty.
func BuildCumulativeSeries(p Period, baseline int64, monthly map[string]int64) History {
	h := History{
		Period:    p.Label,
		StartDate: p.Start.Format(DateLayout),
		EndDate:   p.End.Format(DateLayout),
		Monthly:   []MonthCount{},
	}

	var inRange int64
	for _, key := range p.MonthKeys() {
		inRange += monthly[key]
	}
	if baseline+inRange == 0 {
		return h
	}

	running := baseline
	for _, key := range p.MonthKeys() {
		if n, ok := monthly[key]; ok {
			running += n
		}
		h.Monthly = append(h.Monthly, MonthCount{Month: key, Count: running})
	}
	return h
}

// EmptyHistory is the zero-valued history for a period.
func EmptyHistory(p Period) History {
	return BuildCumulativeSeries(p, 0, nil)
}

// monthsBefore steps back whole calendar months, clamping the day to the
// length of the target month (Aug 31 minus 6 months is Feb 28).
func monthsBefore(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month()-time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(t.Day(), lastDay), 0, 0, 0, 0, time.UTC)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
