package stats

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 20, 15, 30, 0, 0, time.UTC)

func TestResolvePeriod_Defaults(t *testing.T) {
	p, err := ResolvePeriod(0, "", "", now)
	require.NoError(t, err)
	assert.Equal(t, "Last 6 months", p.Label)
	assert.Equal(t, "2025-09-20", p.Start.Format(DateLayout))
	assert.Equal(t, "2026-03-20", p.End.Format(DateLayout))

	p, err = ResolvePeriod(2, "", "", now)
	require.NoError(t, err)
	assert.Equal(t, "Last 2 months", p.Label)
	assert.Equal(t, "2026-01-20", p.Start.Format(DateLayout))
}

func TestResolvePeriod_MonthEnd(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		months    int
		end       string
		wantStart string
		wantKeys  []string
	}{
		{
			name:      "six months back from Aug 31",
			now:       time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC),
			months:    6,
			wantStart: "2026-02-28",
			wantKeys:  []string{"2026-02", "2026-03", "2026-04", "2026-05", "2026-06", "2026-07", "2026-08"},
		},
		{
			name:      "one month back from Mar 31",
			now:       time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC),
			months:    1,
			wantStart: "2026-02-28",
			wantKeys:  []string{"2026-02", "2026-03"},
		},
		{
			name:      "leap year February",
			now:       time.Date(2028, 5, 31, 9, 0, 0, 0, time.UTC),
			months:    3,
			wantStart: "2028-02-29",
			wantKeys:  []string{"2028-02", "2028-03", "2028-04", "2028-05"},
		},
		{
			name:      "across a year boundary",
			now:       time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC),
			months:    2,
			wantStart: "2025-11-30",
			wantKeys:  []string{"2025-11", "2025-12", "2026-01"},
		},
		{
			name:      "explicit end date at month end",
			now:       now,
			months:    1,
			end:       "2025-12-31",
			wantStart: "2025-11-30",
			wantKeys:  []string{"2025-11", "2025-12"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ResolvePeriod(tt.months, "", tt.end, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, p.Start.Format(DateLayout))
			assert.Equal(t, tt.wantKeys, p.MonthKeys())
		})
	}
}

func TestResolvePeriod_ExplicitDates(t *testing.T) {
	p, err := ResolvePeriod(6, "2026-01-01", "2026-03-31", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01 to 2026-03-31", p.Label)
	assert.Equal(t, []string{"2026-01", "2026-02", "2026-03"}, p.MonthKeys())
	assert.Equal(t, "2026-04-01", p.UpperBound().Format(DateLayout))

	p, err = ResolvePeriod(3, "", "2026-02-15", now)
	require.NoError(t, err)
	assert.Equal(t, "2025-11-15", p.Start.Format(DateLayout))

	p, err = ResolvePeriod(3, "2026-03-01", "", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-20", p.End.Format(DateLayout))
}

func TestResolvePeriod_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		start     string
		end       string
		wantField string
	}{
		{"garbage start", "last tuesday", "", "start_date"},
		{"garbage end", "", "2026-02-30", "end_date"},
		{"start after end", "2026-03-02", "2026-03-01", "start_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolvePeriod(6, tt.start, tt.end, now)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestBuildCumulativeSeries_CarriesForward(t *testing.T) {
	p, err := ResolvePeriod(0, "2026-01-01", "2026-03-31", now)
	require.NoError(t, err)

	h := BuildCumulativeSeries(p, 0, map[string]int64{"2026-01": 2, "2026-03": 1})
	assert.Equal(t, []MonthCount{
		{Month: "2026-01", Count: 2},
		{Month: "2026-02", Count: 2},
		{Month: "2026-03", Count: 3},
	}, h.Monthly)

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Equal(t,
		`{"period":"2026-01-01 to 2026-03-31","start_date":"2026-01-01","end_date":"2026-03-31","monthly_counts":{"2026-01":2,"2026-02":2,"2026-03":3}}`,
		string(data))
}

func TestBuildCumulativeSeries_Baseline(t *testing.T) {
	p, err := ResolvePeriod(0, "2026-01-01", "2026-02-28", now)
	require.NoError(t, err)

	h := BuildCumulativeSeries(p, 5, nil)
	assert.Equal(t, []MonthCount{{Month: "2026-01", Count: 5}, {Month: "2026-02", Count: 5}}, h.Monthly)
}

func TestBuildCumulativeSeries_NonDecreasing(t *testing.T) {
	p, err := ResolvePeriod(12, "", "", now)
	require.NoError(t, err)

	h := BuildCumulativeSeries(p, 1, map[string]int64{"2025-06": 4, "2025-12": 1, "2026-02": 7})
	require.Len(t, h.Monthly, 13)
	for i := 1; i < len(h.Monthly); i++ {
		assert.GreaterOrEqual(t, h.Monthly[i].Count, h.Monthly[i-1].Count)
	}
	assert.Equal(t, int64(13), h.Monthly[len(h.Monthly)-1].Count)
}

func TestBuildCumulativeSeries_Empty(t *testing.T) {
	p, err := ResolvePeriod(6, "", "", now)
	require.NoError(t, err)

	h := EmptyHistory(p)
	assert.NotNil(t, h.Monthly)
	assert.Empty(t, h.Monthly)

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"monthly_counts":{}`)
}

func TestBuildCumulativeSeries_IgnoresOutOfRangeMonths(t *testing.T) {
	p, err := ResolvePeriod(0, "2026-01-01", "2026-01-31", now)
	require.NoError(t, err)

	h := BuildCumulativeSeries(p, 0, map[string]int64{"2025-12": 9})
	assert.Empty(t, h.Monthly)
}
