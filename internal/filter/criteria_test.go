package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixlim/evalstats/internal/stats"
)

func TestCriteria_Validate(t *testing.T) {
	lo, hi := 4, 2

	tests := []struct {
		name      string
		criteria  Criteria
		wantField string
	}{
		{name: "empty", criteria: Criteria{}},
		{name: "valid ids", criteria: Criteria{OrganizationID: orgID, BehaviorIDs: []string{behave1}, TestRunID: runA}},
		{name: "bad org", criteria: Criteria{OrganizationID: "acme"}, wantField: "organization_id"},
		{name: "bad list id", criteria: Criteria{TopicIDs: []string{behave1, "nope"}}, wantField: "topic_ids"},
		{name: "bad legacy run id", criteria: Criteria{TestRunID: "42"}, wantField: "test_run_id"},
		{name: "priority inverted", criteria: Criteria{PriorityMin: &lo, PriorityMax: &hi}, wantField: "priority_min"},
		{name: "empty tag", criteria: Criteria{Tags: []string{""}}, wantField: "tags"},
		{name: "negative months", criteria: Criteria{Months: -1}, wantField: "months"},
		{name: "bad start date", criteria: Criteria{StartDate: "2026/01/01"}, wantField: "start_date"},
		{name: "bad end date", criteria: Criteria{EndDate: "tomorrow"}, wantField: "end_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.criteria.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *stats.ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestCriteria_RunIDs(t *testing.T) {
	assert.Nil(t, Criteria{}.RunIDs())
	assert.Equal(t, []string{runA}, Criteria{TestRunID: runA}.RunIDs())
	assert.Equal(t, []string{runB}, Criteria{TestRunIDs: []string{runB}}.RunIDs())
	assert.Equal(t, []string{runA, runB}, Criteria{TestRunID: runA, TestRunIDs: []string{runA, runB}}.RunIDs())
}

func TestCriteria_ResolvePeriod(t *testing.T) {
	now := time.Date(2026, 5, 15, 10, 0, 0, 0, time.UTC)

	p, err := Criteria{}.ResolvePeriod(now)
	require.NoError(t, err)
	assert.Nil(t, p, "no date criteria means no date filter")

	p, err = Criteria{Months: 2}.ResolvePeriod(now)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "2026-03-15", p.Start.Format(stats.DateLayout))
	assert.Equal(t, "2026-05-15", p.End.Format(stats.DateLayout))

	p, err = Criteria{Months: 1}.ResolvePeriod(time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "2026-02-28", p.Start.Format(stats.DateLayout), "month-end window must not skip days")

	_, err = Criteria{StartDate: "2026-06-01", EndDate: "2026-01-01"}.ResolvePeriod(now)
	var verr *stats.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestCriteria_WithPeriodDoesNotMutate(t *testing.T) {
	base := Criteria{OrganizationID: orgID}
	p := &stats.Period{Start: time.Now(), End: time.Now()}

	withPeriod := base.WithPeriod(p)
	assert.Nil(t, base.Period())
	assert.Same(t, p, withPeriod.Period())
}
