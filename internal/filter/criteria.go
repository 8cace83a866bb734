// Package filter turns a set of optional filter criteria into query
// predicates for the test-result and test-run statistics.
package filter

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nixlim/evalstats/internal/stats"
)

// Criteria is the set of optional filters a stats call accepts. Every
// populated field narrows the result set; empty fields are ignored. The
// value is treated as immutable: With* methods return modified copies.
type Criteria struct {
	OrganizationID string

	// StartDate and EndDate are YYYY-MM-DD. Months is the look-back window
	// used when only one or neither date is given.
	StartDate string
	EndDate   string
	Months    int

	TestSetIDs  []string
	BehaviorIDs []string
	CategoryIDs []string
	TopicIDs    []string
	StatusIDs   []string
	TestIDs     []string
	TestTypeIDs []string
	UserIDs     []string
	AssigneeIDs []string
	OwnerIDs    []string
	PromptIDs   []string

	// TestRunID is the single-run filter kept for older callers. It is
	// unioned with TestRunIDs.
	TestRunID  string
	TestRunIDs []string

	PriorityMin *int
	PriorityMax *int

	Tags []string

	period *stats.Period
}

// HasDateRange reports whether any date criterion is set.
func (c Criteria) HasDateRange() bool {
	return c.StartDate != "" || c.EndDate != "" || c.Months > 0
}

// ResolvePeriod returns the date range the criteria select, or nil when no
// date criterion is set.
func (c Criteria) ResolvePeriod(now time.Time) (*stats.Period, error) {
	if !c.HasDateRange() {
		return nil, nil
	}
	p, err := stats.ResolvePeriod(c.Months, c.StartDate, c.EndDate, now)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// WithPeriod returns a copy of c that filters rows created within p.
func (c Criteria) WithPeriod(p *stats.Period) Criteria {
	c.period = p
	return c
}

// Period is the resolved date range set by WithPeriod, if any.
func (c Criteria) Period() *stats.Period {
	return c.period
}

// RunIDs unions TestRunID and TestRunIDs, dropping duplicates.
func (c Criteria) RunIDs() []string {
	if c.TestRunID == "" {
		return c.TestRunIDs
	}
	ids := make([]string, 0, len(c.TestRunIDs)+1)
	ids = append(ids, c.TestRunID)
	for _, id := range c.TestRunIDs {
		if id != c.TestRunID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Validate checks ids, the priority range and the date strings. It
// returns a *stats.ValidationError for the first invalid field.
func (c Criteria) Validate() error {
	if c.OrganizationID != "" {
		if err := checkID("organization_id", c.OrganizationID); err != nil {
			return err
		}
	}
	if c.TestRunID != "" {
		if err := checkID("test_run_id", c.TestRunID); err != nil {
			return err
		}
	}

	lists := []struct {
		field string
		ids   []string
	}{
		{"test_set_ids", c.TestSetIDs},
		{"behavior_ids", c.BehaviorIDs},
		{"category_ids", c.CategoryIDs},
		{"topic_ids", c.TopicIDs},
		{"status_ids", c.StatusIDs},
		{"test_ids", c.TestIDs},
		{"test_type_ids", c.TestTypeIDs},
		{"user_ids", c.UserIDs},
		{"assignee_ids", c.AssigneeIDs},
		{"owner_ids", c.OwnerIDs},
		{"prompt_ids", c.PromptIDs},
		{"test_run_ids", c.TestRunIDs},
	}
	for _, l := range lists {
		for _, id := range l.ids {
			if err := checkID(l.field, id); err != nil {
				return err
			}
		}
	}

	if c.PriorityMin != nil && c.PriorityMax != nil && *c.PriorityMin > *c.PriorityMax {
		return stats.NewValidationError("priority_min", strconv.Itoa(*c.PriorityMin),
			"must not exceed priority_max "+strconv.Itoa(*c.PriorityMax))
	}

	for _, tag := range c.Tags {
		if tag == "" {
			return stats.NewValidationError("tags", tag, "tag names must not be empty")
		}
	}

	if c.Months < 0 {
		return stats.NewValidationError("months", strconv.Itoa(c.Months), "must not be negative")
	}
	if c.StartDate != "" {
		if _, err := stats.ParseDate("start_date", c.StartDate); err != nil {
			return err
		}
	}
	if c.EndDate != "" {
		if _, err := stats.ParseDate("end_date", c.EndDate); err != nil {
			return err
		}
	}
	return nil
}

func checkID(field, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return stats.NewValidationError(field, id, "not a valid UUID")
	}
	return nil
}
