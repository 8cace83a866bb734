// Package analytics computes the dashboard statistics for entities, test
// results and test runs. Every call is a read-only projection of the
// current store: nothing is cached between calls.
package analytics

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nixlim/evalstats/internal/filter"
	"github.com/nixlim/evalstats/internal/stats"
	"github.com/nixlim/evalstats/internal/storage"
)

const defaultWorkers = 4

// Service answers stats requests against one store.
type Service struct {
	db       *storage.DB
	composer *filter.Composer
	logger   *zap.Logger
	timer    Timer
	now      func() time.Time

	workers       int
	defaultTop    int
	defaultMonths int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWorkers bounds how many independent queries one request runs at a
// time. Values below one mean sequential execution.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n < 1 {
			n = 1
		}
		s.workers = n
	}
}

// WithTimer installs a step timer.
func WithTimer(t Timer) Option {
	return func(s *Service) {
		if t != nil {
			s.timer = t
		}
	}
}

// WithClock overrides the clock used to resolve relative date ranges.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultTop sets the top-N applied when a request leaves it at zero.
func WithDefaultTop(top int) Option {
	return func(s *Service) {
		if top >= 0 {
			s.defaultTop = top
		}
	}
}

// WithDefaultMonths sets the history window used when a request gives
// neither dates nor a month count.
func WithDefaultMonths(months int) Option {
	return func(s *Service) {
		if months > 0 {
			s.defaultMonths = months
		}
	}
}

// New creates a Service reading from db.
func New(db *storage.DB, opts ...Option) *Service {
	s := &Service{
		db:            db,
		composer:      filter.NewComposer(db.Dialect),
		logger:        zap.NewNop(),
		timer:         nopTimer{},
		now:           time.Now,
		workers:       defaultWorkers,
		defaultMonths: stats.DefaultMonths,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) builder() sq.StatementBuilderType {
	return s.db.Dialect.Builder()
}

// checkOrganization rejects an organization scope that is not a UUID. An
// empty scope means every organization.
func checkOrganization(org string) error {
	if org == "" {
		return nil
	}
	if _, err := uuid.Parse(org); err != nil {
		return stats.NewValidationError("organization_id", org, "not a valid UUID")
	}
	return nil
}

func (s *Service) resolveTop(top int) (int, error) {
	if top < 0 {
		return 0, stats.NewValidationError("top", fmt.Sprint(top), "must not be negative")
	}
	if top == 0 {
		return s.defaultTop, nil
	}
	return top, nil
}

func (s *Service) resolveMonths(months int) int {
	if months <= 0 {
		return s.defaultMonths
	}
	return months
}

// selectRows runs a squirrel query and scans every row into dest.
func (s *Service) selectRows(ctx context.Context, dest any, q sq.Sqlizer) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	s.logger.Debug("stats query", zap.String("sql", query), zap.Int("args", len(args)))
	if err := s.db.SelectContext(ctx, dest, query, args...); err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	return nil
}

// count runs a single-value COUNT query.
func (s *Service) count(ctx context.Context, q sq.Sqlizer) (int64, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}
	s.logger.Debug("stats query", zap.String("sql", query), zap.Int("args", len(args)))
	var n int64
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("running count: %w", err)
	}
	return n, nil
}

func (s *Service) generatedAt() string {
	return s.now().UTC().Format(time.RFC3339)
}
