package analytics

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"github.com/nixlim/evalstats/internal/schema"
	"github.com/nixlim/evalstats/internal/stats"
)

type monthRow struct {
	Month sql.NullString `db:"month"`
	Count int64          `db:"count"`
}

// history builds the cumulative creation curve of the entities in q. The
// curve starts from the number of entities created before the period.
func (s *Service) history(ctx context.Context, q *entityQuery) (stats.History, error) {
	created := schema.EntityAlias + ".created_at"
	start := s.db.Dialect.Time(q.period.Start)
	end := s.db.Dialect.Time(q.period.UpperBound())

	baseline, err := s.count(ctx, s.builder().
		Select("COUNT(*)").
		From(q.from()).
		Where(q.where()).
		Where(sq.Lt{created: start}))
	if err != nil {
		return stats.History{}, err
	}

	month := s.db.Dialect.MonthExpr(created)
	var rows []monthRow
	err = s.selectRows(ctx, &rows, s.builder().
		Select(month+" AS month", "COUNT(*) AS count").
		From(q.from()).
		Where(q.where()).
		Where(sq.GtOrEq{created: start}).
		Where(sq.Lt{created: end}).
		GroupBy(month))
	if err != nil {
		return stats.History{}, err
	}

	monthly := make(map[string]int64, len(rows))
	for _, r := range rows {
		if r.Month.Valid {
			monthly[r.Month.String] += r.Count
		}
	}
	return stats.BuildCumulativeSeries(q.period, baseline, monthly), nil
}
