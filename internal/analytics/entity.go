package analytics

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/nixlim/evalstats/internal/schema"
	"github.com/nixlim/evalstats/internal/stats"
)

// EntityRequest asks for the breakdowns and growth history of one entity
// type.
type EntityRequest struct {
	Entity         string
	OrganizationID string
	// Top limits every breakdown to its N largest labels plus "Others".
	// Zero uses the service default.
	Top int
	// CategoryColumns are scalar columns of the entity to break down by
	// in addition to the discovered relations.
	CategoryColumns []string
	Months          int
	StartDate       string
	EndDate         string
}

// EntityStats is the response of GetEntityStats and GetRelatedStats.
type EntityStats struct {
	Total    int64                      `json:"total"`
	Stats    map[string]stats.Breakdown `json:"stats"`
	History  stats.History              `json:"history"`
	Metadata EntityMetadata             `json:"metadata"`
}

// EntityMetadata describes how an EntityStats response was computed.
type EntityMetadata struct {
	GeneratedAt     string   `json:"generated_at"`
	OrganizationID  string   `json:"organization_id,omitempty"`
	EntityType      string   `json:"entity_type"`
	Dimensions      []string `json:"dimensions"`
	CategoryColumns []string `json:"category_columns"`
	Top             int      `json:"top,omitempty"`
	Period          string   `json:"period"`
	StartDate       string   `json:"start_date"`
	EndDate         string   `json:"end_date"`

	SourceEntityType string `json:"source_entity_type,omitempty"`
	SourceEntityID   string `json:"source_entity_id,omitempty"`
	Relationship     string `json:"relationship,omitempty"`
}

// GetEntityStats returns the total count, every discovered dimension
// breakdown, the requested category column breakdowns and the cumulative
// creation history of an entity type.
func (s *Service) GetEntityStats(ctx context.Context, req EntityRequest) (*EntityStats, error) {
	defer s.step("entity")()

	q, err := s.newEntityQuery(req)
	if err != nil {
		return nil, err
	}
	return s.entityStats(ctx, q)
}

// entityQuery is a validated entity stats request.
type entityQuery struct {
	desc     schema.EntityDescriptor
	org      string
	top      int
	columns  []string
	period   stats.Period
	restrict sq.Sqlizer
	meta     EntityMetadata
}

func (s *Service) newEntityQuery(req EntityRequest) (*entityQuery, error) {
	desc, ok := schema.Lookup(req.Entity)
	if !ok {
		return nil, stats.NewValidationError("entity_type", req.Entity, "unknown entity type")
	}
	if err := checkOrganization(req.OrganizationID); err != nil {
		return nil, err
	}
	top, err := s.resolveTop(req.Top)
	if err != nil {
		return nil, err
	}
	for _, col := range req.CategoryColumns {
		if !desc.HasColumn(col) {
			return nil, stats.NewValidationError("category_columns", col, "not a column of "+desc.Name)
		}
	}
	period, err := stats.ResolvePeriod(s.resolveMonths(req.Months), req.StartDate, req.EndDate, s.now())
	if err != nil {
		return nil, err
	}

	columns := append([]string{}, req.CategoryColumns...)
	return &entityQuery{
		desc:    desc,
		org:     req.OrganizationID,
		top:     top,
		columns: columns,
		period:  period,
		meta: EntityMetadata{
			GeneratedAt:     s.generatedAt(),
			OrganizationID:  req.OrganizationID,
			EntityType:      desc.Name,
			Dimensions:      []string{},
			CategoryColumns: columns,
			Top:             top,
			Period:          period.Label,
			StartDate:       period.Start.Format(stats.DateLayout),
			EndDate:         period.End.Format(stats.DateLayout),
		},
	}, nil
}

// where is the row scope shared by every query of the request.
func (q *entityQuery) where() sq.And {
	var preds sq.And
	if q.org != "" {
		preds = append(preds, sq.Eq{schema.EntityAlias + ".organization_id": q.org})
	}
	if q.restrict != nil {
		preds = append(preds, q.restrict)
	}
	return preds
}

func (q *entityQuery) from() string {
	return q.desc.Table + " " + schema.EntityAlias
}

// zero is the response for an empty population.
func (q *entityQuery) zero() *EntityStats {
	return &EntityStats{
		Stats:    map[string]stats.Breakdown{},
		History:  stats.EmptyHistory(q.period),
		Metadata: q.meta,
	}
}

type labelRow struct {
	Label sql.NullString `db:"label"`
	Count int64          `db:"count"`
}

func toLabelCounts(rows []labelRow) []stats.LabelCount {
	out := make([]stats.LabelCount, 0, len(rows))
	for _, r := range rows {
		lc := stats.LabelCount{Count: r.Count}
		if r.Label.Valid {
			label := r.Label.String
			lc.Label = &label
		}
		out = append(out, lc)
	}
	return out
}

func (s *Service) entityStats(ctx context.Context, q *entityQuery) (*EntityStats, error) {
	total, err := s.count(ctx, s.builder().Select("COUNT(*)").From(q.from()).Where(q.where()))
	if err != nil {
		return nil, fmt.Errorf("counting %s: %w", q.desc.Name, err)
	}
	if total == 0 {
		return q.zero(), nil
	}

	dims := schema.Discover(q.desc.Name)
	breakdowns := make([]stats.Breakdown, len(dims)+len(q.columns))
	var history stats.History

	tasks := make([]task, 0, len(breakdowns)+1)
	for i, dim := range dims {
		tasks = append(tasks, task{
			step: "entity.dimension." + dim.Name,
			run: func(ctx context.Context) error {
				b, err := s.dimensionBreakdown(ctx, q, dim)
				if err != nil {
					return fmt.Errorf("breaking down %s by %s: %w", q.desc.Name, dim.Name, err)
				}
				breakdowns[i] = b
				return nil
			},
		})
	}
	for j, col := range q.columns {
		slot := len(dims) + j
		tasks = append(tasks, task{
			step: "entity.column." + col,
			run: func(ctx context.Context) error {
				b, err := s.columnBreakdown(ctx, q, col)
				if err != nil {
					return fmt.Errorf("breaking down %s by column %s: %w", q.desc.Name, col, err)
				}
				breakdowns[slot] = b
				return nil
			},
		})
	}
	tasks = append(tasks, task{
		step: "entity.history",
		run: func(ctx context.Context) error {
			h, err := s.history(ctx, q)
			if err != nil {
				return fmt.Errorf("building %s history: %w", q.desc.Name, err)
			}
			history = h
			return nil
		},
	})

	if err := s.runTasks(ctx, tasks); err != nil {
		return nil, err
	}

	res := &EntityStats{
		Total:    total,
		Stats:    make(map[string]stats.Breakdown, len(breakdowns)),
		History:  history,
		Metadata: q.meta,
	}
	res.Metadata.Dimensions = make([]string, 0, len(dims))
	for _, d := range dims {
		res.Metadata.Dimensions = append(res.Metadata.Dimensions, d.Name)
	}
	for _, b := range breakdowns {
		if _, dup := res.Stats[b.Dimension]; dup {
			s.logger.Warn("duplicate breakdown name, keeping the first",
				zap.String("entity", q.desc.Name), zap.String("dimension", b.Dimension))
			continue
		}
		res.Stats[b.Dimension] = b
	}
	return res, nil
}

// dimensionBreakdown counts distinct entities per related display value.
// The relation is LEFT JOINed so unrelated entities land under "None".
func (s *Service) dimensionBreakdown(ctx context.Context, q *entityQuery, dim schema.DimensionInfo) (stats.Breakdown, error) {
	join, joinArgs, err := dim.JoinClause()
	if err != nil {
		return stats.Breakdown{}, err
	}
	query := s.builder().
		Select(dim.Label()+" AS label", "COUNT(DISTINCT "+schema.EntityAlias+".id) AS count").
		From(q.from()).
		LeftJoin(join, joinArgs...).
		Where(q.where()).
		GroupBy(dim.Label())

	var rows []labelRow
	if err := s.selectRows(ctx, &rows, query); err != nil {
		return stats.Breakdown{}, err
	}
	return stats.RankBreakdown(dim.Name, toLabelCounts(rows), q.top), nil
}

// columnBreakdown counts entities per value of a scalar column.
func (s *Service) columnBreakdown(ctx context.Context, q *entityQuery, col string) (stats.Breakdown, error) {
	expr := "CAST(" + schema.EntityAlias + "." + col + " AS TEXT)"
	query := s.builder().
		Select(expr+" AS label", "COUNT(*) AS count").
		From(q.from()).
		Where(q.where()).
		GroupBy(expr)

	var rows []labelRow
	if err := s.selectRows(ctx, &rows, query); err != nil {
		return stats.Breakdown{}, err
	}
	return stats.RankBreakdown(col, toLabelCounts(rows), q.top), nil
}
