package analytics

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/nixlim/evalstats/internal/schema"
	"github.com/nixlim/evalstats/internal/stats"
)

// RelatedRequest asks for the stats of the entities reached from a parent
// entity through one of its relations, for example the tests of a
// behavior.
type RelatedRequest struct {
	Entity        string
	RelatedEntity string
	Relation      string
	// EntityID selects one parent. Without it the whole population of the
	// related type is used.
	EntityID string

	OrganizationID  string
	Top             int
	CategoryColumns []string
	Months          int
	StartDate       string
	EndDate         string
}

// GetRelatedStats computes EntityStats over the related entities of one
// parent. A parent that does not exist yields a zero response.
func (s *Service) GetRelatedStats(ctx context.Context, req RelatedRequest) (*EntityStats, error) {
	defer s.step("related")()

	owner, ok := schema.Lookup(req.Entity)
	if !ok {
		return nil, stats.NewValidationError("entity_type", req.Entity, "unknown entity type")
	}
	rel, ok := owner.Relation(req.Relation)
	if !ok {
		return nil, stats.NewValidationError("relationship", req.Relation, "not a relation of "+owner.Name)
	}
	if rel.Target != req.RelatedEntity {
		return nil, stats.NewValidationError("related_type", req.RelatedEntity,
			fmt.Sprintf("%s.%s points at %s", owner.Name, rel.Attr, rel.Target))
	}
	if req.EntityID != "" {
		if _, err := uuid.Parse(req.EntityID); err != nil {
			return nil, stats.NewValidationError("entity_id", req.EntityID, "not a valid UUID")
		}
	}
	if err := checkOrganization(req.OrganizationID); err != nil {
		return nil, err
	}

	q, err := s.newEntityQuery(EntityRequest{
		Entity:          req.RelatedEntity,
		OrganizationID:  req.OrganizationID,
		Top:             req.Top,
		CategoryColumns: req.CategoryColumns,
		Months:          req.Months,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
	})
	if err != nil {
		return nil, err
	}
	q.meta.SourceEntityType = owner.Name
	q.meta.SourceEntityID = req.EntityID
	q.meta.Relationship = rel.Attr

	if req.EntityID == "" {
		return s.entityStats(ctx, q)
	}

	parent := s.builder().Select("COUNT(*)").From(owner.Table).Where(sq.Eq{"id": req.EntityID})
	if req.OrganizationID != "" {
		parent = parent.Where(sq.Eq{"organization_id": req.OrganizationID})
	}
	n, err := s.count(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("looking up %s %s: %w", owner.Name, req.EntityID, err)
	}
	if n == 0 {
		return q.zero(), nil
	}

	ids, ok := schema.RelatedIDs(owner, rel, req.EntityID)
	if !ok {
		return q.zero(), nil
	}
	q.restrict = sq.Expr(schema.EntityAlias+".id IN (?)", ids)
	return s.entityStats(ctx, q)
}
