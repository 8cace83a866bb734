package schema

import (
	sq "github.com/Masterminds/squirrel"
)

// Table aliases used by the queries built from a DimensionInfo.
const (
	EntityAlias    = "e"
	DimensionAlias = "d"
)

// DimensionInfo describes one breakdown axis of an entity: the related
// table joined as DimensionAlias onto the entity table joined as
// EntityAlias.
type DimensionInfo struct {
	Name          string
	Target        string
	TargetTable   string
	DisplayColumn string
	Kind          RelationKind
	// EntityColumn is the foreign key column. It lives on the entity for
	// many-to-one relations and on the target for one-to-many relations.
	EntityColumn string
	// JoinPredicate is the ON clause joining d to e.
	JoinPredicate string
	// ExtraFilter, when set, is ANDed into the join condition.
	ExtraFilter sq.Sqlizer
}

// Label is the qualified display column expression.
func (d DimensionInfo) Label() string {
	return DimensionAlias + "." + d.DisplayColumn
}

// JoinClause renders the LEFT JOIN clause and its arguments. The extra
// filter goes into the ON condition so entities without a matching row
// still count under "None".
func (d DimensionInfo) JoinClause() (string, []any, error) {
	clause := d.TargetTable + " " + DimensionAlias + " ON " + d.JoinPredicate
	if d.ExtraFilter == nil {
		return clause, nil, nil
	}
	sql, args, err := d.ExtraFilter.ToSql()
	if err != nil {
		return "", nil, err
	}
	return clause + " AND " + sql, args, nil
}

// Discover lists the breakdown dimensions of an entity type in relation
// declaration order. Many-to-many relations and targets without a display
// column are skipped. An unknown entity yields an empty list.
func Discover(entity string) []DimensionInfo {
	desc, ok := Lookup(entity)
	if !ok {
		return []DimensionInfo{}
	}

	dims := make([]DimensionInfo, 0, len(desc.Relations))
	for _, rel := range desc.Relations {
		if rel.Kind == ManyToMany || rel.Secondary != "" {
			continue
		}
		target, ok := Lookup(rel.Target)
		if !ok || target.DisplayColumn == "" {
			continue
		}

		info := DimensionInfo{
			Name:          rel.Attr,
			Target:        target.Name,
			TargetTable:   target.Table,
			DisplayColumn: target.DisplayColumn,
			Kind:          rel.Kind,
			EntityColumn:  rel.ForeignKey,
		}
		switch rel.Kind {
		case ManyToOne:
			info.JoinPredicate = DimensionAlias + ".id = " + EntityAlias + "." + rel.ForeignKey
		case OneToMany:
			info.JoinPredicate = DimensionAlias + "." + rel.ForeignKey + " = " + EntityAlias + ".id"
		}
		if target.Name == Status {
			info.ExtraFilter = StatusTypeFilter(DimensionAlias, desc.Name)
		}
		dims = append(dims, info)
	}
	return dims
}

// StatusTypeFilter restricts a status table alias to the statuses that
// belong to entity, so one entity type's breakdown never shows another
// type's statuses.
func StatusTypeFilter(alias, entity string) sq.Sqlizer {
	return sq.Expr(alias+".entity_type_id IN (SELECT id FROM type_lookup WHERE type_name = ? AND type_value = ?)",
		"EntityType", entity)
}

// RelatedIDs returns a subquery selecting the ids of the entities reached
// from parentID through rel. owner is the entity that declares rel.
func RelatedIDs(owner EntityDescriptor, rel Relation, parentID string) (sq.SelectBuilder, bool) {
	target, ok := Lookup(rel.Target)
	if !ok {
		return sq.SelectBuilder{}, false
	}
	switch rel.Kind {
	case ManyToOne:
		return sq.Select(rel.ForeignKey).From(owner.Table).
			Where(sq.Eq{"id": parentID}).
			Where(sq.NotEq{rel.ForeignKey: nil}), true
	case OneToMany:
		return sq.Select("id").From(target.Table).Where(sq.Eq{rel.ForeignKey: parentID}), true
	default:
		return sq.Select(rel.RemoteKey).From(rel.Secondary).Where(sq.Eq{rel.LocalKey: parentID}), true
	}
}
