package filter

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/nixlim/evalstats/internal/storage"
)

// Field identifies one filterable criterion.
type Field int

const (
	FieldOrganization Field = iota
	FieldCreatedAt
	FieldTestSet
	FieldBehavior
	FieldCategory
	FieldTopic
	FieldStatus
	FieldTest
	FieldTestType
	FieldUser
	FieldAssignee
	FieldOwner
	FieldPrompt
	FieldTestRun
	FieldPriority
)

// Join aliases a scope may add.
const (
	JoinTest              = "t"
	JoinTestConfiguration = "tc"
)

// column maps a criterion onto a scope. A column either sits on the base
// table, needs a join, or lives behind the scope's nested EXISTS subquery.
type column struct {
	expr   string
	join   string
	nested bool
}

// Scope describes the table a composition filters and where each
// criterion lives relative to it.
type Scope struct {
	Alias string

	columns map[Field]column
	joins   map[string]string
	present map[string]bool

	// nested is the correlated subquery that test-level criteria are
	// pushed into for scopes that do not join the test table directly.
	nested sq.SelectBuilder

	tagEntity string
	tagColumn string
}

// TestResults is the scope over test_result rows aliased "tr".
func TestResults() Scope {
	return Scope{
		Alias: "tr",
		columns: map[Field]column{
			FieldOrganization: {expr: "tr.organization_id"},
			FieldCreatedAt:    {expr: "tr.created_at"},
			FieldTestSet:      {expr: "tc.test_set_id", join: JoinTestConfiguration},
			FieldBehavior:     {expr: "t.behavior_id", join: JoinTest},
			FieldCategory:     {expr: "t.category_id", join: JoinTest},
			FieldTopic:        {expr: "t.topic_id", join: JoinTest},
			FieldStatus:       {expr: "tr.status_id"},
			FieldTest:         {expr: "tr.test_id"},
			FieldTestType:     {expr: "t.test_type_id", join: JoinTest},
			FieldUser:         {expr: "tr.user_id"},
			FieldAssignee:     {expr: "t.assignee_id", join: JoinTest},
			FieldOwner:        {expr: "t.owner_id", join: JoinTest},
			FieldPrompt:       {expr: "tr.prompt_id"},
			FieldTestRun:      {expr: "tr.test_run_id"},
			FieldPriority:     {expr: "t.priority", join: JoinTest},
		},
		joins: map[string]string{
			JoinTest:              "test t ON t.id = tr.test_id",
			JoinTestConfiguration: "test_configuration tc ON tc.id = tr.test_configuration_id",
		},
		tagEntity: "Test",
		tagColumn: "tr.test_id",
	}
}

// TestRuns is the scope over test_run rows aliased "run". Test-level
// criteria match runs that contain at least one result satisfying all of
// them.
func TestRuns() Scope {
	return Scope{
		Alias: "run",
		columns: map[Field]column{
			FieldOrganization: {expr: "run.organization_id"},
			FieldCreatedAt:    {expr: "run.created_at"},
			FieldTestSet:      {expr: "tc.test_set_id", join: JoinTestConfiguration},
			FieldBehavior:     {expr: "rt.behavior_id", nested: true},
			FieldCategory:     {expr: "rt.category_id", nested: true},
			FieldTopic:        {expr: "rt.topic_id", nested: true},
			FieldStatus:       {expr: "run.status_id"},
			FieldTest:         {expr: "rr.test_id", nested: true},
			FieldTestType:     {expr: "rt.test_type_id", nested: true},
			FieldUser:         {expr: "run.user_id"},
			FieldAssignee:     {expr: "rt.assignee_id", nested: true},
			FieldOwner:        {expr: "rt.owner_id", nested: true},
			FieldPrompt:       {expr: "rr.prompt_id", nested: true},
			FieldTestRun:      {expr: "run.id"},
			FieldPriority:     {expr: "rt.priority", nested: true},
		},
		joins: map[string]string{
			JoinTestConfiguration: "test_configuration tc ON tc.id = run.test_configuration_id",
		},
		nested: sq.Select("1").From("test_result rr").
			LeftJoin("test rt ON rt.id = rr.test_id").
			Where("rr.test_run_id = run.id"),
		tagEntity: "TestRun",
		tagColumn: "run.id",
	}
}

// WithJoins returns a copy of s that treats the named joins as already
// present in the base query.
func (s Scope) WithJoins(names ...string) Scope {
	present := make(map[string]bool, len(s.present)+len(names))
	for k, v := range s.present {
		present[k] = v
	}
	for _, n := range names {
		present[n] = true
	}
	s.present = present
	return s
}

// Composer folds Criteria into a select statement.
type Composer struct {
	dialect storage.Dialect
}

// NewComposer creates a Composer for a storage dialect.
func NewComposer(dialect storage.Dialect) *Composer {
	return &Composer{dialect: dialect}
}

// Compose ANDs every populated criterion onto sb. Criteria are applied in
// declaration order and each join a criterion needs is added at most once.
func (p *Composer) Compose(sb sq.SelectBuilder, scope Scope, c Criteria) sq.SelectBuilder {
	f := &fold{sb: sb, scope: scope, joined: make(map[string]bool)}
	for k, v := range scope.present {
		f.joined[k] = v
	}

	if c.OrganizationID != "" {
		f.where(FieldOrganization, func(col string) sq.Sqlizer { return sq.Eq{col: c.OrganizationID} })
	}
	if c.period != nil {
		from := p.dialect.Time(c.period.Start)
		to := p.dialect.Time(c.period.UpperBound())
		f.where(FieldCreatedAt, func(col string) sq.Sqlizer {
			return sq.And{sq.GtOrEq{col: from}, sq.Lt{col: to}}
		})
	}
	f.in(FieldTestSet, c.TestSetIDs)
	f.in(FieldBehavior, c.BehaviorIDs)
	f.in(FieldCategory, c.CategoryIDs)
	f.in(FieldTopic, c.TopicIDs)
	f.in(FieldStatus, c.StatusIDs)
	f.in(FieldTest, c.TestIDs)
	f.in(FieldTestType, c.TestTypeIDs)
	f.in(FieldUser, c.UserIDs)
	f.in(FieldAssignee, c.AssigneeIDs)
	f.in(FieldOwner, c.OwnerIDs)
	f.in(FieldPrompt, c.PromptIDs)
	f.in(FieldTestRun, c.RunIDs())
	if c.PriorityMin != nil {
		lo := *c.PriorityMin
		f.where(FieldPriority, func(col string) sq.Sqlizer { return sq.GtOrEq{col: lo} })
	}
	if c.PriorityMax != nil {
		hi := *c.PriorityMax
		f.where(FieldPriority, func(col string) sq.Sqlizer { return sq.LtOrEq{col: hi} })
	}
	if len(c.Tags) > 0 {
		f.sb = f.sb.Where(sq.Expr("EXISTS (?)", tagSubquery(scope, c.Tags)))
	}

	return f.finish()
}

type fold struct {
	sb     sq.SelectBuilder
	scope  Scope
	joined map[string]bool
	nested []sq.Sqlizer
}

func (f *fold) in(field Field, ids []string) {
	if len(ids) == 0 {
		return
	}
	f.where(field, func(col string) sq.Sqlizer { return sq.Eq{col: ids} })
}

func (f *fold) where(field Field, pred func(col string) sq.Sqlizer) {
	col, ok := f.scope.columns[field]
	if !ok {
		return
	}
	if col.nested {
		f.nested = append(f.nested, pred(col.expr))
		return
	}
	if col.join != "" && !f.joined[col.join] {
		f.sb = f.sb.Join(f.scope.joins[col.join])
		f.joined[col.join] = true
	}
	f.sb = f.sb.Where(pred(col.expr))
}

func (f *fold) finish() sq.SelectBuilder {
	if len(f.nested) == 0 {
		return f.sb
	}
	sub := f.scope.nested
	for _, pred := range f.nested {
		sub = sub.Where(pred)
	}
	return f.sb.Where(sq.Expr("EXISTS (?)", sub))
}

func tagSubquery(scope Scope, tags []string) sq.SelectBuilder {
	return sq.Select("1").From("tagged_item ti").
		Join("tag tg ON tg.id = ti.tag_id").
		Where(sq.Eq{"ti.entity_type": scope.tagEntity}).
		Where("ti.entity_id = " + scope.tagColumn).
		Where(sq.Eq{"tg.name": tags})
}
