// Package schema describes the entity tables the stats engine reads and
// the relationships between them. The registry replaces runtime ORM
// introspection: dimensions are discovered from these static descriptors.
package schema

import (
	"sort"
)

// Entity type names, as stored in TypeLookup(type_name='EntityType').
const (
	Test              = "Test"
	TestResult        = "TestResult"
	TestRun           = "TestRun"
	TestConfiguration = "TestConfiguration"
	TestSet           = "TestSet"
	Behavior          = "Behavior"
	Category          = "Category"
	Topic             = "Topic"
	Status            = "Status"
	User              = "User"
	TypeLookup        = "TypeLookup"
	Prompt            = "Prompt"
	Tag               = "Tag"
)

// RelationKind is the cardinality of a relation seen from its owner.
type RelationKind int

const (
	ManyToOne RelationKind = iota
	OneToMany
	ManyToMany
)

func (k RelationKind) String() string {
	switch k {
	case ManyToOne:
		return "many-to-one"
	case OneToMany:
		return "one-to-many"
	default:
		return "many-to-many"
	}
}

// Relation is one navigable relationship of an entity.
//
// For ManyToOne, ForeignKey is the column on the owner pointing at the
// target. For OneToMany, ForeignKey is the column on the target pointing
// back at the owner. ManyToMany goes through Secondary, whose LocalKey
// references the owner and RemoteKey the target.
type Relation struct {
	Attr       string
	Target     string
	Kind       RelationKind
	ForeignKey string
	Secondary  string
	LocalKey   string
	RemoteKey  string
}

// EntityDescriptor describes one entity table.
type EntityDescriptor struct {
	Name string
	// Table is the SQL table name.
	Table string
	// DisplayColumn is the human-readable label column, empty when the
	// entity has none.
	DisplayColumn string
	// Columns are the scalar columns callers may break down by directly.
	Columns   []string
	Relations []Relation
}

// HasColumn reports whether column is a declared scalar column.
func (d EntityDescriptor) HasColumn(column string) bool {
	for _, c := range d.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Relation looks up a relation by attribute name.
func (d EntityDescriptor) Relation(attr string) (Relation, bool) {
	for _, r := range d.Relations {
		if r.Attr == attr {
			return r, true
		}
	}
	return Relation{}, false
}

func m2o(attr, target, fk string) Relation {
	return Relation{Attr: attr, Target: target, Kind: ManyToOne, ForeignKey: fk}
}

func o2m(attr, target, fk string) Relation {
	return Relation{Attr: attr, Target: target, Kind: OneToMany, ForeignKey: fk}
}

func m2m(attr, target, secondary, local, remote string) Relation {
	return Relation{Attr: attr, Target: target, Kind: ManyToMany, Secondary: secondary, LocalKey: local, RemoteKey: remote}
}

var registry = map[string]EntityDescriptor{
	Test: {
		Name:    Test,
		Table:   "test",
		Columns: []string{"priority"},
		Relations: []Relation{
			m2o("prompt", Prompt, "prompt_id"),
			m2o("test_type", TypeLookup, "test_type_id"),
			m2o("user", User, "user_id"),
			m2o("assignee", User, "assignee_id"),
			m2o("owner", User, "owner_id"),
			m2o("behavior", Behavior, "behavior_id"),
			m2o("category", Category, "category_id"),
			m2o("topic", Topic, "topic_id"),
			m2o("status", Status, "status_id"),
			m2m("test_sets", TestSet, "test_test_set", "test_id", "test_set_id"),
			o2m("test_results", TestResult, "test_id"),
		},
	},
	TestResult: {
		Name:  TestResult,
		Table: "test_result",
		Relations: []Relation{
			m2o("test_configuration", TestConfiguration, "test_configuration_id"),
			m2o("test_run", TestRun, "test_run_id"),
			m2o("prompt", Prompt, "prompt_id"),
			m2o("test", Test, "test_id"),
			m2o("status", Status, "status_id"),
			m2o("user", User, "user_id"),
		},
	},
	TestRun: {
		Name:          TestRun,
		Table:         "test_run",
		DisplayColumn: "name",
		Relations: []Relation{
			m2o("test_configuration", TestConfiguration, "test_configuration_id"),
			m2o("status", Status, "status_id"),
			m2o("user", User, "user_id"),
			o2m("test_results", TestResult, "test_run_id"),
		},
	},
	TestConfiguration: {
		Name:  TestConfiguration,
		Table: "test_configuration",
		Relations: []Relation{
			m2o("test_set", TestSet, "test_set_id"),
			m2o("user", User, "user_id"),
			m2o("status", Status, "status_id"),
			o2m("test_runs", TestRun, "test_configuration_id"),
		},
	},
	TestSet: {
		Name:          TestSet,
		Table:         "test_set",
		DisplayColumn: "name",
		Relations: []Relation{
			m2o("status", Status, "status_id"),
			m2o("user", User, "user_id"),
			m2m("tests", Test, "test_test_set", "test_set_id", "test_id"),
		},
	},
	Behavior: {
		Name:          Behavior,
		Table:         "behavior",
		DisplayColumn: "name",
		Relations: []Relation{
			m2o("status", Status, "status_id"),
			m2o("user", User, "user_id"),
			o2m("tests", Test, "behavior_id"),
		},
	},
	Category: {
		Name:          Category,
		Table:         "category",
		DisplayColumn: "name",
		Relations: []Relation{
			m2o("status", Status, "status_id"),
			m2o("user", User, "user_id"),
			o2m("tests", Test, "category_id"),
		},
	},
	Topic: {
		Name:          Topic,
		Table:         "topic",
		DisplayColumn: "name",
		Relations: []Relation{
			m2o("status", Status, "status_id"),
			m2o("user", User, "user_id"),
			o2m("tests", Test, "topic_id"),
		},
	},
	Status: {
		Name:          Status,
		Table:         "status",
		DisplayColumn: "name",
		Relations: []Relation{
			m2o("entity_type", TypeLookup, "entity_type_id"),
		},
	},
	User: {
		Name:          User,
		Table:         "users",
		DisplayColumn: "name",
	},
	TypeLookup: {
		Name:          TypeLookup,
		Table:         "type_lookup",
		DisplayColumn: "type_value",
		Columns:       []string{"type_name"},
	},
	Prompt: {
		Name:  Prompt,
		Table: "prompt",
		Relations: []Relation{
			m2o("user", User, "user_id"),
		},
	},
	Tag: {
		Name:          Tag,
		Table:         "tag",
		DisplayColumn: "name",
	},
}

// Lookup returns the descriptor of an entity type.
func Lookup(name string) (EntityDescriptor, bool) {
	d, ok := registry[name]
	return d, ok
}

// Entities lists every registered entity type, sorted.
func Entities() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
