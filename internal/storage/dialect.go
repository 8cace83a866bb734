package storage

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// sqliteTimeLayout is how timestamps are stored in SQLite TEXT columns.
	// It sorts lexically and strftime understands it.
	sqliteTimeLayout = "2006-01-02 15:04:05"
)

// Dialect captures the few places where SQLite and PostgreSQL differ for
// the stats queries.
type Dialect struct {
	Driver string
}

// DialectFor returns the dialect of a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		return Dialect{Driver: driver}, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

// Builder returns a squirrel statement builder with the driver's
// placeholder format.
func (d Dialect) Builder() sq.StatementBuilderType {
	if d.Driver == DriverPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// MonthExpr returns an expression yielding "YYYY-MM" for a timestamp column.
func (d Dialect) MonthExpr(column string) string {
	if d.Driver == DriverPostgres {
		return "to_char(" + column + ", 'YYYY-MM')"
	}
	return "strftime('%Y-%m', " + column + ")"
}

// Time converts t into the value stored in or compared against timestamp
// columns.
func (d Dialect) Time(t time.Time) any {
	if d.Driver == DriverPostgres {
		return t.UTC()
	}
	return t.UTC().Format(sqliteTimeLayout)
}
