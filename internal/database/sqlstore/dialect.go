// Package sqlstore holds the SQL repositories for operations, discoveries,
// blocks and network metrics. The same queries run on PostgreSQL and SQLite;
// a Dialect adapts placeholders and constraint errors to the driver.
package sqlstore

import (
	"regexp"
)

var placeholder = regexp.MustCompile(`\$\d+`)

// Dialect describes the differences between supported SQL drivers
type Dialect struct {
	Name string
	// Positional drivers accept $1-style placeholders as written
	Positional bool
	// IsUniqueViolation reports whether err is a unique constraint failure
	IsUniqueViolation func(err error) bool
}

// Rebind rewrites $n placeholders for drivers that expect ?
func (d Dialect) Rebind(query string) string {
	if d.Positional {
		return query
	}
	return placeholder.ReplaceAllString(query, "?")
}

func (d Dialect) uniqueViolation(err error) bool {
	return err != nil && d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}
