// Package sqlutil holds identifier-quoting and placeholder helpers shared
// by the SQL-family drivers (postgres, mysql, sqlite and their
// planetscale/turso aliases).
package sqlutil

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/user/s3db-replicator/pkg/typemap"
)

var identRe = regexp.MustCompile(`^[A-Za-z0-9_\.]+$`)

// QuoteIdent validates and quotes a table or column name for the given
// dialect, supporting dot-separated names like schema.table.
func QuoteIdent(dialect typemap.Dialect, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty identifier")
	}
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid identifier: %s", name)
	}

	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quoteOne(dialect, p)
	}
	return strings.Join(parts, "."), nil
}

func quoteOne(dialect typemap.Dialect, s string) string {
	switch dialect {
	case typemap.Postgres, typemap.BigQuery:
		return "\"" + s + "\""
	case typemap.MySQL, typemap.SQLite:
		return "`" + s + "`"
	default:
		return "\"" + s + "\""
	}
}

// Placeholder returns a bound-parameter placeholder for the dialect at the
// given 1-based position. Postgres uses numbered placeholders; the rest use
// a plain "?".
func Placeholder(dialect typemap.Dialect, index int) string {
	if dialect == typemap.Postgres {
		return fmt.Sprintf("$%d", index)
	}
	return "?"
}
