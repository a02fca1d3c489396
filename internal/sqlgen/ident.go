// Package sqlgen builds T-SQL statement text for the ingestion engine. It is
// the only place SQL strings are assembled: identifiers (schema, table, and
// column names) are validated against an allow-listed pattern and bracket
// quoted, while data values are always bound as @pN parameters and never
// interpolated into statement text.
package sqlgen

import (
	"fmt"
	"regexp"
	"strings"
)

// baseNamePattern is the allow-list for logical table base names. Anything
// else is rejected before any SQL is built.
var baseNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidBaseName reports whether name is an acceptable logical table name.
func ValidBaseName(name string) bool {
	return baseNamePattern.MatchString(name)
}

// QuoteIdent quotes a single identifier segment for SQL Server using bracket
// syntax, escaping any closing brackets.
//
//	name      -> [name]
//	weird]id  -> [weird]]id]
func QuoteIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

// QuoteQualified quotes a schema-qualified table name, e.g.
// ("dbo", "widgets") -> "[dbo].[widgets]".
func QuoteQualified(schema, table string) string {
	if schema == "" {
		return QuoteIdent(table)
	}
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}

// quoteList maps column names to their bracket-quoted forms.
func quoteList(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = QuoteIdent(c)
	}
	return out
}

// checkIdent validates a single identifier segment against the allow-list.
func checkIdent(kind, id string) error {
	if !ValidBaseName(id) {
		return fmt.Errorf("sqlgen: invalid %s identifier %q", kind, id)
	}
	return nil
}
