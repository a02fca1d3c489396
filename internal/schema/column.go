// Package schema holds the column model shared by the ingestion engine plus
// the pure functions that decide how columns are named, typed, and compared:
// type normalization, header sanitization, varchar width inference, and the
// safe-conversion classifier used by backup-table synchronization.
//
// Everything in this package is deterministic and free of database access,
// which keeps the schema-diff logic testable without a SQL Server instance.
package schema

// Column describes a single column, either as declared by an incoming file or
// as introspected from a live table via INFORMATION_SCHEMA.
//
// MaxLength follows SQL Server conventions: 0 means "not specified" and -1
// means MAX (unbounded). Precision/Scale are only meaningful for decimal and
// numeric columns.
type Column struct {
	Name      string
	DataType  string
	MaxLength int
	Precision int
	Scale     int
	Nullable  bool
}

// Canonical returns the canonical comparable form of the column's type.
func (c Column) Canonical() string {
	return Normalize(c.DataType, c.MaxLength, c.Precision, c.Scale)
}

// FindColumn returns the column with the given name (case-insensitive) and
// whether it was found.
func FindColumn(cols []Column, name string) (Column, bool) {
	for _, c := range cols {
		if equalFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}
