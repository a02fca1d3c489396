package schema

// safeUpward lists the known-safe cross-type conversions. Keys and values are
// canonical base type names. Anything not listed here (and not covered by the
// same-base rules in IsSafeConversion) is unsafe by default; in particular
// every cross-family change between text, decimal, and integer types is
// rejected in both directions.
var safeUpward = map[string][]string{
	"int":      {"bigint"},
	"smallint": {"int", "bigint"},
	"tinyint":  {"smallint", "int", "bigint"},
	"float":    {"real"},
	"datetime": {"datetime2"},
	"char":     {"varchar", "nvarchar"},
	"nchar":    {"nvarchar"},
	"varchar":  {"nvarchar"},
}

// IsSafeConversion reports whether altering a column from oldType to newType
// cannot lose existing data. Both arguments must be canonical strings from
// Normalize. This classification guards backup-table sync only; the
// main-table policy never alters existing columns at all, and the separate
// promotion-path convert-to-varchar is a user-opted widening with different
// rules.
func IsSafeConversion(oldType, newType string) bool {
	if oldType == newType {
		return true
	}
	o := parseCanonical(oldType)
	n := parseCanonical(newType)

	if o.base == n.base {
		if isTextBase(o.base) {
			return widerOrEqual(o.length, n.length)
		}
		// Same base with differing canonical forms only occurs for sized
		// non-text types (decimal precision changes); treat as safe.
		return true
	}

	for _, target := range safeUpward[o.base] {
		if n.base == target {
			if isTextBase(o.base) && isTextBase(n.base) {
				return widerOrEqual(o.length, n.length)
			}
			return true
		}
	}
	return false
}

func isTextBase(base string) bool {
	switch base {
	case "varchar", "nvarchar", "char", "nchar":
		return true
	}
	return false
}

// widerOrEqual compares text lengths where -1 means MAX.
func widerOrEqual(oldLen, newLen int) bool {
	if newLen == -1 {
		return true
	}
	if oldLen == -1 {
		return false
	}
	return newLen >= oldLen
}
