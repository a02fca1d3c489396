package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Fallbacks applied when a sized type arrives without usable size information.
const (
	fallbackVarcharLen = 4000
	fallbackCharLen    = 1
	fallbackPrecision  = 18
	fallbackScale      = 0
)

// Normalize canonicalizes a declared column type into a single comparable
// string form, e.g. ("VarChar", 100, 0, 0) -> "varchar(100)" and
// ("decimal", 0, 10, 2) -> "decimal(10,2)".
//
// Rules:
//
//   - varchar/nvarchar: MaxLength -1 renders as "(max)"; an explicit positive
//     length wins; otherwise the length is parsed out of the raw type string;
//     as a last resort the 4000 fallback applies.
//   - decimal/numeric: explicit precision/scale win, then parsed values, then
//     decimal(18,0). "numeric" canonicalizes to "decimal".
//   - char/nchar: explicit or parsed length, falling back to length 1.
//   - Everything else passes through lower-cased and trimmed.
//
// Normalize is the single source of truth for "are these two column
// definitions the same?" and is idempotent: feeding its output back in (with
// zero size hints) returns the same string.
func Normalize(dataType string, maxLength, precision, scale int) string {
	raw := strings.ToLower(strings.TrimSpace(dataType))
	base := raw
	args := ""
	if i := strings.IndexByte(raw, '('); i >= 0 {
		base = strings.TrimSpace(raw[:i])
		if j := strings.LastIndexByte(raw, ')'); j > i {
			args = strings.TrimSpace(raw[i+1 : j])
		}
	}

	switch base {
	case "varchar", "nvarchar":
		if maxLength == -1 {
			return base + "(max)"
		}
		if maxLength > 0 {
			return fmt.Sprintf("%s(%d)", base, maxLength)
		}
		if args == "max" || args == "-1" {
			return base + "(max)"
		}
		if n, err := strconv.Atoi(args); err == nil && n > 0 {
			return fmt.Sprintf("%s(%d)", base, n)
		}
		return fmt.Sprintf("%s(%d)", base, fallbackVarcharLen)

	case "decimal", "numeric":
		if precision > 0 {
			return fmt.Sprintf("decimal(%d,%d)", precision, scale)
		}
		if p, s, ok := parsePrecisionScale(args); ok {
			return fmt.Sprintf("decimal(%d,%d)", p, s)
		}
		return fmt.Sprintf("decimal(%d,%d)", fallbackPrecision, fallbackScale)

	case "char", "nchar":
		if maxLength > 0 {
			return fmt.Sprintf("%s(%d)", base, maxLength)
		}
		if n, err := strconv.Atoi(args); err == nil && n > 0 {
			return fmt.Sprintf("%s(%d)", base, n)
		}
		return fmt.Sprintf("%s(%d)", base, fallbackCharLen)

	default:
		return raw
	}
}

// parsePrecisionScale parses "p" or "p,s" out of a type argument list.
func parsePrecisionScale(args string) (p, s int, ok bool) {
	if args == "" {
		return 0, 0, false
	}
	parts := strings.Split(args, ",")
	p, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || p <= 0 {
		return 0, 0, false
	}
	if len(parts) > 1 {
		s, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || s < 0 {
			return 0, 0, false
		}
	}
	return p, s, true
}

// typeShape is the parsed form of a canonical type string.
type typeShape struct {
	base string
	// length is the varchar/char length; -1 means MAX, 0 means "no length".
	length int
}

// parseCanonical splits a canonical type string (output of Normalize) into
// base name and length. Precision/scale arguments yield length 0.
func parseCanonical(canonical string) typeShape {
	base := canonical
	args := ""
	if i := strings.IndexByte(canonical, '('); i >= 0 {
		base = canonical[:i]
		if j := strings.LastIndexByte(canonical, ')'); j > i {
			args = canonical[i+1 : j]
		}
	}
	sh := typeShape{base: base}
	if args == "max" {
		sh.length = -1
	} else if n, err := strconv.Atoi(args); err == nil && n > 0 && !strings.Contains(args, ",") {
		sh.length = n
	}
	return sh
}

func equalFold(a, b string) bool { return strings.EqualFold(a, b) }
