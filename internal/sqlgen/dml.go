package sqlgen

import (
	"fmt"
	"strings"
)

// SQL Server limits a single statement to 1000 row value expressions and 2100
// bound parameters. The row cap stays at 990 for headroom; the parameter
// budget is trimmed slightly below the hard limit for the same reason.
const (
	MaxRowsPerInsert      = 990
	maxParamsPerStatement = 2096
)

// EffectiveBatchSize clamps a configured batch size so one multi-row INSERT
// never exceeds the row-value or parameter limits for the given column count.
func EffectiveBatchSize(configured, columns int) int {
	if configured <= 0 || configured > MaxRowsPerInsert {
		configured = MaxRowsPerInsert
	}
	if columns <= 0 {
		return configured
	}
	if byParams := maxParamsPerStatement / columns; byParams < configured {
		configured = byParams
	}
	if configured < 1 {
		configured = 1
	}
	return configured
}

// BuildInsertBatch returns a multi-row parameterized INSERT:
//
//	INSERT INTO [s].[t] ([a], [b]) VALUES (@p1, @p2), (@p3, @p4)
//
// Parameter numbering is continuous across rows so callers can flatten their
// row values into a single args slice.
func BuildInsertBatch(schema, table string, cols []string, rowCount int) (string, error) {
	if err := checkIdent("schema", schema); err != nil {
		return "", err
	}
	if err := checkIdent("table", table); err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("sqlgen: insert into %s.%s needs columns", schema, table)
	}
	if rowCount <= 0 || rowCount > MaxRowsPerInsert {
		return "", fmt.Errorf("sqlgen: row count %d out of range (1..%d)", rowCount, MaxRowsPerInsert)
	}
	if rowCount*len(cols) > maxParamsPerStatement {
		return "", fmt.Errorf("sqlgen: %d rows x %d columns exceeds the parameter budget", rowCount, len(cols))
	}
	for _, c := range cols {
		if err := checkIdent("column", c); err != nil {
			return "", err
		}
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(QuoteQualified(schema, table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quoteList(cols), ", "))
	sb.WriteString(") VALUES ")

	p := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range cols {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "@p%d", p)
			p++
		}
		sb.WriteByte(')')
	}
	return sb.String(), nil
}

// BuildInsertSelect returns an explicit column-listed INSERT ... SELECT
// between two tables in the same schema. Extra parameters may be appended as
// trailing constant columns via extraExprs (already-validated expressions
// such as "@p1"), aligned with extraCols.
func BuildInsertSelect(schema, target, source string, cols []string, extraCols, extraExprs []string) (string, error) {
	if err := checkIdent("schema", schema); err != nil {
		return "", err
	}
	if err := checkIdent("table", target); err != nil {
		return "", err
	}
	if err := checkIdent("table", source); err != nil {
		return "", err
	}
	if len(cols) == 0 && len(extraCols) == 0 {
		return "", fmt.Errorf("sqlgen: insert-select %s -> %s needs columns", source, target)
	}
	if len(extraCols) != len(extraExprs) {
		return "", fmt.Errorf("sqlgen: extra columns and expressions must align")
	}
	for _, c := range cols {
		if err := checkIdent("column", c); err != nil {
			return "", err
		}
	}
	for _, c := range extraCols {
		if err := checkIdent("column", c); err != nil {
			return "", err
		}
	}

	insertCols := append(quoteList(cols), quoteList(extraCols)...)
	selectCols := append(quoteList(cols), extraExprs...)

	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s",
		QuoteQualified(schema, target),
		strings.Join(insertCols, ", "),
		strings.Join(selectCols, ", "),
		QuoteQualified(schema, source),
	)
	return stmt, nil
}
