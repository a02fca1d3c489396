package schema

import "strings"

// Sampling limits for varchar width inference.
const (
	DefaultSampleRows = 5000
	maxValuesPerCol   = 1000
)

// InferVarcharWidths samples up to sampleRows rows and assigns a varchar
// width to each non-empty column name. The engine deliberately never infers
// numeric, date, or boolean types: everything is stored as text in a
// generously sized container, deferring semantic typing to downstream
// consumers.
//
// Width tiers by the longest non-empty value seen (at most 1000 values are
// examined per column):
//
//	all empty      -> varchar(1024)
//	len <= 500     -> varchar(1024)
//	len <= 1000    -> varchar(4000)
//	len <= 4000    -> varchar(8000)
//	len >  4000    -> varchar(max)
func InferVarcharWidths(columns []string, rows [][]string, sampleRows int) map[string]string {
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	if len(rows) > sampleRows {
		rows = rows[:sampleRows]
	}

	out := make(map[string]string, len(columns))
	for i, col := range columns {
		if col == "" {
			continue
		}
		longest := 0
		examined := 0
		for _, row := range rows {
			if examined >= maxValuesPerCol {
				break
			}
			if i >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[i])
			if v == "" {
				continue
			}
			examined++
			if len(v) > longest {
				longest = len(v)
			}
		}
		out[col] = widthTier(longest, examined)
	}
	return out
}

func widthTier(longest, examined int) string {
	switch {
	case examined == 0:
		return "varchar(1024)"
	case longest <= 500:
		return "varchar(1024)"
	case longest <= 1000:
		return "varchar(4000)"
	case longest <= 4000:
		return "varchar(8000)"
	default:
		return "varchar(max)"
	}
}
