// Package csvfile reads a delimited data file whole into memory, every field
// kept as a raw string. Type decisions happen later in the pipeline, never
// at read time.
package csvfile

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/onedollor/reference-data-mgr-sub000/internal/format"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a fully-parsed data file.
type Table struct {
	Headers []string
	Rows    [][]string
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int { return len(t.Rows) }

// Read parses the file at path as the descriptor describes. If the
// descriptor flags a trailer row, the last row is dropped unconditionally
// after parsing, whatever it contains.
func Read(path string, d *format.Descriptor) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	text := normalizeTerminators(string(data), d.RowDelimiter)
	text = skipLines(text, d.SkipLines)

	records, err := parse(text, d)
	if d.RowDelimiter != "" && (err != nil || degenerateParse(records, string(data))) {
		// The declared terminator produced garbage; fall back to
		// auto-detection from the file contents.
		text = normalizeTerminators(string(data), "")
		text = skipLines(text, d.SkipLines)
		records, err = parse(text, d)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	t := &Table{}
	if d.HasHeader {
		if len(records) > 0 {
			t.Headers = records[0]
			t.Rows = records[1:]
		}
	} else {
		t.Rows = records
		if len(records) > 0 {
			t.Headers = make([]string, len(records[0]))
			for i := range t.Headers {
				t.Headers[i] = fmt.Sprintf("col_%d", i+1)
			}
		}
	}

	if d.HasTrailer && len(t.Rows) > 0 {
		t.Rows = t.Rows[:len(t.Rows)-1]
	}
	return t, nil
}

func parse(text string, d *format.Descriptor) ([][]string, error) {
	delim, _ := utf8.DecodeRuneInString(d.ColumnDelimiter)
	if delim == utf8.RuneError || delim == 0 {
		delim = ','
	}
	if q, _ := utf8.DecodeRuneInString(d.TextQualifier); q != utf8.RuneError && q != 0 && q != '"' {
		return splitQualified(text, delim, q), nil
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

// splitQualified splits text using a non-default text qualifier.
// encoding/csv only understands double-quote quoting, so files quoted with
// another character are scanned by hand: the delimiter and the row terminator
// are literal inside a qualified region, a doubled qualifier inside one
// decodes to a single literal qualifier, and an unterminated qualifier runs
// to the end of the input. Blank lines are skipped, matching encoding/csv.
func splitQualified(text string, delim, q rune) [][]string {
	var (
		records [][]string
		row     []string
		field   strings.Builder
		inQuote bool
		quoted  bool // current field started with the qualifier
	)
	endField := func() {
		row = append(row, field.String())
		field.Reset()
		quoted = false
	}
	endRow := func() {
		if len(row) == 0 && field.Len() == 0 && !quoted {
			return
		}
		endField()
		records = append(records, row)
		row = nil
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == q && inQuote:
			if i+1 < len(runes) && runes[i+1] == q {
				field.WriteRune(q)
				i++
			} else {
				inQuote = false
			}
		case c == q && field.Len() == 0 && !quoted:
			inQuote = true
			quoted = true
		case c == delim && !inQuote:
			endField()
		case c == '\n' && !inQuote:
			endRow()
		default:
			field.WriteRune(c)
		}
	}
	endRow()
	return records
}

// degenerateParse reports a parse that collapsed a bare-CR file into a single
// record because the declared terminator never occurs in the data.
func degenerateParse(records [][]string, raw string) bool {
	return len(records) <= 1 && strings.Contains(raw, "\r") && !strings.Contains(raw, "\n")
}

// normalizeTerminators rewrites row terminators to "\n" so the parser only
// sees one convention. An empty terminator means auto-detect: CRLF wins if
// present, then LF, then bare CR.
func normalizeTerminators(text, terminator string) string {
	switch canonicalTerminator(text, terminator) {
	case "\r\n":
		return strings.ReplaceAll(text, "\r\n", "\n")
	case "\r":
		return strings.ReplaceAll(text, "\r", "\n")
	default:
		// LF files may still carry stray CRLF pairs from mixed tooling.
		return strings.ReplaceAll(text, "\r\n", "\n")
	}
}

func canonicalTerminator(text, terminator string) string {
	if strings.Contains(terminator, "\r\n") {
		return "\r\n"
	}
	if strings.Contains(terminator, "\n") {
		return "\n"
	}
	if strings.Contains(terminator, "\r") {
		return "\r"
	}
	// Auto-detect.
	if strings.Contains(text, "\r\n") {
		return "\r\n"
	}
	if strings.Contains(text, "\n") {
		return "\n"
	}
	if strings.Contains(text, "\r") {
		return "\r"
	}
	return "\n"
}

func skipLines(text string, n int) string {
	for ; n > 0; n-- {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			return ""
		}
		text = text[i+1:]
	}
	return text
}
