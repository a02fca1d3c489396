// Package format reads the JSON descriptor that accompanies every data file
// and tells the reader how to parse it. Descriptors are produced upstream;
// this package only consumes them, except for the best-effort inferred-schema
// write-back.
package format

import (
	"encoding/json"
	"fmt"
	"os"
)

// Descriptor mirrors the on-disk JSON format file.
type Descriptor struct {
	ColumnDelimiter string            `json:"column_delimiter"`
	TextQualifier   string            `json:"text_qualifier"`
	RowDelimiter    string            `json:"row_delimiter"`
	SkipLines       int               `json:"skip_lines"`
	HasHeader       bool              `json:"has_header"`
	HasTrailer      bool              `json:"has_trailer"`
	InferredSchema  map[string]string `json:"inferred_schema,omitempty"`
}

// Load reads and validates a format descriptor. A missing column delimiter
// defaults to comma and a missing text qualifier to a double quote; the
// descriptor itself must exist and parse.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("format descriptor %s: %w", path, err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("format descriptor %s: %w", path, err)
	}
	if d.ColumnDelimiter == "" {
		d.ColumnDelimiter = ","
	}
	if d.TextQualifier == "" {
		d.TextQualifier = `"`
	}
	if d.SkipLines < 0 {
		return nil, fmt.Errorf("format descriptor %s: skip_lines %d is negative", path, d.SkipLines)
	}
	return &d, nil
}

// WriteInferredSchema persists the inferred column types back into the
// descriptor file so later loads of the same feed can consult them. Callers
// treat a failure here as a warning, never as a reason to abort a load.
func WriteInferredSchema(path string, inferred map[string]string) error {
	d, err := Load(path)
	if err != nil {
		return err
	}
	d.InferredSchema = inferred
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("format descriptor %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("format descriptor %s: %w", path, err)
	}
	return nil
}
