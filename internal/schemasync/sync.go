// Package schemasync reconciles a live table's columns against a desired
// column set using additive and widening DDL only. Two policies exist: the
// main-table policy never alters an existing column (type mismatches are
// preserved and reported), while the widening policy used for backup tables
// applies changes classified as safe and reports the rest as errors so the
// caller can fall back to rename-and-recreate.
package schemasync

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/onedollor/reference-data-mgr-sub000/internal/db"
	"github.com/onedollor/reference-data-mgr-sub000/internal/schema"
	"github.com/onedollor/reference-data-mgr-sub000/internal/sqlgen"
)

// Store is the slice of database access sync needs.
type Store interface {
	TableColumns(ctx context.Context, schemaName, table string) ([]schema.Column, error)
	Begin(ctx context.Context) (db.Tx, error)
}

// Policy selects how existing-column type mismatches are handled.
type Policy int

const (
	// MainTable: existing column types are never altered; mismatches are
	// recorded and the file's type is ignored.
	MainTable Policy = iota
	// Widening: safe type changes are applied, unsafe ones become errors.
	Widening
)

// Result reports what one sync call did (or refused to do).
type Result struct {
	Added      []string // columns added
	Modified   []string // columns altered to a wider type (Widening only)
	Skipped    []string // columns already matching
	Mismatched []string // existing type preserved, target type ignored (MainTable only)
	Extra      []string // existing columns absent from the target set, left untouched
	Errors     []string // unsafe changes refused (Widening only)
}

// Failed reports whether the sync must be treated as failed as a unit.
func (r Result) Failed() bool { return len(r.Errors) > 0 }

// Sync computes and applies the minimal DDL bringing table up to the target
// column set under the given policy. All DDL for one call executes inside a
// single transaction; any execution error rolls the whole batch back.
//
// Target column types must be canonical (schema.Normalize output).
func Sync(ctx context.Context, st Store, schemaName, table string, target []sqlgen.ColumnDef, policy Policy) (Result, error) {
	var res Result

	existing, err := st.TableColumns(ctx, schemaName, table)
	if err != nil {
		return res, fmt.Errorf("sync %s.%s: introspect: %w", schemaName, table, err)
	}

	var ddl []string
	for _, tc := range target {
		cur, found := schema.FindColumn(existing, tc.Name)
		if !found {
			stmt, err := sqlgen.BuildAddColumn(schemaName, table, tc)
			if err != nil {
				return res, fmt.Errorf("sync %s.%s: %w", schemaName, table, err)
			}
			ddl = append(ddl, stmt)
			res.Added = append(res.Added, tc.Name)
			continue
		}

		curType := cur.Canonical()
		if curType == tc.Type {
			res.Skipped = append(res.Skipped, tc.Name)
			continue
		}

		switch policy {
		case MainTable:
			log.Printf("schemasync: %s.%s column %s keeps %s (file declared %s)",
				schemaName, table, tc.Name, curType, tc.Type)
			res.Mismatched = append(res.Mismatched, tc.Name)

		case Widening:
			if !schema.IsSafeConversion(curType, tc.Type) {
				res.Errors = append(res.Errors,
					fmt.Sprintf("column %s: %s -> %s is not a safe change", tc.Name, curType, tc.Type))
				continue
			}
			stmt, err := sqlgen.BuildAlterColumn(schemaName, table, tc)
			if err != nil {
				return res, fmt.Errorf("sync %s.%s: %w", schemaName, table, err)
			}
			ddl = append(ddl, stmt)
			res.Modified = append(res.Modified, tc.Name)
		}
	}

	// Existing columns missing from the target are reported, never dropped.
	targetNames := make(map[string]bool, len(target))
	for _, tc := range target {
		targetNames[strings.ToLower(tc.Name)] = true
	}
	for _, c := range existing {
		if !targetNames[strings.ToLower(c.Name)] {
			res.Extra = append(res.Extra, c.Name)
		}
	}

	if res.Failed() {
		// Nothing is applied when the widening policy refuses a change; the
		// caller decides between rename-and-recreate or surfacing the error.
		return res, nil
	}
	if len(ddl) == 0 {
		return res, nil
	}

	tx, err := st.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("sync %s.%s: begin: %w", schemaName, table, err)
	}
	for _, stmt := range ddl {
		if err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return res, fmt.Errorf("sync %s.%s: %q: %w", schemaName, table, stmt, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("sync %s.%s: commit: %w", schemaName, table, err)
	}
	return res, nil
}
