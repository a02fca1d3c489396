// Package backup maintains the versioned <base>_backup table: one snapshot of
// the main table's rows per successful load, keyed by an incrementing
// ref_data_version_id. Snapshots are append-only; prior versions are never
// modified. When the backup table's schema cannot be widened safely to match
// a changed main table, the old table is renamed aside with a timestamp
// suffix and a fresh one created, so history survives under a different name.
package backup

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/onedollor/reference-data-mgr-sub000/internal/db"
	"github.com/onedollor/reference-data-mgr-sub000/internal/schema"
	"github.com/onedollor/reference-data-mgr-sub000/internal/schemasync"
	"github.com/onedollor/reference-data-mgr-sub000/internal/sqlgen"
)

// renameSuffixLayout is the timestamp appended to a retired backup table.
const renameSuffixLayout = "20060102150405"

// Store is the database access the backup engine needs.
type Store interface {
	TableExists(ctx context.Context, schemaName, table string) (bool, error)
	TableColumns(ctx context.Context, schemaName, table string) ([]schema.Column, error)
	Exec(ctx context.Context, query string, args ...any) error
	ExecRows(ctx context.Context, query string, args ...any) (int64, error)
	QueryInt(ctx context.Context, query string, args ...any) (int64, bool, error)
	Begin(ctx context.Context) (db.Tx, error)
}

// Engine snapshots main tables into their backup peers within one schema.
type Engine struct {
	store  Store
	schema string
	now    func() time.Time
}

// New builds an Engine for the given working schema.
func New(st Store, schemaName string) *Engine {
	return &Engine{store: st, schema: schemaName, now: time.Now}
}

// backupColumns is the desired backup-table shape for the given main-table
// columns: the main table's data columns plus the three metadata columns.
func backupColumns(mainCols []schema.Column) []sqlgen.ColumnDef {
	data := schema.DataColumns(mainCols)
	defs := make([]sqlgen.ColumnDef, 0, len(data)+3)
	for _, c := range data {
		defs = append(defs, sqlgen.ColumnDef{Name: c.Name, Type: c.Canonical()})
	}
	defs = append(defs,
		sqlgen.ColumnDef{Name: schema.LoadTimeColumn, Type: schema.LoadTimeType},
		sqlgen.ColumnDef{Name: schema.LoadTypeColumn, Type: schema.LoadTypeType},
		sqlgen.ColumnDef{Name: schema.VersionColumn, Type: schema.VersionType, NotNull: true},
	)
	return defs
}

// Ensure makes the backup table for base exist with a shape compatible with
// the main table's current columns. Lazily creates on first load, widens on
// later loads when the main table changed, and as a last resort renames the
// incompatible table aside and creates a fresh one.
func (e *Engine) Ensure(ctx context.Context, base string, mainCols []schema.Column) error {
	table := base + schema.BackupSuffix
	desired := backupColumns(mainCols)

	exists, err := e.store.TableExists(ctx, e.schema, table)
	if err != nil {
		return fmt.Errorf("backup %s: %w", table, err)
	}
	if !exists {
		return e.create(ctx, table, desired)
	}

	if compatible, err := e.compatible(ctx, table, desired); err != nil {
		return err
	} else if compatible {
		return nil
	}

	res, err := schemasync.Sync(ctx, e.store, e.schema, table, desired, schemasync.Widening)
	if err == nil && !res.Failed() {
		return nil
	}
	if err != nil {
		log.Printf("backup: sync of %s.%s failed: %v", e.schema, table, err)
	} else {
		log.Printf("backup: sync of %s.%s refused: %s", e.schema, table, strings.Join(res.Errors, "; "))
	}

	// Last resort: keep history under a timestamped name and start fresh.
	retired := table + "_" + e.now().Format(renameSuffixLayout)
	rename, err := sqlgen.BuildRenameTable(e.schema, table, retired)
	if err != nil {
		return fmt.Errorf("backup %s: %w", table, err)
	}
	if err := e.store.Exec(ctx, rename); err != nil {
		return fmt.Errorf("backup %s: rename to %s: %w", table, retired, err)
	}
	log.Printf("backup: renamed incompatible %s.%s to %s", e.schema, table, retired)
	return e.create(ctx, table, desired)
}

func (e *Engine) create(ctx context.Context, table string, desired []sqlgen.ColumnDef) error {
	stmt, err := sqlgen.BuildCreateTable(e.schema, table, desired)
	if err != nil {
		return fmt.Errorf("backup %s: %w", table, err)
	}
	if err := e.store.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("backup %s: create: %w", table, err)
	}
	return nil
}

// compatible reports whether every desired column already exists with an
// identical canonical type. Extra columns in the backup table are fine.
func (e *Engine) compatible(ctx context.Context, table string, desired []sqlgen.ColumnDef) (bool, error) {
	existing, err := e.store.TableColumns(ctx, e.schema, table)
	if err != nil {
		return false, fmt.Errorf("backup %s: introspect: %w", table, err)
	}
	for _, d := range desired {
		cur, found := schema.FindColumn(existing, d.Name)
		if !found || cur.Canonical() != d.Type {
			return false, nil
		}
	}
	return true, nil
}

// Snapshot copies the main table's current rows into the backup table under
// the next version id and returns the number of rows backed up. A transient
// schema-mismatch failure (column count mismatch, truncation) skips the
// snapshot with a warning instead of failing the load.
func (e *Engine) Snapshot(ctx context.Context, base string) (int64, error) {
	table := base + schema.BackupSuffix

	version, err := e.NextVersion(ctx, base)
	if err != nil {
		return 0, err
	}

	mainCols, err := e.store.TableColumns(ctx, e.schema, base)
	if err != nil {
		return 0, fmt.Errorf("backup %s: introspect main: %w", table, err)
	}
	backupCols, err := e.store.TableColumns(ctx, e.schema, table)
	if err != nil {
		return 0, fmt.Errorf("backup %s: introspect: %w", table, err)
	}

	// Intersection by name, metadata excluded; columns are always listed
	// explicitly so column-order drift cannot corrupt a snapshot.
	var cols []string
	for _, c := range schema.DataColumns(mainCols) {
		if _, found := schema.FindColumn(backupCols, c.Name); found {
			cols = append(cols, c.Name)
		}
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("backup %s: no common columns with %s", table, base)
	}

	stmt, err := sqlgen.BuildInsertSelect(e.schema, table, base, cols,
		[]string{schema.LoadTimeColumn, schema.LoadTypeColumn, schema.VersionColumn},
		[]string{"GETDATE()", "@p1", "@p2"})
	if err != nil {
		return 0, fmt.Errorf("backup %s: %w", table, err)
	}

	n, err := e.store.ExecRows(ctx, stmt, schema.LoadTypeBackup, version)
	if err != nil {
		if transientSnapshotError(err) {
			log.Printf("backup: snapshot of %s.%s skipped: %v", e.schema, base, err)
			return 0, nil
		}
		return 0, fmt.Errorf("backup %s: snapshot: %w", table, err)
	}
	return n, nil
}

// NextVersion returns max(ref_data_version_id)+1, or 1 for an empty table.
func (e *Engine) NextVersion(ctx context.Context, base string) (int64, error) {
	table := base + schema.BackupSuffix
	if !sqlgen.ValidBaseName(table) {
		return 0, fmt.Errorf("backup: invalid table name %q", table)
	}
	q := fmt.Sprintf("SELECT MAX(%s) FROM %s",
		sqlgen.QuoteIdent(schema.VersionColumn), sqlgen.QuoteQualified(e.schema, table))
	max, ok, err := e.store.QueryInt(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("backup %s: version: %w", table, err)
	}
	if !ok {
		return 1, nil
	}
	return max + 1, nil
}

// transientSnapshotError matches the SQL Server errors the engine tolerates:
// losing one snapshot is recoverable, failing an otherwise-successful load
// because of it is not.
func transientSnapshotError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "column name or number of supplied values") ||
		strings.Contains(msg, "would be truncated")
}
