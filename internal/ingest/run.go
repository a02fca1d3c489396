package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/onedollor/reference-data-mgr-sub000/internal/backup"
	"github.com/onedollor/reference-data-mgr-sub000/internal/csvfile"
	"github.com/onedollor/reference-data-mgr-sub000/internal/db"
	"github.com/onedollor/reference-data-mgr-sub000/internal/format"
	"github.com/onedollor/reference-data-mgr-sub000/internal/metrics"
	"github.com/onedollor/reference-data-mgr-sub000/internal/schema"
	"github.com/onedollor/reference-data-mgr-sub000/internal/schemasync"
	"github.com/onedollor/reference-data-mgr-sub000/internal/sqlgen"
)

// run is the per-ingestion state. One run owns one connection, one progress
// entry, and one event stream for its whole lifetime.
type run struct {
	eng    *Engine
	req    Request
	key    string
	events chan<- Event

	store      db.Store
	schemaName string
	base       string

	desc    *format.Descriptor
	table   *csvfile.Table
	headers []string // sanitized+deduplicated, aligned with file columns; "" = invalid
	colIdx  []int    // file column index of each valid header
	columns []sqlgen.ColumnDef

	loadType string
	promoted int64
	started  time.Time // one load time shared by every staged row of the run
}

func (r *run) execute(ctx context.Context) error {
	r.started = r.eng.now()
	r.schemaName = r.eng.opts.Schema
	if r.req.TargetSchema != "" {
		r.schemaName = r.req.TargetSchema
	}
	r.base = tableNameFor(r.req.Filename)
	if r.base == "" {
		return fmt.Errorf("cannot derive a table name from filename %q", r.req.Filename)
	}

	store, err := r.eng.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	r.store = store
	defer r.eng.pool.Release(ctx, store)

	steps := []struct {
		phase string
		fn    func(context.Context) error
	}{
		{PhaseConnect, r.connect},
		{PhaseFormat, r.loadFormat},
		{PhaseRead, r.readFile},
		{PhaseHeaders, r.prepareHeaders},
		{PhaseColumns, r.prepareColumns},
		{PhaseLoadType, r.determineLoadType},
		{PhaseTables, r.prepareTables},
		{PhaseStageLoad, r.stageLoad},
		{PhaseValidate, r.validate},
		{PhasePromote, r.promote},
		{PhaseBackup, r.backupSnapshot},
		{PhaseArchive, r.archiveFile},
		{PhaseRefConfig, r.referenceConfig},
	}
	for _, s := range steps {
		if err := r.checkpoint(ctx); err != nil {
			return err
		}
		start := time.Now()
		err := s.fn(ctx)
		metrics.RecordStep(r.base, s.phase, err, time.Since(start))
		if err != nil {
			return err
		}
	}
	return nil
}

// checkpoint observes a pending cancellation request. Called between phases
// and between insert batches, never inside a batch.
func (r *run) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCanceled, err)
	}
	if r.eng.tracker.IsCanceled(r.key) {
		return ErrCanceled
	}
	return nil
}

func (r *run) emit(ctx context.Context, phase, msg string) {
	r.emitProgress(ctx, phase, msg, -1, -1)
}

// emitProgress sends one event, blocking until the consumer takes it. That
// block is the run's cooperative yield, giving concurrent cancellation
// requests a chance to land before the next checkpoint.
func (r *run) emitProgress(ctx context.Context, phase, msg string, inserted, total int64) {
	r.eng.tracker.Update(r.key, phase, inserted, total)
	select {
	case r.events <- Event{Phase: phase, Message: msg, Inserted: inserted, Total: total}:
	case <-ctx.Done():
	}
}

// emitTerminal delivers the final event with an unconditional send. A run
// that ended because ctx was canceled must still close its stream with a
// terminal event, so this send cannot race ctx.Done; consumers drain the
// channel until it closes.
func (r *run) emitTerminal(phase, msg string) {
	r.events <- Event{Phase: phase, Message: msg, Inserted: -1, Total: -1}
}

func (r *run) connect(ctx context.Context) error {
	stmt, err := sqlgen.BuildEnsureSchema(r.schemaName)
	if err != nil {
		return err
	}
	if err := r.store.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema %s: %w", r.schemaName, err)
	}
	r.emit(ctx, PhaseConnect, fmt.Sprintf("connected, schema %s ready, target table %s", r.schemaName, r.base))
	return nil
}

func (r *run) loadFormat(ctx context.Context) error {
	d, err := format.Load(r.req.FormatPath)
	if err != nil {
		return err
	}
	r.desc = d
	r.emit(ctx, PhaseFormat, fmt.Sprintf("format loaded: delimiter %q, qualifier %q, skip %d, trailer %t",
		d.ColumnDelimiter, d.TextQualifier, d.SkipLines, d.HasTrailer))
	return nil
}

func (r *run) readFile(ctx context.Context) error {
	t, err := csvfile.Read(r.req.FilePath, r.desc)
	if err != nil {
		return err
	}
	r.table = t
	metrics.RecordRows(r.base, "read", int64(t.RowCount()))
	if t.RowCount() == 0 {
		// Benign early termination, not an error.
		r.emit(ctx, PhaseRead, fmt.Sprintf("no data rows in %s, nothing to load", r.req.Filename))
		return fmt.Errorf("%w: no data rows in %s", ErrCanceled, r.req.Filename)
	}
	r.emit(ctx, PhaseRead, fmt.Sprintf("read %d data rows, %d columns", t.RowCount(), len(t.Headers)))
	return nil
}

func (r *run) prepareHeaders(ctx context.Context) error {
	r.headers = schema.DeduplicateHeaders(schema.SanitizeHeaders(r.table.Headers))
	if schema.ValidHeaderCount(r.headers) == 0 {
		r.emit(ctx, PhaseHeaders, "no valid header columns after sanitization")
		return fmt.Errorf("%w: no valid header columns in %s", ErrCanceled, r.req.Filename)
	}
	for i, name := range r.headers {
		if name != "" {
			r.colIdx = append(r.colIdx, i)
		}
	}
	r.emit(ctx, PhaseHeaders, fmt.Sprintf("%d valid columns after sanitization", len(r.colIdx)))
	return nil
}

func (r *run) prepareColumns(ctx context.Context) error {
	var inferred map[string]string
	if r.eng.opts.InferTypes {
		inferred = schema.InferVarcharWidths(r.headers, r.table.Rows, r.eng.opts.SampleRows)
		if err := format.WriteInferredSchema(r.req.FormatPath, inferred); err != nil {
			log.Printf("ingest: persist inferred schema for %s: %v", r.req.Filename, err)
			r.emit(ctx, PhaseColumns, fmt.Sprintf("warning: inferred schema not persisted: %v", err))
		}
	}

	r.columns = r.columns[:0]
	for _, i := range r.colIdx {
		name := r.headers[i]
		colType := "varchar(4000)"
		if t, ok := inferred[name]; ok {
			colType = t
		}
		r.columns = append(r.columns, sqlgen.ColumnDef{Name: name, Type: colType})
	}
	r.emit(ctx, PhaseColumns, fmt.Sprintf("%d columns prepared (type inference %t)", len(r.columns), r.eng.opts.InferTypes))
	return nil
}

func (r *run) determineLoadType(ctx context.Context) error {
	if lt := r.req.OverrideLoadType; lt != "" {
		if lt != schema.LoadTypeFull && lt != schema.LoadTypeAppend {
			return fmt.Errorf("invalid load type override %q", lt)
		}
		r.loadType = lt
		r.emit(ctx, PhaseLoadType, fmt.Sprintf("load type %s (override)", lt))
		return nil
	}

	requested := schema.LoadTypeFull
	if r.req.Mode == ModeAppend {
		requested = schema.LoadTypeAppend
	}

	exists, err := r.store.TableExists(ctx, r.schemaName, r.base)
	if err != nil {
		return err
	}
	if exists {
		n, err := r.store.RowCount(ctx, r.schemaName, r.base)
		if err != nil {
			return err
		}
		if n > 0 {
			q := fmt.Sprintf("SELECT DISTINCT %s FROM %s",
				sqlgen.QuoteIdent(schema.LoadTypeColumn), sqlgen.QuoteQualified(r.schemaName, r.base))
			seen, err := r.store.QueryStrings(ctx, q)
			if err != nil {
				return fmt.Errorf("inspect existing load types: %w", err)
			}
			var hasFull, hasAppend bool
			for _, v := range seen {
				switch strings.TrimSpace(v) {
				case schema.LoadTypeFull:
					hasFull = true
				case schema.LoadTypeAppend:
					hasAppend = true
				}
			}
			// Once a table has ever received a full load it stays
			// full-load governed unless explicitly overridden.
			switch {
			case hasFull:
				r.loadType = schema.LoadTypeFull
			case hasAppend:
				r.loadType = schema.LoadTypeAppend
			default:
				r.loadType = requested
			}
			r.emit(ctx, PhaseLoadType, fmt.Sprintf("load type %s (from existing data)", r.loadType))
			return nil
		}
	}
	r.loadType = requested
	r.emit(ctx, PhaseLoadType, fmt.Sprintf("load type %s (requested mode)", r.loadType))
	return nil
}

// tableDefs is the incoming column set plus the per-row metadata columns.
func (r *run) tableDefs() []sqlgen.ColumnDef {
	defs := make([]sqlgen.ColumnDef, 0, len(r.columns)+2)
	defs = append(defs, r.columns...)
	defs = append(defs,
		sqlgen.ColumnDef{Name: schema.LoadTimeColumn, Type: schema.LoadTimeType},
		sqlgen.ColumnDef{Name: schema.LoadTypeColumn, Type: schema.LoadTypeType},
	)
	return defs
}

func (r *run) prepareTables(ctx context.Context) error {
	defs := r.tableDefs()

	exists, err := r.store.TableExists(ctx, r.schemaName, r.base)
	if err != nil {
		return err
	}
	if !exists {
		stmt, err := sqlgen.BuildCreateTable(r.schemaName, r.base, defs)
		if err != nil {
			return err
		}
		if err := r.store.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create main table: %w", err)
		}
		r.emit(ctx, PhaseTables, fmt.Sprintf("created main table %s.%s", r.schemaName, r.base))
	} else {
		// Additive-only: genuinely new columns get added, existing types
		// are never touched.
		res, err := schemasync.Sync(ctx, r.store, r.schemaName, r.base, defs, schemasync.MainTable)
		if err != nil {
			return err
		}
		for _, name := range res.Mismatched {
			r.emit(ctx, PhaseTables, fmt.Sprintf("warning: column %s: preserved existing type, file's type ignored", name))
		}
		if len(res.Added) > 0 {
			r.emit(ctx, PhaseTables, fmt.Sprintf("added columns to %s: %s", r.base, strings.Join(res.Added, ", ")))
		}

		if r.loadType == schema.LoadTypeFull {
			n, err := r.store.RowCount(ctx, r.schemaName, r.base)
			if err != nil {
				return err
			}
			if n > 0 {
				stmt, err := sqlgen.BuildTruncate(r.schemaName, r.base)
				if err != nil {
					return err
				}
				if err := r.store.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("truncate main table: %w", err)
				}
				r.emit(ctx, PhaseTables, fmt.Sprintf("full load: truncated %d existing rows", n))
			}
		}
	}

	// Stage has no history to protect: always dropped and rebuilt to match
	// the incoming file exactly.
	stage := r.base + schema.StageSuffix
	drop, err := sqlgen.BuildDropTableIfExists(r.schemaName, stage)
	if err != nil {
		return err
	}
	if err := r.store.Exec(ctx, drop); err != nil {
		return fmt.Errorf("drop stage table: %w", err)
	}
	create, err := sqlgen.BuildCreateTable(r.schemaName, stage, defs)
	if err != nil {
		return err
	}
	if err := r.store.Exec(ctx, create); err != nil {
		return fmt.Errorf("create stage table: %w", err)
	}

	ensureProc, err := sqlgen.BuildEnsureValidationProc(r.schemaName, r.base)
	if err != nil {
		return err
	}
	if err := r.store.Exec(ctx, ensureProc); err != nil {
		return fmt.Errorf("ensure validation procedure: %w", err)
	}

	r.emit(ctx, PhaseTables, fmt.Sprintf("stage table %s rebuilt, validation procedure ready", stage))
	return nil
}

func (r *run) stageLoad(ctx context.Context) error {
	stage := r.base + schema.StageSuffix
	cols := make([]string, 0, len(r.colIdx)+2)
	for _, i := range r.colIdx {
		cols = append(cols, r.headers[i])
	}
	cols = append(cols, schema.LoadTimeColumn, schema.LoadTypeColumn)

	// Every row of one run carries the load time captured when the run
	// started, so "this load" is queryable by timestamp.
	loadTime := r.started
	rows := r.table.Rows
	total := int64(len(rows))
	batch := sqlgen.EffectiveBatchSize(r.eng.opts.BatchSize, len(cols))

	r.eng.tracker.Update(r.key, PhaseStageLoad, 0, total)
	batches := 0
	for start := 0; start < len(rows); start += batch {
		if err := r.checkpoint(ctx); err != nil {
			// Partial stage data is acceptable; stage is disposable.
			return err
		}
		end := start + batch
		if end > len(rows) {
			end = len(rows)
		}
		stmt, err := sqlgen.BuildInsertBatch(r.schemaName, stage, cols, end-start)
		if err != nil {
			return err
		}
		args := make([]any, 0, (end-start)*len(cols))
		for _, row := range rows[start:end] {
			for _, i := range r.colIdx {
				if i < len(row) {
					args = append(args, row[i])
				} else {
					args = append(args, "")
				}
			}
			args = append(args, loadTime, r.loadType)
		}
		if err := r.store.Exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("stage load batch at row %d: %w", start, err)
		}
		batches++
		metrics.RecordBatches(r.base, 1)
		inserted := int64(end)
		if batches%r.eng.opts.ProgressInterval == 0 || end == len(rows) {
			r.emitProgress(ctx, PhaseStageLoad,
				fmt.Sprintf("staged %d/%d rows", inserted, total), inserted, total)
		} else {
			r.eng.tracker.Update(r.key, PhaseStageLoad, inserted, total)
		}
	}
	metrics.RecordRows(r.base, "staged", total)
	return nil
}

// validationReport is the JSON payload returned by the validation procedure.
type validationReport struct {
	Result int               `json:"validation_result"`
	Issues []ValidationIssue `json:"validation_issue_list"`
}

func (r *run) validate(ctx context.Context) error {
	stmt, err := sqlgen.BuildExecProc(r.schemaName, sqlgen.ValidationProcName(r.base))
	if err != nil {
		return err
	}
	out, err := r.store.QueryStrings(ctx, stmt)
	if err != nil {
		return fmt.Errorf("run validation procedure: %w", err)
	}
	if len(out) == 0 || strings.TrimSpace(out[0]) == "" {
		return fmt.Errorf("validation procedure for %s returned no result", r.base)
	}
	var report validationReport
	if err := json.Unmarshal([]byte(out[0]), &report); err != nil {
		return fmt.Errorf("parse validation result %q: %w", out[0], err)
	}
	if report.Result > 0 {
		// Stage rows stay in place for operator inspection.
		metrics.RecordRows(r.base, "validation_issues", int64(report.Result))
		for _, issue := range report.Issues {
			r.emit(ctx, PhaseValidate, fmt.Sprintf("validation issue %s: %s", issue.ID, issue.Detail))
		}
		r.emit(ctx, PhaseValidate, fmt.Sprintf("validation failed with %d issues, stage table kept for review", report.Result))
		return fmt.Errorf("%w: validation reported %d issues", ErrCanceled, report.Result)
	}
	r.emit(ctx, PhaseValidate, "validation passed")
	return nil
}

func (r *run) promote(ctx context.Context) error {
	stage := r.base + schema.StageSuffix
	mainCols, err := r.store.TableColumns(ctx, r.schemaName, r.base)
	if err != nil {
		return err
	}

	stageCols := make([]string, 0, len(r.colIdx)+2)
	for _, i := range r.colIdx {
		stageCols = append(stageCols, r.headers[i])
	}
	stageCols = append(stageCols, schema.LoadTimeColumn, schema.LoadTypeColumn)

	var cols []string
	for _, name := range stageCols {
		if _, found := schema.FindColumn(mainCols, name); found {
			cols = append(cols, name)
		} else {
			r.emit(ctx, PhasePromote, fmt.Sprintf("warning: column %s not in main table, skipped", name))
		}
	}
	if len(cols) == 0 {
		return fmt.Errorf("no common columns between %s and %s", stage, r.base)
	}

	stmt, err := sqlgen.BuildInsertSelect(r.schemaName, r.base, stage, cols, nil, nil)
	if err != nil {
		return err
	}
	n, err := r.store.ExecRows(ctx, stmt)
	if err != nil {
		return fmt.Errorf("promote stage to main: %w", err)
	}
	r.promoted = n
	metrics.RecordRows(r.base, "promoted", n)
	r.emit(ctx, PhasePromote, fmt.Sprintf("promoted %d rows into %s.%s", n, r.schemaName, r.base))
	return nil
}

func (r *run) backupSnapshot(ctx context.Context) error {
	if r.promoted < 1 {
		r.emit(ctx, PhaseBackup, "no rows promoted, backup skipped")
		return nil
	}
	mainCols, err := r.store.TableColumns(ctx, r.schemaName, r.base)
	if err != nil {
		return err
	}
	be := backup.New(r.store, r.schemaName)
	if err := be.Ensure(ctx, r.base, mainCols); err != nil {
		return err
	}
	n, err := be.Snapshot(ctx, r.base)
	if err != nil {
		return err
	}
	metrics.RecordRows(r.base, "backed_up", n)
	r.emit(ctx, PhaseBackup, fmt.Sprintf("backed up %d rows", n))
	return nil
}

func (r *run) archiveFile(ctx context.Context) error {
	path, err := r.eng.archiver.Move(r.req.FilePath, r.req.Filename)
	if err != nil {
		return err
	}
	r.emit(ctx, PhaseArchive, fmt.Sprintf("source file archived to %s", path))
	return nil
}

// referenceConfig registers the table and runs the post-load procedure.
// Best-effort: failures are warnings, the load already succeeded.
func (r *run) referenceConfig(ctx context.Context) error {
	if !r.req.CreateReferenceConfig {
		return nil
	}
	stmt, err := sqlgen.BuildUpsertReferenceConfig(r.schemaName)
	if err == nil {
		err = r.store.Exec(ctx, stmt, r.base, r.loadType, r.schemaName)
	}
	if err != nil {
		log.Printf("ingest: reference config for %s: %v", r.base, err)
		r.emit(ctx, PhaseRefConfig, fmt.Sprintf("warning: reference config not updated: %v", err))
		return nil
	}

	if dbName := r.eng.opts.Database; dbName != "" {
		proc := "usp_reference_data_" + dbName
		if exists, err := r.store.ProcedureExists(ctx, r.schemaName, proc); err == nil && exists {
			if stmt, err := sqlgen.BuildExecProc(r.schemaName, proc); err == nil {
				if err := r.store.Exec(ctx, stmt); err != nil {
					log.Printf("ingest: post-load procedure %s: %v", proc, err)
					r.emit(ctx, PhaseRefConfig, fmt.Sprintf("warning: post-load procedure failed: %v", err))
					return nil
				}
			}
		}
	}
	r.emit(ctx, PhaseRefConfig, "reference config updated")
	return nil
}

// tableNameFor derives the target table's base name from the upload
// filename: extension stripped, sanitized like a header, lowercased.
func tableNameFor(filename string) string {
	name := filepath.Base(filename)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	sanitized := schema.SanitizeHeaders([]string{name})
	return strings.ToLower(sanitized[0])
}
