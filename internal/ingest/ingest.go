// Package ingest orchestrates one reference-data load: read the file, build
// a column set, reconcile it against the live main table, bulk-load a freshly
// rebuilt stage table, gate on the validation procedure, promote stage rows
// into main, snapshot a backup version, and archive the source file.
//
// A run is strictly sequential and cooperatively cancelable: cancellation is
// requested through the progress tracker and observed at the checkpoints
// between phases and between insert batches. A batch that has started always
// completes.
package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/onedollor/reference-data-mgr-sub000/internal/db"
	"github.com/onedollor/reference-data-mgr-sub000/internal/progress"
)

// ErrCanceled is the uniform cancellation condition. Every checkpoint that
// observes a cancellation request wraps this sentinel.
var ErrCanceled = errors.New("ingestion canceled by user")

// Mode is the caller-requested load mode.
type Mode string

const (
	ModeFull   Mode = "full"
	ModeAppend Mode = "append"
)

// Pipeline phases, in execution order. PhaseDone, PhaseCanceled, and
// PhaseError are terminal: exactly one of them ends every event stream.
const (
	PhaseConnect   = "connect"
	PhaseFormat    = "format"
	PhaseRead      = "read"
	PhaseHeaders   = "headers"
	PhaseColumns   = "columns"
	PhaseLoadType  = "load_type"
	PhaseTables    = "tables"
	PhaseStageLoad = "stage_load"
	PhaseValidate  = "validation"
	PhasePromote   = "promotion"
	PhaseBackup    = "backup"
	PhaseArchive   = "archive"
	PhaseRefConfig = "ref_config"
	PhaseDone      = "done"
	PhaseCanceled  = "canceled"
	PhaseError     = "error"
)

// Event is one progress report. Inserted/Total are only meaningful during
// stage loading; they are -1 otherwise.
type Event struct {
	Phase    string
	Message  string
	Inserted int64
	Total    int64
}

// Request describes one ingestion run.
type Request struct {
	FilePath   string
	FormatPath string
	Mode       Mode
	// Filename is the original upload name; it names the target table and
	// the progress key.
	Filename string
	// OverrideLoadType forces the ref_data_loadtype code ("F" or "A"),
	// bypassing load-type determination.
	OverrideLoadType string
	// CreateReferenceConfig registers the table in ref_data_config and runs
	// the post-load procedure, best-effort.
	CreateReferenceConfig bool
	// TargetSchema overrides the engine's default schema for this run only.
	TargetSchema string
}

// ValidationIssue is one entry of the validation procedure's issue list.
type ValidationIssue struct {
	ID     string `json:"issue_id"`
	Detail string `json:"issue_detail"`
}

// Pool hands out exclusively-owned connections; one is held for the whole
// duration of a run.
type Pool interface {
	Acquire(ctx context.Context) (db.Store, error)
	Release(ctx context.Context, s db.Store)
}

// Archiver moves a processed source file out of the inbox.
type Archiver interface {
	Move(sourcePath, originalFilename string) (string, error)
}

// Options is the engine configuration. The zero value is usable; empty or
// zero fields fall back to defaults.
type Options struct {
	Schema           string // default "dbo"
	Database         string // names the post-load procedure usp_reference_data_<database>
	BatchSize        int    // rows per INSERT, default 500, capped by the statement limits
	InferTypes       bool   // sample rows for varchar widths instead of defaulting to varchar(4000)
	SampleRows       int    // rows sampled when InferTypes is set, default 5000
	ProgressInterval int    // emit a stage-load event every N batches, default 10
}

func (o Options) withDefaults() Options {
	if o.Schema == "" {
		o.Schema = "dbo"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.SampleRows <= 0 {
		o.SampleRows = 5000
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 10
	}
	return o
}

// Engine runs ingestions. Safe for concurrent use; each run owns its own
// connection and progress entry.
type Engine struct {
	pool     Pool
	tracker  *progress.Tracker
	archiver Archiver
	opts     Options
	now      func() time.Time
}

// New builds an Engine.
func New(pool Pool, tracker *progress.Tracker, archiver Archiver, opts Options) *Engine {
	return &Engine{
		pool:     pool,
		tracker:  tracker,
		archiver: archiver,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// Tracker exposes the progress registry so other surfaces (HTTP cancel
// handlers, the CLI signal watcher) can request cancellation by key.
func (e *Engine) Tracker() *progress.Tracker { return e.tracker }

// Ingest starts one run and returns its event stream. The channel is
// unbuffered: the run blocks on each event until the consumer takes it,
// which is the cooperative yield between phases. The stream always ends
// with exactly one terminal event and then closes, so consumers must drain
// the channel until it closes even after canceling ctx.
func (e *Engine) Ingest(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		key := progress.Key(req.Filename)
		e.tracker.Init(key)

		r := &run{eng: e, req: req, key: key, events: ch}
		err := r.execute(ctx)
		switch {
		case err == nil:
			e.tracker.MarkDone(key)
			r.emitTerminal(PhaseDone, "ingestion complete")
		case errors.Is(err, ErrCanceled):
			// RequestCancel is idempotent; benign terminations arrive
			// here without a prior operator request.
			e.tracker.RequestCancel(key, err.Error())
			r.emitTerminal(PhaseCanceled, err.Error())
		default:
			e.tracker.MarkError(key, err.Error())
			log.Printf("ingest %s: %v", req.Filename, err)
			r.emitTerminal(PhaseError, err.Error())
		}
	}()
	return ch
}
