// Command refmgr is the reference-data manager CLI. It wires configuration,
// the SQL Server connection pool, the ingestion engine, and the metrics
// backends, and exposes four subcommands:
//
//	refmgr ingest   -file data.csv [-format data.fmt.json] [-mode full|append]
//	refmgr rollback -table widgets -version 3
//	refmgr versions -table widgets
//	refmgr tables
//
// main() stays tiny and delegates to run() for testability; side effects
// (DB constructors, metrics backends, output streams) are injected via Deps.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/onedollor/reference-data-mgr-sub000/internal/archive"
	"github.com/onedollor/reference-data-mgr-sub000/internal/config"
	"github.com/onedollor/reference-data-mgr-sub000/internal/db"
	"github.com/onedollor/reference-data-mgr-sub000/internal/ingest"
	"github.com/onedollor/reference-data-mgr-sub000/internal/metrics"
	"github.com/onedollor/reference-data-mgr-sub000/internal/metrics/datadog"
	"github.com/onedollor/reference-data-mgr-sub000/internal/metrics/prompush"
	"github.com/onedollor/reference-data-mgr-sub000/internal/progress"
	"github.com/onedollor/reference-data-mgr-sub000/internal/rollback"
)

// Deps holds injectable dependencies so run() is fully testable. In tests we
// pass fakes here; in production, defaultDeps() provides the real wiring.
type Deps struct {
	OpenStore  func(ctx context.Context, dsn string) (db.Store, error)
	NewProm    func(job, url string) (metrics.Backend, error)
	NewDatadog func(cfg datadog.Config) (metrics.Backend, error)

	Stdout io.Writer
	Stderr io.Writer
}

func defaultDeps() Deps {
	return Deps{
		OpenStore: db.Open,
		NewProm: func(job, url string) (metrics.Backend, error) {
			return prompush.NewBackend(job, url)
		},
		NewDatadog: func(cfg datadog.Config) (metrics.Backend, error) {
			return datadog.NewBackend(cfg)
		},
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

const usage = `usage: refmgr <command> [flags]

commands:
  ingest    load a delimited file into its reference table
  rollback  restore a table to a backed-up version
  versions  list backup versions available for a table
  tables    list tables that have a backup
`

// run dispatches the subcommand in args[0]. Each subcommand owns a private
// FlagSet carrying its specific flags on top of the shared config flags.
func run(ctx context.Context, getenv func(string) string, args []string, deps Deps) error {
	if len(args) == 0 {
		fmt.Fprint(deps.Stderr, usage)
		return fmt.Errorf("missing command")
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "ingest":
		return runIngest(ctx, getenv, rest, deps)
	case "rollback":
		return runRollback(ctx, getenv, rest, deps)
	case "versions":
		return runVersions(ctx, getenv, rest, deps)
	case "tables":
		return runTables(ctx, getenv, rest, deps)
	default:
		fmt.Fprint(deps.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// setupMetrics installs the configured metrics backend, if any, and returns
// a flush func the caller should defer. With no backend configured, metrics
// stay on the built-in no-op backend.
func setupMetrics(cfg *config.Config, deps Deps) (func(), error) {
	switch {
	case cfg.PushgatewayURL != "":
		b, err := deps.NewProm(cfg.MetricsJob, cfg.PushgatewayURL)
		if err != nil {
			return nil, fmt.Errorf("pushgateway backend: %w", err)
		}
		metrics.SetBackend(b)
	case cfg.DogstatsdAddr != "":
		b, err := deps.NewDatadog(datadog.Config{Addr: cfg.DogstatsdAddr, Namespace: "refmgr"})
		if err != nil {
			return nil, fmt.Errorf("dogstatsd backend: %w", err)
		}
		metrics.SetBackend(b)
	default:
		return func() {}, nil
	}
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics flush: %v", err)
		}
	}, nil
}

// openStore validates the DSN and opens one connection.
func openStore(ctx context.Context, cfg *config.Config, deps Deps) (db.Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("-dsn (or DB_DSN) is required")
	}
	st, err := deps.OpenStore(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}

func runIngest(ctx context.Context, getenv func(string) string, args []string, deps Deps) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(deps.Stderr)
	var (
		file      = fs.String("file", "", "Path to the delimited source file (required)")
		format    = fs.String("format", "", "Path to the format descriptor JSON (default <file>.fmt.json)")
		mode      = fs.String("mode", "full", "Requested load mode: full or append")
		override  = fs.String("load_type", "", "Force the load type code (F or A), bypassing determination")
		refConfig = fs.Bool("ref_config", false, "Register the table in ref_data_config after loading")
	)
	cfg := config.LoadFromArgs(fs, getenv, args)

	if *file == "" {
		return fmt.Errorf("-file is required")
	}
	var reqMode ingest.Mode
	switch *mode {
	case "full":
		reqMode = ingest.ModeFull
	case "append":
		reqMode = ingest.ModeAppend
	default:
		return fmt.Errorf("invalid -mode %q (want full or append)", *mode)
	}
	formatPath := *format
	if formatPath == "" {
		formatPath = strings.TrimSuffix(*file, filepath.Ext(*file)) + ".fmt.json"
	}

	flush, err := setupMetrics(cfg, deps)
	if err != nil {
		return err
	}
	defer flush()

	pool := db.NewPool(cfg.PoolSize, func(ctx context.Context) (db.Store, error) {
		return openStore(ctx, cfg, deps)
	})
	defer pool.Close(context.Background())

	tracker := progress.NewTracker()
	eng := ingest.New(pool, tracker, archive.New(cfg.ArchiveDir), ingest.Options{
		Schema:           cfg.Schema,
		Database:         cfg.Database,
		BatchSize:        cfg.BatchSize,
		InferTypes:       cfg.InferTypes,
		SampleRows:       cfg.TypeSampleRows,
		ProgressInterval: cfg.ProgressInterval,
	})

	filename := filepath.Base(*file)
	events := eng.Ingest(ctx, ingest.Request{
		FilePath:              *file,
		FormatPath:            formatPath,
		Mode:                  reqMode,
		Filename:              filename,
		OverrideLoadType:      *override,
		CreateReferenceConfig: *refConfig,
	})

	// One goroutine drains the event stream; another turns an interrupt
	// into a cooperative cancellation request so the run stops at its next
	// checkpoint instead of being torn down mid-statement.
	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			tracker.RequestCancel(progress.Key(filename), "interrupted")
		case <-done:
		}
		return nil
	})
	g.Go(func() error {
		defer close(done)
		var terminal ingest.Event
		for ev := range events {
			if ev.Total >= 0 {
				fmt.Fprintf(deps.Stdout, "[%s] %s (%d/%d rows)\n", ev.Phase, ev.Message, ev.Inserted, ev.Total)
			} else {
				fmt.Fprintf(deps.Stdout, "[%s] %s\n", ev.Phase, ev.Message)
			}
			terminal = ev
		}
		switch terminal.Phase {
		case ingest.PhaseDone:
			return nil
		case ingest.PhaseCanceled:
			return fmt.Errorf("ingestion canceled: %s", terminal.Message)
		default:
			return fmt.Errorf("ingestion failed: %s", terminal.Message)
		}
	})

	runErr := g.Wait()
	if runErr != nil && ctx.Err() != nil {
		return fmt.Errorf("interrupted: %w", runErr)
	}
	return runErr
}

func runRollback(ctx context.Context, getenv func(string) string, args []string, deps Deps) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	fs.SetOutput(deps.Stderr)
	var (
		table   = fs.String("table", "", "Base table name to restore (required)")
		version = fs.Int64("version", 0, "Backup version id to restore (required)")
	)
	cfg := config.LoadFromArgs(fs, getenv, args)

	if *table == "" {
		return fmt.Errorf("-table is required")
	}
	if *version < 1 {
		return fmt.Errorf("-version must be a positive version id")
	}

	st, err := openStore(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	res := rollback.Rollback(ctx, st, cfg.Schema, *table, *version)
	enc := json.NewEncoder(deps.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Status != rollback.StatusSuccess {
		return fmt.Errorf("rollback %s: %s", res.Status, res.Error)
	}
	return nil
}

func runVersions(ctx context.Context, getenv func(string) string, args []string, deps Deps) error {
	fs := flag.NewFlagSet("versions", flag.ContinueOnError)
	fs.SetOutput(deps.Stderr)
	table := fs.String("table", "", "Base table name (required)")
	cfg := config.LoadFromArgs(fs, getenv, args)

	if *table == "" {
		return fmt.Errorf("-table is required")
	}

	st, err := openStore(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	versions, err := rollback.ListVersions(ctx, st, cfg.Schema, *table)
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}
	for _, v := range versions {
		fmt.Fprintln(deps.Stdout, v)
	}
	return nil
}

func runTables(ctx context.Context, getenv func(string) string, args []string, deps Deps) error {
	fs := flag.NewFlagSet("tables", flag.ContinueOnError)
	fs.SetOutput(deps.Stderr)
	cfg := config.LoadFromArgs(fs, getenv, args)

	st, err := openStore(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	tables, err := rollback.ListTables(ctx, st, cfg.Schema)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	for _, tbl := range tables {
		fmt.Fprintln(deps.Stdout, tbl)
	}
	return nil
}

// main loads nothing itself: config parsing happens per subcommand so each
// FlagSet can carry its own flags. Interrupts cancel the context, which the
// ingestion engine honors at its checkpoints.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Getenv, os.Args[1:], defaultDeps()); err != nil {
		log.Fatal(err)
	}
}
