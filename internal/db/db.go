// Package db implements database access for the ingestion engine on top of
// database/sql and the go-mssqldb driver. It exposes a narrow Store contract
// so the pipeline, schema sync, backup, and rollback packages can run against
// fakes in tests, plus a fixed-size connection pool whose acquisition blocks
// (busy-wait with a short sleep) when exhausted.
package db

import (
	"context"

	"github.com/onedollor/reference-data-mgr-sub000/internal/schema"
)

// Store is one exclusively-owned database connection. A Store acquired from
// the Pool belongs to a single ingestion run until released.
type Store interface {
	// Exec runs a statement, discarding the affected-row count.
	Exec(ctx context.Context, query string, args ...any) error
	// ExecRows runs a statement and returns the affected-row count.
	ExecRows(ctx context.Context, query string, args ...any) (int64, error)
	// QueryStrings returns the first column of every result row as strings.
	// NULLs come back as empty strings.
	QueryStrings(ctx context.Context, query string, args ...any) ([]string, error)
	// QueryInt returns the first column of the first row as an int64. The
	// bool reports whether a non-NULL value was present.
	QueryInt(ctx context.Context, query string, args ...any) (int64, bool, error)

	TableExists(ctx context.Context, schemaName, table string) (bool, error)
	ProcedureExists(ctx context.Context, schemaName, proc string) (bool, error)
	TableColumns(ctx context.Context, schemaName, table string) ([]schema.Column, error)
	RowCount(ctx context.Context, schemaName, table string) (int64, error)

	Begin(ctx context.Context) (Tx, error)
	Close(ctx context.Context) error
}

// Tx brackets a multi-statement batch. DDL participates in transactions on
// SQL Server, which the schema synchronizer relies on.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) error
	ExecRows(ctx context.Context, query string, args ...any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
