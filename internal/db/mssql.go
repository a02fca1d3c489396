package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/onedollor/reference-data-mgr-sub000/internal/schema"
	"github.com/onedollor/reference-data-mgr-sub000/internal/sqlgen"
)

// sqlCore is the subset of *sql.DB the adapter uses. Tests inject fakes here
// so no sockets are required.
type sqlCore interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

type mssqlStore struct {
	db sqlCore
}

// Open validates the DSN, opens a SQL Server connection, and pings it to fail
// fast on obvious mistakes.
func Open(ctx context.Context, dsn string) (Store, error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	d, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := d.PingContext(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &mssqlStore{db: d}, nil
}

// newStoreForTest wraps a fake core as a Store.
func newStoreForTest(core sqlCore) Store { return &mssqlStore{db: core} }

func (s *mssqlStore) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *mssqlStore) ExecRows(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *mssqlStore) QueryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v.String)
	}
	return out, rows.Err()
}

func (s *mssqlStore) QueryInt(ctx context.Context, query string, args ...any) (int64, bool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var v sql.NullInt64
	if err := rows.Scan(&v); err != nil {
		return 0, false, err
	}
	return v.Int64, v.Valid, rows.Err()
}

func (s *mssqlStore) TableExists(ctx context.Context, schemaName, table string) (bool, error) {
	const q = `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 AND TABLE_TYPE = 'BASE TABLE'`
	n, _, err := s.QueryInt(ctx, q, schemaName, table)
	return n > 0, err
}

func (s *mssqlStore) ProcedureExists(ctx context.Context, schemaName, proc string) (bool, error) {
	const q = `SELECT COUNT(*) FROM INFORMATION_SCHEMA.ROUTINES
		WHERE ROUTINE_SCHEMA = @p1 AND ROUTINE_NAME = @p2 AND ROUTINE_TYPE = 'PROCEDURE'`
	n, _, err := s.QueryInt(ctx, q, schemaName, proc)
	return n > 0, err
}

func (s *mssqlStore) TableColumns(ctx context.Context, schemaName, table string) ([]schema.Column, error) {
	const q = `SELECT COLUMN_NAME, DATA_TYPE,
			ISNULL(CHARACTER_MAXIMUM_LENGTH, 0),
			ISNULL(NUMERIC_PRECISION, 0),
			ISNULL(NUMERIC_SCALE, 0),
			IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION`
	rows, err := s.db.QueryContext(ctx, q, schemaName, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var c schema.Column
		var nullable string
		if err := rows.Scan(&c.Name, &c.DataType, &c.MaxLength, &c.Precision, &c.Scale, &nullable); err != nil {
			return nil, err
		}
		c.Nullable = strings.EqualFold(nullable, "YES")
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (s *mssqlStore) RowCount(ctx context.Context, schemaName, table string) (int64, error) {
	if !sqlgen.ValidBaseName(schemaName) || !sqlgen.ValidBaseName(table) {
		return 0, fmt.Errorf("row count: invalid identifier %q.%q", schemaName, table)
	}
	n, _, err := s.QueryInt(ctx, "SELECT COUNT_BIG(*) FROM "+sqlgen.QuoteQualified(schemaName, table))
	return n, err
}

func (s *mssqlStore) Begin(ctx context.Context) (Tx, error) {
	raw, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &mssqlTx{tx: raw}, nil
}

func (s *mssqlStore) Close(ctx context.Context) error { return s.db.Close() }

type mssqlTx struct {
	tx *sql.Tx
}

func (t *mssqlTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *mssqlTx) ExecRows(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *mssqlTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *mssqlTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }
