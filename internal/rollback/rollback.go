// Package rollback restores a main table (and its stage peer) from one
// historical backup version. It is an operator-triggered recovery path,
// never invoked by the ingestion pipeline itself.
package rollback

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/onedollor/reference-data-mgr-sub000/internal/db"
	"github.com/onedollor/reference-data-mgr-sub000/internal/schema"
	"github.com/onedollor/reference-data-mgr-sub000/internal/sqlgen"
)

// Store is the database access rollback needs.
type Store interface {
	TableExists(ctx context.Context, schemaName, table string) (bool, error)
	TableColumns(ctx context.Context, schemaName, table string) ([]schema.Column, error)
	QueryStrings(ctx context.Context, query string, args ...any) ([]string, error)
	Begin(ctx context.Context) (db.Tx, error)
}

// Result statuses.
const (
	StatusSuccess         = "success"
	StatusError           = "error"
	StatusInvalidBaseName = "invalid_base_name"
	StatusMainMissing     = "main_missing"
)

// Result reports one rollback attempt.
type Result struct {
	Status    string `json:"status"`
	MainRows  int64  `json:"main_rows"`
	StageRows int64  `json:"stage_rows"`
	Error     string `json:"error,omitempty"`
}

func errorResult(err error) Result {
	return Result{Status: StatusError, Error: err.Error()}
}

// Rollback truncates the main table and repopulates it with the backup rows
// tagged versionID; if a stage table exists it is truncated and repopulated
// identically. The whole restore is one transaction: any failure rolls
// everything back.
func Rollback(ctx context.Context, st Store, schemaName, base string, versionID int64) Result {
	if !sqlgen.ValidBaseName(base) {
		return Result{Status: StatusInvalidBaseName, Error: fmt.Sprintf("invalid table name %q", base)}
	}

	mainExists, err := st.TableExists(ctx, schemaName, base)
	if err != nil {
		return errorResult(err)
	}
	if !mainExists {
		return Result{Status: StatusMainMissing, Error: fmt.Sprintf("table %s.%s does not exist", schemaName, base)}
	}

	backupTable := base + schema.BackupSuffix
	backupCols, err := st.TableColumns(ctx, schemaName, backupTable)
	if err != nil {
		return errorResult(fmt.Errorf("introspect %s: %w", backupTable, err))
	}
	mainCols, err := st.TableColumns(ctx, schemaName, base)
	if err != nil {
		return errorResult(fmt.Errorf("introspect %s: %w", base, err))
	}

	// Restorable columns: in both tables, version id excluded.
	var cols []string
	for _, c := range backupCols {
		if strings.EqualFold(c.Name, schema.VersionColumn) {
			continue
		}
		if _, found := schema.FindColumn(mainCols, c.Name); found {
			cols = append(cols, c.Name)
		}
	}
	if len(cols) == 0 {
		return errorResult(fmt.Errorf("no common columns between %s and %s", backupTable, base))
	}

	stageTable := base + schema.StageSuffix
	stageExists, err := st.TableExists(ctx, schemaName, stageTable)
	if err != nil {
		return errorResult(err)
	}

	tx, err := st.Begin(ctx)
	if err != nil {
		return errorResult(err)
	}

	res, err := restore(ctx, tx, schemaName, base, backupTable, stageTable, stageExists, cols, versionID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return errorResult(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return errorResult(err)
	}
	res.Status = StatusSuccess
	return res
}

func restore(ctx context.Context, tx db.Tx, schemaName, base, backupTable, stageTable string, stageExists bool, cols []string, versionID int64) (Result, error) {
	var res Result

	truncMain, err := sqlgen.BuildTruncate(schemaName, base)
	if err != nil {
		return res, err
	}
	if err := tx.Exec(ctx, truncMain); err != nil {
		return res, fmt.Errorf("truncate %s: %w", base, err)
	}
	insMain, err := sqlgen.BuildInsertSelectWhere(schemaName, base, backupTable, cols, schema.VersionColumn)
	if err != nil {
		return res, err
	}
	res.MainRows, err = tx.ExecRows(ctx, insMain, versionID)
	if err != nil {
		return res, fmt.Errorf("restore %s: %w", base, err)
	}

	if stageExists {
		truncStage, err := sqlgen.BuildTruncate(schemaName, stageTable)
		if err != nil {
			return res, err
		}
		if err := tx.Exec(ctx, truncStage); err != nil {
			return res, fmt.Errorf("truncate %s: %w", stageTable, err)
		}
		insStage, err := sqlgen.BuildInsertSelectWhere(schemaName, stageTable, backupTable, cols, schema.VersionColumn)
		if err != nil {
			return res, err
		}
		res.StageRows, err = tx.ExecRows(ctx, insStage, versionID)
		if err != nil {
			return res, fmt.Errorf("restore %s: %w", stageTable, err)
		}
	}
	return res, nil
}

// ListTables returns base names that have a backup table, alphabetically.
func ListTables(ctx context.Context, st Store, schemaName string) ([]string, error) {
	q := "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES " +
		"WHERE TABLE_SCHEMA = @p1 AND TABLE_TYPE = 'BASE TABLE' AND TABLE_NAME LIKE @p2 " +
		"ORDER BY TABLE_NAME"
	names, err := st.QueryStrings(ctx, q, schemaName, "%"+schema.BackupSuffix)
	if err != nil {
		return nil, fmt.Errorf("list backup tables: %w", err)
	}
	bases := make([]string, 0, len(names))
	for _, n := range names {
		bases = append(bases, strings.TrimSuffix(n, schema.BackupSuffix))
	}
	return bases, nil
}

// ListVersions returns the distinct version ids present in a base table's
// backup, ascending.
func ListVersions(ctx context.Context, st Store, schemaName, base string) ([]int64, error) {
	if !sqlgen.ValidBaseName(base) {
		return nil, fmt.Errorf("invalid table name %q", base)
	}
	backupTable := base + schema.BackupSuffix
	q := fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY %s",
		sqlgen.QuoteIdent(schema.VersionColumn),
		sqlgen.QuoteQualified(schemaName, backupTable),
		sqlgen.QuoteIdent(schema.VersionColumn))
	raw, err := st.QueryStrings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", base, err)
	}
	versions := make([]int64, 0, len(raw))
	for _, s := range raw {
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("version %q in %s: %w", s, backupTable, err)
		}
		versions = append(versions, v)
	}
	return versions, nil
}
