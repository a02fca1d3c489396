package sqlgen

import (
	"fmt"
	"strings"
)

// ValidationProcName returns the per-table validation procedure name.
func ValidationProcName(table string) string {
	return "sp_ref_validate_" + table
}

// BuildExecProc returns an EXEC of a schema-qualified stored procedure.
func BuildExecProc(schema, proc string) (string, error) {
	if err := checkIdent("schema", schema); err != nil {
		return "", err
	}
	if err := checkIdent("procedure", proc); err != nil {
		return "", err
	}
	return "EXEC " + QuoteQualified(schema, proc), nil
}

// BuildEnsureValidationProc returns a batch that creates a default, always
// passing validation procedure for the table when none exists. An existing
// procedure is never replaced; site-specific validation logic survives
// reloads.
func BuildEnsureValidationProc(schema, table string) (string, error) {
	if err := checkIdent("schema", schema); err != nil {
		return "", err
	}
	if err := checkIdent("table", table); err != nil {
		return "", err
	}
	proc := ValidationProcName(table)
	body := fmt.Sprintf(
		"CREATE PROCEDURE %s AS BEGIN SET NOCOUNT ON; "+
			"SELECT N''{\"validation_result\":0,\"validation_issue_list\":[]}''; END",
		QuoteQualified(schema, proc),
	)
	stmt := fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'P') IS NULL EXEC(N'%s')",
		QuoteQualified(schema, proc),
		body,
	)
	return stmt, nil
}

// BuildInsertSelectWhere is BuildInsertSelect with an equality filter on a
// single column, parameterized as @p1. Used by rollback to restore one backup
// version.
func BuildInsertSelectWhere(schema, target, source string, cols []string, whereCol string) (string, error) {
	base, err := BuildInsertSelect(schema, target, source, cols, nil, nil)
	if err != nil {
		return "", err
	}
	if err := checkIdent("column", whereCol); err != nil {
		return "", err
	}
	return base + " WHERE " + QuoteIdent(whereCol) + " = @p1", nil
}

// BuildUpsertReferenceConfig returns a batch that registers (or refreshes) a
// table in the reference-data configuration table. Values bind as @p1..@p3.
func BuildUpsertReferenceConfig(schema string) (string, error) {
	if err := checkIdent("schema", schema); err != nil {
		return "", err
	}
	cfg := QuoteQualified(schema, "ref_data_config")
	stmt := strings.Join([]string{
		fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL", cfg),
		fmt.Sprintf("  CREATE TABLE %s ([table_name] varchar(256) NOT NULL, [loadtype] varchar(1), [target_schema] varchar(128), [updated_at] datetime);", cfg),
		fmt.Sprintf("IF EXISTS (SELECT 1 FROM %s WHERE [table_name] = @p1)", cfg),
		fmt.Sprintf("  UPDATE %s SET [loadtype] = @p2, [target_schema] = @p3, [updated_at] = GETDATE() WHERE [table_name] = @p1;", cfg),
		"ELSE",
		fmt.Sprintf("  INSERT INTO %s ([table_name], [loadtype], [target_schema], [updated_at]) VALUES (@p1, @p2, @p3, GETDATE());", cfg),
	}, "\n")
	return stmt, nil
}
