package sqlgen

import (
	"fmt"
	"regexp"
	"strings"
)

// ColumnDef is a rendered column: a validated name plus a canonical SQL type
// string (the output of schema.Normalize).
type ColumnDef struct {
	Name    string
	Type    string
	NotNull bool
}

// typePattern constrains the canonical type strings accepted into DDL text.
// Normalize output always matches; anything else is refused rather than
// concatenated.
var typePattern = regexp.MustCompile(`^[a-z0-9_]+(\((max|\d+(,\d+)?)\))?$`)

// BuildCreateTable returns a T-SQL script creating the table if it does not
// already exist, using the IF OBJECT_ID guard since T-SQL has no
// CREATE TABLE IF NOT EXISTS.
func BuildCreateTable(schema, table string, cols []ColumnDef) (string, error) {
	if err := checkIdent("schema", schema); err != nil {
		return "", err
	}
	if err := checkIdent("table", table); err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("sqlgen: table %s.%s needs at least one column", schema, table)
	}

	rendered := make([]string, 0, len(cols))
	for _, c := range cols {
		def, err := renderColumn(c)
		if err != nil {
			return "", err
		}
		rendered = append(rendered, def)
	}

	fqn := QuoteQualified(schema, table)
	stmt := fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  CREATE TABLE %s (\n    %s\n  );\nEND;",
		fqn,
		fqn,
		strings.Join(rendered, ",\n    "),
	)
	return stmt, nil
}

// BuildAddColumn returns an ALTER TABLE ... ADD statement.
func BuildAddColumn(schema, table string, col ColumnDef) (string, error) {
	if err := checkIdent("schema", schema); err != nil {
		return "", err
	}
	if err := checkIdent("table", table); err != nil {
		return "", err
	}
	def, err := renderColumn(col)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD %s", QuoteQualified(schema, table), def), nil
}

// BuildAlterColumn returns an ALTER TABLE ... ALTER COLUMN statement.
func BuildAlterColumn(schema, table string, col ColumnDef) (string, error) {
	if err := checkIdent("schema", schema); err != nil {
		return "", err
	}
	if err := checkIdent("table", table); err != nil {
		return "", err
	}
	def, err := renderColumn(col)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s", QuoteQualified(schema, table), def), nil
}

// BuildDropTableIfExists returns a guarded DROP TABLE statement.
func BuildDropTableIfExists(schema, table string) (string, error) {
	if err := checkIdent("schema", schema); err != nil {
		return "", err
	}
	if err := checkIdent("table", table); err != nil {
		return "", err
	}
	fqn := QuoteQualified(schema, table)
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;", fqn, fqn), nil
}

// BuildTruncate returns a TRUNCATE TABLE statement.
func BuildTruncate(schema, table string) (string, error) {
	if err := checkIdent("schema", schema); err != nil {
		return "", err
	}
	if err := checkIdent("table", table); err != nil {
		return "", err
	}
	return "TRUNCATE TABLE " + QuoteQualified(schema, table), nil
}

// BuildRenameTable returns an sp_rename call moving oldName to newName within
// the same schema. sp_rename takes the current name schema-qualified and the
// bare new name.
func BuildRenameTable(schema, oldName, newName string) (string, error) {
	if err := checkIdent("schema", schema); err != nil {
		return "", err
	}
	if err := checkIdent("table", oldName); err != nil {
		return "", err
	}
	if err := checkIdent("table", newName); err != nil {
		return "", err
	}
	return fmt.Sprintf("EXEC sp_rename N'%s.%s', N'%s'", schema, oldName, newName), nil
}

// BuildEnsureSchema creates the schema when missing. CREATE SCHEMA must be
// the only statement in its batch, hence the EXEC wrapper.
func BuildEnsureSchema(schema string) (string, error) {
	if err := checkIdent("schema", schema); err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.schemas WHERE name = N'%s') EXEC(N'CREATE SCHEMA %s')",
		schema, QuoteIdent(schema),
	), nil
}

func renderColumn(c ColumnDef) (string, error) {
	if err := checkIdent("column", c.Name); err != nil {
		return "", err
	}
	typ := strings.TrimSpace(c.Type)
	if !typePattern.MatchString(typ) {
		return "", fmt.Errorf("sqlgen: column %s has malformed type %q", c.Name, c.Type)
	}
	var sb strings.Builder
	sb.WriteString(QuoteIdent(c.Name))
	sb.WriteByte(' ')
	sb.WriteString(typ)
	if c.NotNull {
		sb.WriteString(" NOT NULL")
	}
	return sb.String(), nil
}
