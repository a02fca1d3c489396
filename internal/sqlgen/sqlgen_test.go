package sqlgen

import (
	"strings"
	"testing"
)

func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
		want string
	}{
		{name: "simple", id: "name", want: "[name]"},
		{name: "with space", id: "order id", want: "[order id]"},
		{name: "escape closing bracket", id: "weird]id", want: "[weird]]id]"},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := QuoteIdent(tt.id); got != tt.want {
				t.Fatalf("QuoteIdent(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestValidBaseName(t *testing.T) {
	t.Parallel()

	valid := []string{"widgets", "my_table", "_t", "T2"}
	invalid := []string{"", "2table", "a-b", "a b", "a;drop", "dbo.widgets", "a]b"}

	for _, v := range valid {
		if !ValidBaseName(v) {
			t.Fatalf("ValidBaseName(%q) = false, want true", v)
		}
	}
	for _, v := range invalid {
		if ValidBaseName(v) {
			t.Fatalf("ValidBaseName(%q) = true, want false", v)
		}
	}
}

func TestBuildCreateTable(t *testing.T) {
	t.Parallel()

	got, err := BuildCreateTable("dbo", "widgets", []ColumnDef{
		{Name: "id", Type: "varchar(50)"},
		{Name: "ref_data_version_id", Type: "int", NotNull: true},
	})
	if err != nil {
		t.Fatalf("BuildCreateTable: %v", err)
	}
	for _, want := range []string{
		"IF OBJECT_ID(N'[dbo].[widgets]', N'U') IS NULL",
		"CREATE TABLE [dbo].[widgets]",
		"[id] varchar(50)",
		"[ref_data_version_id] int NOT NULL",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("BuildCreateTable output missing %q:\n%s", want, got)
		}
	}
}

func TestBuildCreateTableRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		schema string
		table  string
		cols   []ColumnDef
	}{
		{name: "bad schema", schema: "d;o", table: "t", cols: []ColumnDef{{Name: "a", Type: "int"}}},
		{name: "bad table", schema: "dbo", table: "t]x", cols: []ColumnDef{{Name: "a", Type: "int"}}},
		{name: "no columns", schema: "dbo", table: "t", cols: nil},
		{name: "bad column name", schema: "dbo", table: "t", cols: []ColumnDef{{Name: "a b", Type: "int"}}},
		{name: "malformed type", schema: "dbo", table: "t", cols: []ColumnDef{{Name: "a", Type: "int; DROP TABLE x"}}},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := BuildCreateTable(tt.schema, tt.table, tt.cols); err == nil {
				t.Fatalf("BuildCreateTable accepted bad input")
			}
		})
	}
}

func TestBuildInsertBatch(t *testing.T) {
	t.Parallel()

	got, err := BuildInsertBatch("dbo", "widgets_stage", []string{"id", "name"}, 2)
	if err != nil {
		t.Fatalf("BuildInsertBatch: %v", err)
	}
	want := "INSERT INTO [dbo].[widgets_stage] ([id], [name]) VALUES (@p1, @p2), (@p3, @p4)"
	if got != want {
		t.Fatalf("BuildInsertBatch = %q, want %q", got, want)
	}
}

func TestBuildInsertBatchLimits(t *testing.T) {
	t.Parallel()

	if _, err := BuildInsertBatch("dbo", "t", []string{"a"}, 991); err == nil {
		t.Fatalf("row count over the cap was accepted")
	}
	if _, err := BuildInsertBatch("dbo", "t", []string{"a"}, 0); err == nil {
		t.Fatalf("zero row count was accepted")
	}
	// 700 rows x 3 cols = 2100 params, just over the trimmed budget.
	if _, err := BuildInsertBatch("dbo", "t", []string{"a", "b", "c"}, 700); err == nil {
		t.Fatalf("parameter budget overflow was accepted")
	}
}

func TestEffectiveBatchSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		configured int
		columns    int
		want       int
	}{
		{name: "default cap", configured: 0, columns: 2, want: 990},
		{name: "configured wins when small", configured: 100, columns: 2, want: 100},
		{name: "row cap applies", configured: 5000, columns: 1, want: 990},
		{name: "param budget shrinks batch", configured: 990, columns: 50, want: 41},
		{name: "very wide table still inserts", configured: 990, columns: 3000, want: 1},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := EffectiveBatchSize(tt.configured, tt.columns)
			if got != tt.want {
				t.Fatalf("EffectiveBatchSize(%d, %d) = %d, want %d", tt.configured, tt.columns, got, tt.want)
			}
			if tt.columns > 0 && got*tt.columns > maxParamsPerStatement {
				t.Fatalf("effective batch %d x %d cols busts the parameter budget", got, tt.columns)
			}
		})
	}
}

func TestBuildInsertSelect(t *testing.T) {
	t.Parallel()

	got, err := BuildInsertSelect("dbo", "widgets", "widgets_stage",
		[]string{"id", "name"}, []string{"ref_data_version_id"}, []string{"@p1"})
	if err != nil {
		t.Fatalf("BuildInsertSelect: %v", err)
	}
	want := "INSERT INTO [dbo].[widgets] ([id], [name], [ref_data_version_id]) SELECT [id], [name], @p1 FROM [dbo].[widgets_stage]"
	if got != want {
		t.Fatalf("BuildInsertSelect = %q, want %q", got, want)
	}
}

func TestBuildInsertSelectWhere(t *testing.T) {
	t.Parallel()

	got, err := BuildInsertSelectWhere("dbo", "widgets", "widgets_backup",
		[]string{"id"}, "ref_data_version_id")
	if err != nil {
		t.Fatalf("BuildInsertSelectWhere: %v", err)
	}
	if !strings.HasSuffix(got, "WHERE [ref_data_version_id] = @p1") {
		t.Fatalf("missing version filter: %q", got)
	}
}

func TestBuildRenameTable(t *testing.T) {
	t.Parallel()

	got, err := BuildRenameTable("dbo", "widgets_backup", "widgets_backup_20240101120000")
	if err != nil {
		t.Fatalf("BuildRenameTable: %v", err)
	}
	want := "EXEC sp_rename N'dbo.widgets_backup', N'widgets_backup_20240101120000'"
	if got != want {
		t.Fatalf("BuildRenameTable = %q, want %q", got, want)
	}
}

func TestBuildEnsureValidationProc(t *testing.T) {
	t.Parallel()

	got, err := BuildEnsureValidationProc("dbo", "widgets")
	if err != nil {
		t.Fatalf("BuildEnsureValidationProc: %v", err)
	}
	if !strings.Contains(got, "IF OBJECT_ID(N'[dbo].[sp_ref_validate_widgets]', N'P') IS NULL") {
		t.Fatalf("proc guard missing: %q", got)
	}
	if !strings.Contains(got, "validation_result") {
		t.Fatalf("default payload missing: %q", got)
	}
}

func TestBuildDropAndTruncate(t *testing.T) {
	t.Parallel()

	drop, err := BuildDropTableIfExists("dbo", "widgets_stage")
	if err != nil {
		t.Fatalf("BuildDropTableIfExists: %v", err)
	}
	if !strings.Contains(drop, "IS NOT NULL DROP TABLE [dbo].[widgets_stage]") {
		t.Fatalf("drop guard missing: %q", drop)
	}

	trunc, err := BuildTruncate("dbo", "widgets")
	if err != nil {
		t.Fatalf("BuildTruncate: %v", err)
	}
	if trunc != "TRUNCATE TABLE [dbo].[widgets]" {
		t.Fatalf("BuildTruncate = %q", trunc)
	}
}
