package backup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/onedollor/reference-data-mgr-sub000/internal/db"
	"github.com/onedollor/reference-data-mgr-sub000/internal/schema"
)

type fakeStore struct {
	tables   map[string][]schema.Column
	maxVer   int64
	hasVer   bool
	execed   []string
	rowsErr  error
	rowCount int64
	queryErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: map[string][]schema.Column{}}
}

func (f *fakeStore) TableExists(_ context.Context, _, table string) (bool, error) {
	_, ok := f.tables[table]
	return ok, nil
}

func (f *fakeStore) TableColumns(_ context.Context, _, table string) ([]schema.Column, error) {
	cols, ok := f.tables[table]
	if !ok {
		return nil, errors.New("no such table: " + table)
	}
	return cols, nil
}

func (f *fakeStore) Exec(_ context.Context, query string, _ ...any) error {
	f.execed = append(f.execed, query)
	return nil
}

func (f *fakeStore) ExecRows(_ context.Context, query string, _ ...any) (int64, error) {
	f.execed = append(f.execed, query)
	if f.rowsErr != nil {
		return 0, f.rowsErr
	}
	return f.rowCount, nil
}

func (f *fakeStore) QueryInt(_ context.Context, _ string, _ ...any) (int64, bool, error) {
	if f.queryErr != nil {
		return 0, false, f.queryErr
	}
	return f.maxVer, f.hasVer, nil
}

func (f *fakeStore) Begin(_ context.Context) (db.Tx, error) {
	return &fakeTx{store: f}, nil
}

type fakeTx struct{ store *fakeStore }

func (t *fakeTx) Exec(_ context.Context, query string, _ ...any) error {
	t.store.execed = append(t.store.execed, query)
	return nil
}

func (t *fakeTx) ExecRows(_ context.Context, query string, _ ...any) (int64, error) {
	t.store.execed = append(t.store.execed, query)
	return 0, nil
}

func (t *fakeTx) Commit(_ context.Context) error   { return nil }
func (t *fakeTx) Rollback(_ context.Context) error { return nil }

func fixedNow() time.Time {
	return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
}

func mainCols() []schema.Column {
	return []schema.Column{
		{Name: "id", DataType: "int"},
		{Name: "name", DataType: "varchar", MaxLength: 100},
		{Name: schema.LoadTimeColumn, DataType: "datetime"},
		{Name: schema.LoadTypeColumn, DataType: "varchar", MaxLength: 10},
	}
}

func TestEnsureCreatesMissingTable(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	e := New(st, "dbo")

	if err := e.Ensure(context.Background(), "widgets", mainCols()); err != nil {
		t.Fatalf("Ensure() = %v, want nil", err)
	}
	if len(st.execed) != 1 {
		t.Fatalf("executed %d statements, want 1: %v", len(st.execed), st.execed)
	}
	stmt := st.execed[0]
	for _, want := range []string{
		"[widgets_backup]",
		"[id] int",
		"[name] varchar(100)",
		"[ref_data_version_id] int NOT NULL",
		"[ref_data_loadtype] varchar(10)",
	} {
		if !strings.Contains(stmt, want) {
			t.Errorf("create statement missing %q:\n%s", want, stmt)
		}
	}
}

func TestEnsureNoopWhenCompatible(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.tables["widgets_backup"] = []schema.Column{
		{Name: "id", DataType: "int"},
		{Name: "name", DataType: "varchar", MaxLength: 100},
		{Name: schema.LoadTimeColumn, DataType: "datetime"},
		{Name: schema.LoadTypeColumn, DataType: "varchar", MaxLength: 10},
		{Name: schema.VersionColumn, DataType: "int"},
	}
	e := New(st, "dbo")

	if err := e.Ensure(context.Background(), "widgets", mainCols()); err != nil {
		t.Fatalf("Ensure() = %v, want nil", err)
	}
	if len(st.execed) != 0 {
		t.Fatalf("executed %d statements, want 0: %v", len(st.execed), st.execed)
	}
}

func TestEnsureWidensCompatibleChange(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.tables["widgets_backup"] = []schema.Column{
		{Name: "id", DataType: "int"},
		{Name: "name", DataType: "varchar", MaxLength: 50}, // narrower than main
		{Name: schema.LoadTimeColumn, DataType: "datetime"},
		{Name: schema.LoadTypeColumn, DataType: "varchar", MaxLength: 10},
		{Name: schema.VersionColumn, DataType: "int"},
	}
	e := New(st, "dbo")

	if err := e.Ensure(context.Background(), "widgets", mainCols()); err != nil {
		t.Fatalf("Ensure() = %v, want nil", err)
	}
	var altered bool
	for _, stmt := range st.execed {
		if strings.Contains(stmt, "ALTER COLUMN [name] varchar(100)") {
			altered = true
		}
		if strings.Contains(stmt, "sp_rename") {
			t.Errorf("widening path renamed the table:\n%s", stmt)
		}
	}
	if !altered {
		t.Fatalf("no ALTER COLUMN among executed statements: %v", st.execed)
	}
}

func TestEnsureRenamesIncompatibleTable(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.tables["widgets_backup"] = []schema.Column{
		{Name: "id", DataType: "varchar", MaxLength: 20}, // text vs int: not safe
		{Name: "name", DataType: "varchar", MaxLength: 100},
		{Name: schema.LoadTimeColumn, DataType: "datetime"},
		{Name: schema.LoadTypeColumn, DataType: "varchar", MaxLength: 10},
		{Name: schema.VersionColumn, DataType: "int"},
	}
	e := New(st, "dbo")
	e.now = fixedNow

	if err := e.Ensure(context.Background(), "widgets", mainCols()); err != nil {
		t.Fatalf("Ensure() = %v, want nil", err)
	}
	var renamed, created bool
	for _, stmt := range st.execed {
		if strings.Contains(stmt, "sp_rename") && strings.Contains(stmt, "widgets_backup_20240315103000") {
			renamed = true
		}
		if strings.Contains(stmt, "CREATE TABLE") && strings.Contains(stmt, "[widgets_backup]") {
			created = true
		}
	}
	if !renamed {
		t.Errorf("incompatible table was not renamed aside: %v", st.execed)
	}
	if !created {
		t.Errorf("fresh backup table was not created: %v", st.execed)
	}
}

func TestNextVersion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		maxVer int64
		hasVer bool
		want   int64
	}{
		{"empty table", 0, false, 1},
		{"existing versions", 7, true, 8},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := newFakeStore()
			st.maxVer, st.hasVer = tt.maxVer, tt.hasVer
			e := New(st, "dbo")
			got, err := e.NextVersion(context.Background(), "widgets")
			if err != nil {
				t.Fatalf("NextVersion() = %v, want nil", err)
			}
			if got != tt.want {
				t.Fatalf("NextVersion() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSnapshotIntersectionOnly(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.tables["widgets"] = []schema.Column{
		{Name: "id", DataType: "int"},
		{Name: "name", DataType: "varchar", MaxLength: 100},
		{Name: "extra", DataType: "int"}, // not in backup table
		{Name: schema.LoadTimeColumn, DataType: "datetime"},
	}
	st.tables["widgets_backup"] = []schema.Column{
		{Name: "id", DataType: "int"},
		{Name: "name", DataType: "varchar", MaxLength: 100},
		{Name: schema.VersionColumn, DataType: "int"},
	}
	st.maxVer, st.hasVer = 3, true
	st.rowCount = 42
	e := New(st, "dbo")

	n, err := e.Snapshot(context.Background(), "widgets")
	if err != nil {
		t.Fatalf("Snapshot() = %v, want nil", err)
	}
	if n != 42 {
		t.Fatalf("Snapshot() copied %d rows, want 42", n)
	}
	if len(st.execed) != 1 {
		t.Fatalf("executed %d statements, want 1: %v", len(st.execed), st.execed)
	}
	stmt := st.execed[0]
	if strings.Contains(stmt, "[extra]") {
		t.Errorf("snapshot selected a column absent from the backup table:\n%s", stmt)
	}
	for _, want := range []string{"[id], [name]", "GETDATE()", "@p1", "@p2"} {
		if !strings.Contains(stmt, want) {
			t.Errorf("snapshot statement missing %q:\n%s", want, stmt)
		}
	}
}

func TestSnapshotTransientErrorSkipped(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
	}{
		{"column count mismatch", errors.New("mssql: Column name or number of supplied values does not match table definition.")},
		{"truncation", errors.New("mssql: String or binary data would be truncated in table 'dbo.widgets_backup'")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := newFakeStore()
			st.tables["widgets"] = mainCols()
			st.tables["widgets_backup"] = mainCols()
			st.rowsErr = tt.err
			e := New(st, "dbo")

			n, err := e.Snapshot(context.Background(), "widgets")
			if err != nil {
				t.Fatalf("Snapshot() = %v, want nil for transient error", err)
			}
			if n != 0 {
				t.Fatalf("Snapshot() = %d rows, want 0", n)
			}
		})
	}
}

func TestSnapshotFatalErrorPropagates(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.tables["widgets"] = mainCols()
	st.tables["widgets_backup"] = mainCols()
	st.rowsErr = errors.New("mssql: deadlock victim")
	e := New(st, "dbo")

	if _, err := e.Snapshot(context.Background(), "widgets"); err == nil {
		t.Fatal("Snapshot() = nil, want error")
	}
}
