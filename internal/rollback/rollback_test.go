package rollback

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/onedollor/reference-data-mgr-sub000/internal/db"
	"github.com/onedollor/reference-data-mgr-sub000/internal/schema"
)

type fakeStore struct {
	tables   map[string][]schema.Column
	versions []string

	txQueries  []string
	rowsByStmt map[string]int64 // substring -> affected rows
	execErrOn  string
	committed  bool
	rolledBack bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables:     map[string][]schema.Column{},
		rowsByStmt: map[string]int64{},
	}
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

func (f *fakeStore) QueryStrings(_ context.Context, _ string, _ ...any) ([]string, error) {
	return f.versions, nil
}

func (f *fakeStore) Begin(_ context.Context) (db.Tx, error) {
	return &fakeTx{store: f}, nil
}

type fakeTx struct{ store *fakeStore }

func (t *fakeTx) Exec(_ context.Context, query string, _ ...any) error {
	t.store.txQueries = append(t.store.txQueries, query)
	if t.store.execErrOn != "" && strings.Contains(query, t.store.execErrOn) {
		return errors.New("forced failure")
	}
	return nil
}

func (t *fakeTx) ExecRows(ctx context.Context, query string, args ...any) (int64, error) {
	if err := t.Exec(ctx, query, args...); err != nil {
		return 0, err
	}
	for substr, n := range t.store.rowsByStmt {
		if strings.Contains(query, substr) {
			return n, nil
		}
	}
	return 0, nil
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.store.committed = true
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	t.store.rolledBack = true
	return nil
}

func seedTables(f *fakeStore, withStage bool) {
	cols := []schema.Column{
		{Name: "id", DataType: "varchar", MaxLength: 50},
		{Name: "name", DataType: "varchar", MaxLength: 50},
		{Name: schema.LoadTimeColumn, DataType: "datetime"},
		{Name: schema.LoadTypeColumn, DataType: "varchar", MaxLength: 10},
	}
	f.tables["widgets"] = cols
	backupCols := append(append([]schema.Column{}, cols...),
		schema.Column{Name: schema.VersionColumn, DataType: "int"})
	f.tables["widgets_backup"] = backupCols
	if withStage {
		f.tables["widgets_stage"] = cols
	}
}

func TestRollbackSuccess(t *testing.T) {
	t.Parallel()
	f := newFakeStore()
	seedTables(f, true)
	f.rowsByStmt["INSERT INTO [dbo].[widgets] "] = 5
	f.rowsByStmt["INSERT INTO [dbo].[widgets_stage] "] = 5

	res := Rollback(context.Background(), f, "dbo", "widgets", 1)

	if res.Status != StatusSuccess {
		t.Fatalf("Status = %q (%s), want %q", res.Status, res.Error, StatusSuccess)
	}
	if res.MainRows != 5 || res.StageRows != 5 {
		t.Errorf("rows = %d/%d, want 5/5", res.MainRows, res.StageRows)
	}
	if !f.committed || f.rolledBack {
		t.Errorf("committed=%t rolledBack=%t, want committed only", f.committed, f.rolledBack)
	}

	var sawTruncate, sawFilter bool
	for _, q := range f.txQueries {
		if strings.Contains(q, "TRUNCATE TABLE [dbo].[widgets]") {
			sawTruncate = true
		}
		if strings.Contains(q, "WHERE [ref_data_version_id] = @p1") {
			sawFilter = true
		}
		if strings.HasPrefix(q, "INSERT INTO [dbo].[widgets] (") {
			colList := q[:strings.Index(q, ") SELECT")]
			if strings.Contains(colList, "[ref_data_version_id]") {
				t.Errorf("version column restored into main table:\n%s", q)
			}
		}
	}
	if !sawTruncate {
		t.Error("main table was not truncated")
	}
	if !sawFilter {
		t.Error("restore insert was not filtered by version id")
	}
}

func TestRollbackWithoutStageTable(t *testing.T) {
	t.Parallel()
	f := newFakeStore()
	seedTables(f, false)
	f.rowsByStmt["INSERT INTO [dbo].[widgets] "] = 8

	res := Rollback(context.Background(), f, "dbo", "widgets", 2)

	if res.Status != StatusSuccess {
		t.Fatalf("Status = %q (%s), want %q", res.Status, res.Error, StatusSuccess)
	}
	if res.MainRows != 8 || res.StageRows != 0 {
		t.Errorf("rows = %d/%d, want 8/0", res.MainRows, res.StageRows)
	}
	for _, q := range f.txQueries {
		if strings.Contains(q, "widgets_stage") {
			t.Errorf("stage table touched though it does not exist:\n%s", q)
		}
	}
}

func TestRollbackStatuses(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		base string
		seed func(*fakeStore)
		want string
	}{
		{"invalid base name", "widgets; DROP TABLE x", func(*fakeStore) {}, StatusInvalidBaseName},
		{"hyphenated name", "my-table", func(*fakeStore) {}, StatusInvalidBaseName},
		{"main missing", "widgets", func(*fakeStore) {}, StatusMainMissing},
		{
			"backup missing", "widgets",
			func(f *fakeStore) {
				f.tables["widgets"] = []schema.Column{{Name: "id", DataType: "int"}}
			},
			StatusError,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakeStore()
			tt.seed(f)

			res := Rollback(context.Background(), f, "dbo", tt.base, 1)
			if res.Status != tt.want {
				t.Fatalf("Status = %q, want %q", res.Status, tt.want)
			}
			if len(f.txQueries) != 0 {
				t.Errorf("database mutated on %s: %v", tt.want, f.txQueries)
			}
		})
	}
}

func TestRollbackFailureRollsBack(t *testing.T) {
	t.Parallel()
	f := newFakeStore()
	seedTables(f, true)
	f.execErrOn = "INSERT INTO [dbo].[widgets_stage]"

	res := Rollback(context.Background(), f, "dbo", "widgets", 1)

	if res.Status != StatusError {
		t.Fatalf("Status = %q, want %q", res.Status, StatusError)
	}
	if !f.rolledBack || f.committed {
		t.Errorf("rolledBack=%t committed=%t, want rollback only", f.rolledBack, f.committed)
	}
}

func TestListTables(t *testing.T) {
	t.Parallel()
	f := newFakeStore()
	f.versions = []string{"orders_backup", "widgets_backup"}

	got, err := ListTables(context.Background(), f, "dbo")
	if err != nil {
		t.Fatalf("ListTables() = %v, want nil", err)
	}
	want := []string{"orders", "widgets"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ListTables() = %v, want %v", got, want)
	}
}

func TestListVersions(t *testing.T) {
	t.Parallel()
	f := newFakeStore()
	f.versions = []string{"1", "2", "3"}

	got, err := ListVersions(context.Background(), f, "dbo", "widgets")
	if err != nil {
		t.Fatalf("ListVersions() = %v, want nil", err)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("ListVersions() = %v, want [1 2 3]", got)
	}

	if _, err := ListVersions(context.Background(), f, "dbo", "bad name"); err == nil {
		t.Fatal("ListVersions() accepted an invalid base name")
	}
}
