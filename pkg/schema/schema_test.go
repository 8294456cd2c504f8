package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/s3db-replicator/pkg/typemap"
)

func attrs() []Attribute {
	return []Attribute{
		{Name: "name", Type: typemap.ParseFieldType("string|required|maxlength:100")},
		{Name: "age", Type: typemap.ParseFieldType("number|min:0|max:120")},
	}
}

func TestCreateTableSQLPostgres(t *testing.T) {
	sql := CreateTableSQL(typemap.Postgres, "users_table", attrs())
	assert.Contains(t, sql, `"id" VARCHAR(255) PRIMARY KEY`)
	assert.Contains(t, sql, `"name" VARCHAR(100) NOT NULL`)
	assert.Contains(t, sql, `"age" INTEGER NULL`)
	assert.Contains(t, sql, `"created_at" TIMESTAMPTZ DEFAULT NOW()`)
	assert.Contains(t, sql, `"updated_at" TIMESTAMPTZ DEFAULT NOW()`)
}

func TestCreateTableSQLSQLiteUsesTextPrimaryKey(t *testing.T) {
	sql := CreateTableSQL(typemap.SQLite, "users_table", attrs())
	assert.Contains(t, sql, "`id` TEXT PRIMARY KEY")
}

func TestCreateTableSQLSkipsExplicitIDAttribute(t *testing.T) {
	withID := append([]Attribute{{Name: "id", Type: typemap.ParseFieldType("string")}}, attrs()...)
	sql := CreateTableSQL(typemap.Postgres, "t", withID)
	assert.Equal(t, 1, countOccurrences(sql, `"id"`))
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
		}
	}
	return count
}

func TestBigQueryFieldsAppendOnlyAddsTrackingColumns(t *testing.T) {
	fields := BigQueryFields(attrs(), MutabilityAppendOnly)
	names := fieldNames(fields)
	assert.Contains(t, names, "_operation_type")
	assert.Contains(t, names, "_operation_timestamp")
	assert.NotContains(t, names, "_is_deleted")
}

func TestBigQueryFieldsImmutableAddsVersionAndDeleted(t *testing.T) {
	fields := BigQueryFields(attrs(), MutabilityImmutable)
	names := fieldNames(fields)
	assert.Contains(t, names, "_is_deleted")
	assert.Contains(t, names, "_version")
}

func fieldNames(fields []BQField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

type fakeIntrospector struct {
	cols   map[string]ColumnInfo
	exists bool
	err    error
}

func (f fakeIntrospector) Columns(ctx context.Context, table string) (map[string]ColumnInfo, bool, error) {
	return f.cols, f.exists, f.err
}

type fakeExecutor struct {
	stmts []string
	err   error
}

func (f *fakeExecutor) ExecDDL(ctx context.Context, stmt string) error {
	if f.err != nil {
		return f.err
	}
	f.stmts = append(f.stmts, stmt)
	return nil
}

type fakeLogger struct{}

func (fakeLogger) Info(msg string, kv ...any) {}
func (fakeLogger) Warn(msg string, kv ...any) {}

func TestSyncAlterCreatesMissingTable(t *testing.T) {
	introspector := fakeIntrospector{exists: false}
	exec := &fakeExecutor{}
	cfg := Config{Strategy: StrategyAlter, AutoCreateTable: true}
	res, err := Sync(context.Background(), typemap.Postgres, introspector, exec, fakeLogger{}, "users_table", attrs(), "", cfg)
	require.NoError(t, err)
	assert.True(t, res.Created)
	require.Len(t, exec.stmts, 1)
	assert.Contains(t, exec.stmts[0], "CREATE TABLE")
}

func TestSyncAlterAddsMissingColumnsOnly(t *testing.T) {
	introspector := fakeIntrospector{exists: true, cols: map[string]ColumnInfo{"name": {Type: "VARCHAR"}}}
	exec := &fakeExecutor{}
	cfg := Config{Strategy: StrategyAlter, AutoCreateColumns: true}
	res, err := Sync(context.Background(), typemap.Postgres, introspector, exec, fakeLogger{}, "users_table", attrs(), "", cfg)
	require.NoError(t, err)
	assert.True(t, res.Altered)
	assert.Equal(t, []string{"age"}, res.AddedCols)
	require.Len(t, exec.stmts, 1)
	assert.Contains(t, exec.stmts[0], "ALTER TABLE")
	assert.Contains(t, exec.stmts[0], "ADD COLUMN")
}

func TestSyncValidateOnlyNeverWritesDDL(t *testing.T) {
	introspector := fakeIntrospector{exists: true, cols: map[string]ColumnInfo{"name": {Type: "VARCHAR"}}}
	exec := &fakeExecutor{}
	cfg := Config{Strategy: StrategyValidateOnly, OnMismatch: OnMismatchError}
	_, err := Sync(context.Background(), typemap.Postgres, introspector, exec, fakeLogger{}, "users_table", attrs(), "", cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "age")
	assert.Empty(t, exec.stmts)
}

func TestSyncValidateOnlyMatchIsNoop(t *testing.T) {
	introspector := fakeIntrospector{exists: true, cols: map[string]ColumnInfo{"name": {}, "age": {}}}
	exec := &fakeExecutor{}
	cfg := Config{Strategy: StrategyValidateOnly, OnMismatch: OnMismatchError}
	_, err := Sync(context.Background(), typemap.Postgres, introspector, exec, fakeLogger{}, "users_table", attrs(), "", cfg)
	require.NoError(t, err)
	assert.Empty(t, exec.stmts)
}

func TestSyncOnMismatchWarnDoesNotError(t *testing.T) {
	introspector := fakeIntrospector{exists: false}
	exec := &fakeExecutor{}
	cfg := Config{Strategy: StrategyValidateOnly, OnMismatch: OnMismatchWarn}
	_, err := Sync(context.Background(), typemap.Postgres, introspector, exec, fakeLogger{}, "users_table", attrs(), "", cfg)
	require.NoError(t, err)
}

func TestSyncDropCreateRecreates(t *testing.T) {
	introspector := fakeIntrospector{exists: true, cols: map[string]ColumnInfo{"name": {}}}
	exec := &fakeExecutor{}
	cfg := Config{Strategy: StrategyDropCreate}
	res, err := Sync(context.Background(), typemap.Postgres, introspector, exec, fakeLogger{}, "users_table", attrs(), "", cfg)
	require.NoError(t, err)
	assert.True(t, res.Recreated)
	require.Len(t, exec.stmts, 2)
	assert.Contains(t, exec.stmts[0], "DROP TABLE")
	assert.Contains(t, exec.stmts[1], "CREATE TABLE")
}
