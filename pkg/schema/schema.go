// Package schema generates DDL for each SQL/warehouse dialect and runs the
// schema-sync orchestrator that keeps a destination's columns aligned with
// the evolving source resource schema (spec §4.2, §4.3).
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/s3db-replicator/pkg/sqlutil"
	"github.com/user/s3db-replicator/pkg/typemap"
)

// Attribute is one source-resource field, in declaration order.
type Attribute struct {
	Name string
	Type typemap.FieldType
}

func quote(d typemap.Dialect, name string) string {
	q, err := sqlutil.QuoteIdent(d, name)
	if err != nil {
		return name
	}
	return q
}

// hasAttribute reports whether attrs already declares name.
func hasAttribute(attrs []Attribute, name string) bool {
	for _, a := range attrs {
		if a.Name == name {
			return true
		}
	}
	return false
}

// idColumnDef returns the always-first id column definition for dialect d.
func idColumnDef(d typemap.Dialect) string {
	idCol := quote(d, "id")
	if d == typemap.SQLite {
		return fmt.Sprintf("%s TEXT PRIMARY KEY", idCol)
	}
	return fmt.Sprintf("%s VARCHAR(255) PRIMARY KEY", idCol)
}

// timestampColumnDefs returns created_at/updated_at definitions with
// dialect-appropriate defaults, used only when the resource schema doesn't
// already declare them.
func timestampColumnDefs(d typemap.Dialect) []string {
	switch d {
	case typemap.Postgres:
		return []string{
			quote(d, "created_at") + " TIMESTAMPTZ DEFAULT NOW()",
			quote(d, "updated_at") + " TIMESTAMPTZ DEFAULT NOW()",
		}
	case typemap.MySQL:
		return []string{
			quote(d, "created_at") + " DATETIME DEFAULT CURRENT_TIMESTAMP",
			quote(d, "updated_at") + " DATETIME DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP",
		}
	case typemap.SQLite:
		return []string{
			quote(d, "created_at") + " TEXT DEFAULT (datetime('now'))",
			quote(d, "updated_at") + " TEXT DEFAULT (datetime('now'))",
		}
	default:
		return nil
	}
}

// columnDef builds "colname TYPE [NOT] NULL" for one attribute.
func columnDef(d typemap.Dialect, a Attribute) string {
	return fmt.Sprintf("%s %s %s", quote(d, a.Name), a.Type.ColumnType(d), a.Type.NotNullClause())
}

// CreateTableSQL builds a CREATE TABLE statement for a SQL dialect
// (Postgres/MySQL/SQLite). Per spec §4.2: id is always first, a field named
// "id" in attrs is skipped, fields are iterated in declaration order, and
// created_at/updated_at are synthesized when absent.
func CreateTableSQL(d typemap.Dialect, table string, attrs []Attribute) string {
	cols := []string{idColumnDef(d)}
	for _, a := range attrs {
		if a.Name == "id" {
			continue
		}
		cols = append(cols, columnDef(d, a))
	}
	if !hasAttribute(attrs, "created_at") && !hasAttribute(attrs, "updated_at") {
		cols = append(cols, timestampColumnDefs(d)...)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quote(d, table), strings.Join(cols, ", "))
}

// AlterAddColumnsSQL builds one ALTER TABLE ADD COLUMN statement per missing
// attribute. Per spec §4.2/§4.3, sync only ever adds columns; it never drops
// or retypes them. Sync does not act on Config.DropMissingColumns.
func AlterAddColumnsSQL(d typemap.Dialect, table string, missing []Attribute) []string {
	stmts := make([]string, 0, len(missing))
	for _, a := range missing {
		if a.Name == "id" {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quote(d, table), columnDef(d, a)))
	}
	return stmts
}

// DropColumnSQL builds a single ALTER TABLE DROP COLUMN statement. Sync does
// not call it, whatever dropMissingColumns is set to.
func DropColumnSQL(d typemap.Dialect, table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quote(d, table), quote(d, column))
}

// DropTableSQL supports the drop-create strategy.
func DropTableSQL(d typemap.Dialect, table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", quote(d, table))
}

// BQField is one BigQuery schema field.
type BQField struct {
	Name string
	Type string
	Mode string // REQUIRED | NULLABLE
}

// Mutability is the BigQuery-only write-semantics policy (spec §3, §4.5).
type Mutability string

const (
	MutabilityAppendOnly Mutability = "append-only"
	MutabilityMutable    Mutability = "mutable"
	MutabilityImmutable  Mutability = "immutable"
)

// BigQueryFields builds the full field list for a table, including the
// always-first "id" field and the mutability tracking columns (spec §3).
func BigQueryFields(attrs []Attribute, mutability Mutability) []BQField {
	fields := []BQField{{Name: "id", Type: "STRING", Mode: "REQUIRED"}}
	for _, a := range attrs {
		if a.Name == "id" {
			continue
		}
		fields = append(fields, BQField{Name: a.Name, Type: a.Type.ColumnType(typemap.BigQuery), Mode: a.Type.BigQueryMode()})
	}
	if mutability == MutabilityAppendOnly || mutability == MutabilityImmutable {
		fields = append(fields,
			BQField{Name: "_operation_type", Type: "STRING", Mode: "NULLABLE"},
			BQField{Name: "_operation_timestamp", Type: "TIMESTAMP", Mode: "NULLABLE"},
		)
	}
	if mutability == MutabilityImmutable {
		fields = append(fields,
			BQField{Name: "_is_deleted", Type: "BOOL", Mode: "NULLABLE"},
			BQField{Name: "_version", Type: "INT64", Mode: "NULLABLE"},
		)
	}
	return fields
}

// Strategy is a schema-sync strategy (spec §4.3).
type Strategy string

const (
	StrategyAlter        Strategy = "alter"
	StrategyDropCreate   Strategy = "drop-create"
	StrategyValidateOnly Strategy = "validate-only"
)

// OnMismatch controls what happens when validate-only (or any strategy)
// finds the live schema does not match expectations.
type OnMismatch string

const (
	OnMismatchError  OnMismatch = "error"
	OnMismatchWarn   OnMismatch = "warn"
	OnMismatchIgnore OnMismatch = "ignore"
)

// Config is the per-driver schema-sync configuration (spec §6).
type Config struct {
	Enabled            bool
	Strategy           Strategy
	OnMismatch         OnMismatch
	AutoCreateTable    bool
	AutoCreateColumns  bool
	DropMissingColumns bool
}

// Introspector reads the live destination schema for one table. A nil map
// with exists=false distinguishes "table/dataset does not exist" from
// "exists with zero columns", per spec §4.3.
type Introspector interface {
	Columns(ctx context.Context, table string) (map[string]ColumnInfo, bool, error)
}

// ColumnInfo is one live destination column, as read by an Introspector.
type ColumnInfo struct {
	Type      string
	Nullable  bool
	MaxLength int
}

// DDLExecutor runs a single DDL statement against the destination.
type DDLExecutor interface {
	ExecDDL(ctx context.Context, stmt string) error
}

// Logger is the minimal logging surface Sync needs; satisfied by the root
// replicator.Logger interface without importing it (avoids an import cycle).
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Result reports what Sync did for one table, for the table_created /
// table_altered / table_recreated events.
type Result struct {
	Table       string
	Created     bool
	Altered     bool
	Recreated   bool
	AddedCols   []string
	MissingCols []string // set when validate-only finds a missing table or columns, or when alter finds missing columns with autoCreateColumns off
}

// Sync runs the per-table schema-sync algorithm described in spec §4.3: read
// the live schema, then create/alter/validate according to cfg.Strategy,
// applying cfg.OnMismatch when strategy is validate-only (or when alter finds
// the table missing and autoCreateTable is off). When alter finds missing
// columns and autoCreateColumns is off, it records them in MissingCols and
// returns no error.
func Sync(ctx context.Context, d typemap.Dialect, introspector Introspector, exec DDLExecutor, log Logger, table string, attrs []Attribute, mutability Mutability, cfg Config) (Result, error) {
	result := Result{Table: table}
	cols, exists, err := introspector.Columns(ctx, table)
	if err != nil {
		return result, fmt.Errorf("introspect table %s: %w", table, err)
	}

	switch cfg.Strategy {
	case StrategyDropCreate:
		if exists {
			log.Warn("dropping table for drop-create schema sync", "table", table)
			if err := exec.ExecDDL(ctx, DropTableSQL(d, table)); err != nil {
				return result, fmt.Errorf("drop table %s: %w", table, err)
			}
		}
		if err := exec.ExecDDL(ctx, CreateTableSQL(d, table, attrs)); err != nil {
			return result, fmt.Errorf("recreate table %s: %w", table, err)
		}
		result.Recreated = true
		return result, nil

	case StrategyValidateOnly:
		if !exists {
			result.MissingCols = namesOf(attrs)
			return result, mismatchErr(cfg.OnMismatch, log, table, fmt.Sprintf("table %s does not exist", table))
		}
		missing := diffMissing(attrs, cols)
		if len(missing) > 0 {
			result.MissingCols = namesOf(missing)
			names := strings.Join(result.MissingCols, ", ")
			return result, mismatchErr(cfg.OnMismatch, log, table, fmt.Sprintf("table %s is missing columns: %s", table, names))
		}
		return result, nil

	default: // StrategyAlter
		if !exists {
			if !cfg.AutoCreateTable {
				return result, mismatchErr(cfg.OnMismatch, log, table, fmt.Sprintf("table %s does not exist and autoCreateTable is false", table))
			}
			if err := exec.ExecDDL(ctx, CreateTableSQL(d, table, attrs)); err != nil {
				return result, fmt.Errorf("create table %s: %w", table, err)
			}
			result.Created = true
			return result, nil
		}

		missing := diffMissing(attrs, cols)
		if len(missing) == 0 {
			return result, nil
		}
		if !cfg.AutoCreateColumns {
			result.MissingCols = namesOf(missing)
			return result, nil
		}
		for _, stmt := range AlterAddColumnsSQL(d, table, missing) {
			if err := exec.ExecDDL(ctx, stmt); err != nil {
				return result, fmt.Errorf("alter table %s: %w", table, err)
			}
		}
		result.Altered = true
		result.AddedCols = namesOf(missing)
		return result, nil
	}
}

func mismatchErr(on OnMismatch, log Logger, table, msg string) error {
	switch on {
	case OnMismatchIgnore:
		return nil
	case OnMismatchWarn:
		log.Warn("schema mismatch", "table", table, "detail", msg)
		return nil
	default: // error
		return fmt.Errorf("%s", msg)
	}
}

// diffMissing returns the attributes absent from cols, skipping the
// always-present id column and any attribute already present.
func diffMissing(attrs []Attribute, cols map[string]ColumnInfo) []Attribute {
	var missing []Attribute
	for _, a := range attrs {
		if a.Name == "id" {
			continue
		}
		if _, ok := cols[a.Name]; !ok {
			missing = append(missing, a)
		}
	}
	return missing
}

func namesOf(attrs []Attribute) []string {
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name
	}
	return names
}
