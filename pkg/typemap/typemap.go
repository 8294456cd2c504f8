// Package typemap parses the source database's field-type notation and maps
// it to dialect-specific destination column types.
package typemap

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dialect names a SQL/warehouse destination's column-type vocabulary.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
	BigQuery Dialect = "bigquery"
)

// FieldType is the parsed form of a pipe-separated type notation such as
// "string|required|maxlength:50".
type FieldType struct {
	Base      string
	Required  bool
	MaxLength int  // 0 means unset
	HasMin    bool
	Min       float64
	HasMax    bool
	Max       float64
	Length    int
	Options   map[string]string // every key:value token, including the recognized ones above
}

// ParseFieldType parses a pipe-separated notation string. Unknown tokens are
// ignored (forward-compatible), per spec §4.2.
func ParseFieldType(notation string) FieldType {
	parts := strings.Split(notation, "|")
	ft := FieldType{Options: map[string]string{}}
	if len(parts) == 0 {
		return ft
	}
	ft.Base = strings.TrimSpace(parts[0])
	for _, tok := range parts[1:] {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if tok == "required" {
			ft.Required = true
			continue
		}
		kv := strings.SplitN(tok, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		ft.Options[key] = val
		switch key {
		case "maxlength":
			if n, err := strconv.Atoi(val); err == nil {
				ft.MaxLength = n
			}
		case "min":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				ft.HasMin = true
				ft.Min = f
			}
		case "max":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				ft.HasMax = true
				ft.Max = f
			}
		case "length":
			if n, err := strconv.Atoi(val); err == nil {
				ft.Length = n
			}
		}
	}
	return ft
}

// Format is the inverse of ParseFieldType: it reconstructs a notation string
// that, re-parsed, preserves {Base, Required, MaxLength, Options}. See
// spec §8's parseFieldType/format round-trip property.
func (ft FieldType) Format() string {
	var b strings.Builder
	b.WriteString(ft.Base)
	if ft.Required {
		b.WriteString("|required")
	}
	for k, v := range ft.Options {
		if k == "required" {
			continue
		}
		fmt.Fprintf(&b, "|%s:%s", k, v)
	}
	return b.String()
}

// bounded reports whether a "number" field fits spec's bounded-integer
// window: both min and max present, and the range fits within a 32-bit
// signed range starting at >= 0.
func (ft FieldType) bounded() bool {
	if !ft.HasMin || !ft.HasMax {
		return false
	}
	return ft.Min >= 0 && ft.Max <= float64(1<<31-1)
}

// ColumnType maps a parsed field type to the destination column type string
// for dialect d, following spec §4.2's table. Unknown base types fall back
// to the dialect's generic text type (TEXT/STRING), per the "defensive"
// edge-case policy.
func (ft FieldType) ColumnType(d Dialect) string {
	switch ft.Base {
	case "string":
		return stringType(ft, d)
	case "number":
		return numberType(ft, d)
	case "boolean":
		return booleanType(d)
	case "object", "json", "array", "embedding":
		return jsonType(d)
	case "ip4":
		return ipType(d, 15)
	case "ip6":
		return ipType(d, 45)
	case "secret":
		return textType(d)
	case "uuid":
		return uuidType(d)
	case "date":
		return dateType(d)
	case "datetime":
		return datetimeType(d)
	default:
		return textType(d)
	}
}

func stringType(ft FieldType, d Dialect) string {
	switch d {
	case Postgres:
		if ft.MaxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", ft.MaxLength)
		}
		return "TEXT"
	case MySQL:
		if ft.MaxLength > 0 && ft.MaxLength <= 255 {
			return fmt.Sprintf("VARCHAR(%d)", ft.MaxLength)
		}
		return "TEXT"
	case SQLite:
		return "TEXT"
	case BigQuery:
		return "STRING"
	default:
		return "TEXT"
	}
}

func numberType(ft FieldType, d Dialect) string {
	if ft.bounded() {
		switch d {
		case Postgres:
			return "INTEGER"
		case MySQL:
			return "INT"
		case SQLite:
			return "INTEGER"
		case BigQuery:
			return "INT64"
		}
	}
	switch d {
	case Postgres:
		return "DOUBLE PRECISION"
	case MySQL:
		return "DOUBLE"
	case SQLite:
		return "REAL"
	case BigQuery:
		return "FLOAT64"
	}
	return "TEXT"
}

func booleanType(d Dialect) string {
	switch d {
	case Postgres:
		return "BOOLEAN"
	case MySQL:
		return "TINYINT(1)"
	case SQLite:
		return "INTEGER"
	case BigQuery:
		return "BOOL"
	}
	return "TEXT"
}

func jsonType(d Dialect) string {
	switch d {
	case Postgres:
		return "JSONB"
	case MySQL:
		return "JSON"
	case SQLite:
		return "TEXT"
	case BigQuery:
		return "JSON"
	}
	return "TEXT"
}

func ipType(d Dialect, varcharLen int) string {
	switch d {
	case Postgres:
		return "INET"
	case MySQL:
		return fmt.Sprintf("VARCHAR(%d)", varcharLen)
	case SQLite:
		return "TEXT"
	case BigQuery:
		return "STRING"
	}
	return "TEXT"
}

func textType(d Dialect) string {
	if d == BigQuery {
		return "STRING"
	}
	return "TEXT"
}

func uuidType(d Dialect) string {
	switch d {
	case Postgres:
		return "UUID"
	case MySQL:
		return "CHAR(36)"
	case SQLite:
		return "TEXT"
	case BigQuery:
		return "STRING"
	}
	return "TEXT"
}

func dateType(d Dialect) string {
	switch d {
	case Postgres:
		return "TIMESTAMPTZ"
	case MySQL:
		return "DATETIME"
	case SQLite:
		return "TEXT"
	case BigQuery:
		return "DATE"
	}
	return "TEXT"
}

func datetimeType(d Dialect) string {
	switch d {
	case Postgres:
		return "TIMESTAMPTZ"
	case MySQL:
		return "DATETIME"
	case SQLite:
		return "TEXT"
	case BigQuery:
		return "TIMESTAMP"
	}
	return "TEXT"
}

// NotNullClause returns the dialect-appropriate nullability clause for a
// column built from ft (not used for BigQuery, which expresses nullability
// via field Mode instead).
func (ft FieldType) NotNullClause() string {
	if ft.Required {
		return "NOT NULL"
	}
	return "NULL"
}

// BigQueryMode returns "REQUIRED" or "NULLABLE" for a BigQuery schema field.
func (ft FieldType) BigQueryMode() string {
	if ft.Required {
		return "REQUIRED"
	}
	return "NULLABLE"
}

// AttributeSpec is a single resource attribute as declared by the source:
// either a bare type-notation string, or a structured object carrying at
// least a "type" key (spec §3). It unmarshals from either JSON shape.
type AttributeSpec struct {
	Notation string
	Raw      map[string]any
}

// UnmarshalJSON accepts either a JSON string or a JSON object with a "type"
// key, normalizing both into AttributeSpec.
func (a *AttributeSpec) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		a.Notation = s
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("attribute spec is neither a string nor an object: %w", err)
	}
	a.Raw = obj
	if t, ok := obj["type"].(string); ok {
		a.Notation = t
	}
	return nil
}

// MarshalJSON re-emits the structured form when Raw was populated, the bare
// string otherwise; together with UnmarshalJSON this keeps AttributeSpec
// round-trippable.
func (a AttributeSpec) MarshalJSON() ([]byte, error) {
	if a.Raw != nil {
		return json.Marshal(a.Raw)
	}
	return json.Marshal(a.Notation)
}

// FieldType parses this attribute's notation, regardless of which JSON shape
// it was declared in.
func (a AttributeSpec) FieldType() FieldType {
	return ParseFieldType(a.Notation)
}
