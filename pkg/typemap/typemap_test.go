package typemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldType(t *testing.T) {
	ft := ParseFieldType("string|required|maxlength:200")
	assert.Equal(t, "string", ft.Base)
	assert.True(t, ft.Required)
	assert.Equal(t, 200, ft.MaxLength)

	ft = ParseFieldType("number|min:0|max:100")
	assert.Equal(t, "number", ft.Base)
	assert.False(t, ft.Required)
	assert.True(t, ft.HasMin)
	assert.True(t, ft.HasMax)

	ft = ParseFieldType("json")
	assert.Equal(t, "json", ft.Base)
	assert.False(t, ft.Required)
}

func TestParseFieldTypeUnknownTokensIgnored(t *testing.T) {
	ft := ParseFieldType("string|future-flag|maxlength:10")
	assert.Equal(t, "string", ft.Base)
	assert.Equal(t, 10, ft.MaxLength)
}

func TestColumnTypeDialectTable(t *testing.T) {
	cases := []struct {
		notation string
		dialect  Dialect
		want     string
	}{
		{"string|maxlength:200", Postgres, "VARCHAR(200)"},
		{"string|maxlength:200", MySQL, "VARCHAR(200)"},
		{"string|maxlength:500", MySQL, "TEXT"},
		{"string", SQLite, "TEXT"},
		{"string", BigQuery, "STRING"},
		{"number|min:0|max:100", Postgres, "INTEGER"},
		{"number|min:0|max:100", MySQL, "INT"},
		{"number|min:0|max:100", SQLite, "INTEGER"},
		{"number|min:0|max:100", BigQuery, "INT64"},
		{"number", Postgres, "DOUBLE PRECISION"},
		{"number|min:0", Postgres, "DOUBLE PRECISION"},
		{"boolean", Postgres, "BOOLEAN"},
		{"boolean", MySQL, "TINYINT(1)"},
		{"boolean", SQLite, "INTEGER"},
		{"boolean", BigQuery, "BOOL"},
		{"json", Postgres, "JSONB"},
		{"json", MySQL, "JSON"},
		{"json", SQLite, "TEXT"},
		{"json", BigQuery, "JSON"},
		{"uuid", Postgres, "UUID"},
		{"uuid", MySQL, "CHAR(36)"},
		{"date", Postgres, "TIMESTAMPTZ"},
		{"datetime", BigQuery, "TIMESTAMP"},
		{"date", BigQuery, "DATE"},
		{"unknown-base", Postgres, "TEXT"},
		{"unknown-base", BigQuery, "STRING"},
	}
	for _, tc := range cases {
		ft := ParseFieldType(tc.notation)
		assert.Equal(t, tc.want, ft.ColumnType(tc.dialect), "%s/%s", tc.notation, tc.dialect)
	}
}

func TestParseFieldTypeRoundTrip(t *testing.T) {
	ft := ParseFieldType("string|required|maxlength:50")
	again := ParseFieldType(ft.Format())
	assert.Equal(t, ft.Base, again.Base)
	assert.Equal(t, ft.Required, again.Required)
	assert.Equal(t, ft.MaxLength, again.MaxLength)
}

func TestAttributeSpecUnmarshalBothForms(t *testing.T) {
	var a AttributeSpec
	require.NoError(t, a.UnmarshalJSON([]byte(`"string|required|maxlength:200"`)))
	assert.Equal(t, "string|required|maxlength:200", a.Notation)

	var b AttributeSpec
	require.NoError(t, b.UnmarshalJSON([]byte(`{"type":"number|min:0|max:100","description":"age"}`)))
	assert.Equal(t, "number|min:0|max:100", b.Notation)
	assert.Equal(t, "age", b.Raw["description"])
}

func TestBoundedRequiresBothMinAndMax(t *testing.T) {
	ft := ParseFieldType("number|min:0")
	assert.False(t, ft.bounded())
	ft = ParseFieldType("number|max:100")
	assert.False(t, ft.bounded())
	ft = ParseFieldType("number|min:0|max:100")
	assert.True(t, ft.bounded())
}
