package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/s3db-replicator/pkg/typemap"
)

func TestQuoteIdentPerDialect(t *testing.T) {
	q, err := QuoteIdent(typemap.Postgres, "orders")
	require.NoError(t, err)
	assert.Equal(t, `"orders"`, q)

	q, err = QuoteIdent(typemap.MySQL, "orders")
	require.NoError(t, err)
	assert.Equal(t, "`orders`", q)

	q, err = QuoteIdent(typemap.SQLite, "orders")
	require.NoError(t, err)
	assert.Equal(t, "`orders`", q)
}

func TestQuoteIdentSchemaQualified(t *testing.T) {
	q, err := QuoteIdent(typemap.Postgres, "public.orders")
	require.NoError(t, err)
	assert.Equal(t, `"public"."orders"`, q)
}

func TestQuoteIdentRejectsInvalidName(t *testing.T) {
	_, err := QuoteIdent(typemap.Postgres, "orders; DROP TABLE users")
	assert.Error(t, err)

	_, err = QuoteIdent(typemap.Postgres, "")
	assert.Error(t, err)
}

func TestPlaceholderPerDialect(t *testing.T) {
	assert.Equal(t, "$1", Placeholder(typemap.Postgres, 1))
	assert.Equal(t, "?", Placeholder(typemap.MySQL, 1))
	assert.Equal(t, "?", Placeholder(typemap.SQLite, 3))
}
