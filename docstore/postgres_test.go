package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQuery(t *testing.T) {
	sql, args, err := buildQuery(Query{
		Collection: "bellRequests",
		Filters:    []Filter{{Field: "status", Value: "pending"}, {Field: "guestId", Value: "g1"}},
		OrderBy:    "timestamp",
		Descending: true,
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "collection = $1")
	assert.Contains(t, sql, "data @> $2::jsonb")
	assert.Contains(t, sql, `(data ->> $3) COLLATE "C" DESC NULLS LAST`)
	require.Len(t, args, 3)
	assert.JSONEq(t, `{"status":"pending","guestId":"g1"}`, string(args[1].([]byte)))
	assert.Equal(t, "timestamp", args[2])
}

func TestBuildQueryByID(t *testing.T) {
	sql, args, err := buildQuery(Query{Collection: "bellRequests", ID: "r1"})
	require.NoError(t, err)
	assert.Contains(t, sql, "id = $2")
	assert.True(t, strings.HasSuffix(sql, "ORDER BY id"))
	assert.Equal(t, []any{"bellRequests", "r1"}, args)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify("get", nil))

	unique := &pgconn.PgError{Code: "23505"}
	err := classify("insert", unique)
	assert.False(t, errors.Is(err, ErrUnavailable))

	err = classify("get", fmt.Errorf("read: %w", context.DeadlineExceeded))
	assert.True(t, errors.Is(err, ErrUnavailable), "timeouts are connectivity failures: %v", err)

	err = classify("get", &pgconn.PgError{Code: "57P01", Message: "terminating connection due to administrator command"})
	assert.True(t, errors.Is(err, ErrUnavailable), "terminated backends are connectivity failures: %v", err)

	err = classify("get", errors.New("boom"))
	assert.False(t, errors.Is(err, ErrUnavailable))
}
