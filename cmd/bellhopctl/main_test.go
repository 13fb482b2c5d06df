package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func TestRegisterPersistsStaffAccount(t *testing.T) {
	memoryEnv(t)
	ctx := context.Background()

	var out bytes.Buffer
	err := run(ctx, []string{"register", "--email", "sam@hotel.example", "--password", "correct-horse", "--name", "Sam"}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "registered sam@hotel.example as bellman")

	out.Reset()
	err = run(ctx, []string{"register", "--email", "sam@hotel.example", "--password", "correct-horse"}, &out)
	require.Error(t, err, "the credential survives in DATA_DIR")
}

func TestRegisterRejectsGuestRole(t *testing.T) {
	memoryEnv(t)
	err := run(context.Background(), []string{"register", "--email", "g@hotel.example", "--password", "correct-horse", "--role", "guest"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bellman or admin")
}

func TestSweepReportsDeleted(t *testing.T) {
	memoryEnv(t)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"sweep", "--retention", "1h"}, &out))
	assert.True(t, strings.HasPrefix(out.String(), "deleted 0 request(s)"))
}

func TestEphemeralStoreIsRejected(t *testing.T) {
	memoryEnv(t)
	t.Setenv("DATA_DIR", "")

	err := run(context.Background(), []string{"register", "--email", "sam@hotel.example", "--password", "correct-horse"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATA_DIR is unset")

	err = run(context.Background(), []string{"sweep", "--retention", "1h"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATA_DIR is unset")
}

func TestMigrateNeedsPostgres(t *testing.T) {
	memoryEnv(t)
	err := run(context.Background(), []string{"migrate"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestUnknownCommand(t *testing.T) {
	memoryEnv(t)
	require.ErrorIs(t, run(context.Background(), []string{"frobnicate"}, &bytes.Buffer{}), errUsage)
	require.ErrorIs(t, run(context.Background(), nil, &bytes.Buffer{}), errUsage)
}
