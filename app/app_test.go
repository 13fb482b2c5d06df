package app

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bellhop/config"
	"bellhop/docstore"
	"bellhop/luggage"
	"bellhop/profile"
)

func memoryConfig(dir string) *config.Config {
	return &config.Config{
		Store:    config.StoreConfig{Backend: config.BackendMemory, DataDir: dir},
		Auth:     config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour},
		Requests: config.RequestsConfig{Retention: 24 * time.Hour},
	}
}

func TestNewMemoryAppReloadsDataDir(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	dir := t.TempDir()

	a, err := New(ctx, memoryConfig(dir), log)
	require.NoError(t, err)
	assert.Nil(t, a.Pool())
	assert.NoError(t, a.Health(ctx))

	sess, err := a.Sessions.SignInAnonymous(ctx)
	require.NoError(t, err)
	id, err := a.Lifecycle.Submit(ctx, sess.Profile, luggage.NewRequest{RoomNumber: "1205", LuggageType: "suitcase", PickupTime: "asap"})
	require.NoError(t, err)
	a.Close()
	a.Close()

	b, err := New(ctx, memoryConfig(dir), log)
	require.NoError(t, err)
	defer b.Close()

	req, err := b.Requests.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, luggage.StatusPending, req.Status)
	assert.Empty(t, req.ScheduledTime)

	p, err := b.Profiles.Get(ctx, sess.Profile.UID)
	require.NoError(t, err)
	assert.Equal(t, profile.RoleGuest, p.Role)

	restored, err := b.Sessions.Current(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, restored.ID)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	log, _ := test.NewNullLogger()
	cfg := memoryConfig("")
	cfg.Store.Backend = "etcd"
	_, err := New(context.Background(), cfg, log)
	require.Error(t, err)
}

func TestClosedMemoryStoreRejectsWrites(t *testing.T) {
	log, _ := test.NewNullLogger()
	a, err := New(context.Background(), memoryConfig(""), log)
	require.NoError(t, err)
	a.Close()

	_, err = a.Store.Create(context.Background(), "bellRequests", docstore.Fields{})
	require.ErrorIs(t, err, docstore.ErrClosed)
}
