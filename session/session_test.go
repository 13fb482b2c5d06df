package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bellhop/auth"
	"bellhop/docstore"
	"bellhop/lifecycle"
	"bellhop/liveview"
	"bellhop/luggage"
	"bellhop/profile"
)

type fixture struct {
	mgr      *Manager
	auth     *auth.Service
	profiles *profile.Resolver
	store    *docstore.MemStore
	sweeper  *countingSweeper
	sync     *liveview.Synchronizer
	log      *logrus.Logger
}

type countingSweeper struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingSweeper) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 0, c.err
}

func (c *countingSweeper) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// flakyRevocations fails revocation writes while down is set.
type flakyRevocations struct {
	docstore.Store
	down bool
}

func (f *flakyRevocations) CreateWithID(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if f.down && collection == RevokedCollection {
		return docstore.ErrUnavailable
	}
	return f.Store.CreateWithID(ctx, collection, id, fields)
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := docstore.NewMemStore(nil)
	t.Cleanup(store.Close)
	log, _ := test.NewNullLogger()

	authSvc := auth.NewService(auth.NewRepository(store), "test-secret", time.Hour)
	profiles := profile.NewResolver(store, log)
	sweeper := &countingSweeper{}
	mgr := NewManager(Config{
		Auth:      authSvc,
		Profiles:  profiles,
		Store:     store,
		Sweeper:   sweeper,
		Retention: luggage.DefaultRetention,
		Log:       log,
	})
	t.Cleanup(mgr.Close)

	repo := luggage.NewRepository(store, log)
	return fixture{
		mgr: mgr, auth: authSvc, profiles: profiles, store: store,
		sweeper: sweeper, sync: liveview.NewSynchronizer(repo, log), log: log,
	}
}

func (f fixture) staff(t *testing.T, email string, role profile.Role) {
	t.Helper()
	ctx := context.Background()
	identity, err := f.auth.Register(ctx, auth.RegisterRequest{Email: email, Password: "correct-horse"})
	require.NoError(t, err)
	_, err = f.profiles.Provision(ctx, identity, role)
	require.NoError(t, err)
}

func TestAnonymousSessionIsGuest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.mgr.SignInAnonymous(ctx)
	require.NoError(t, err)
	assert.True(t, s.Identity.Anonymous)
	assert.Equal(t, profile.RoleGuest, s.Profile.Role)
	assert.Equal(t, profile.DefaultDisplayName, s.Profile.DisplayName)
	assert.NotEmpty(t, s.Token)

	got, err := f.mgr.Current(ctx, s.Token)
	require.NoError(t, err)
	assert.Same(t, s, got)

	f.mgr.Wait()
	assert.Zero(t, f.sweeper.Calls(), "guests never trigger the sweep")
}

func TestStaffSignInSweeps(t *testing.T) {
	f := newFixture(t)
	f.staff(t, "bell@hotel.test", profile.RoleBellman)

	s, err := f.mgr.SignInWithPassword(context.Background(), "bell@hotel.test", "correct-horse", profile.RoleBellman)
	require.NoError(t, err)
	assert.Equal(t, profile.RoleBellman, s.Profile.Role)

	f.mgr.Wait()
	assert.Equal(t, 1, f.sweeper.Calls())
}

func TestSweepFailureDoesNotBlockSignIn(t *testing.T) {
	f := newFixture(t)
	f.sweeper.err = errors.New("store down")
	f.staff(t, "admin@hotel.test", profile.RoleAdmin)

	_, err := f.mgr.SignInWithPassword(context.Background(), "admin@hotel.test", "correct-horse", "")
	require.NoError(t, err)
	f.mgr.Wait()
	assert.Equal(t, 1, f.sweeper.Calls())
}

func TestSignInWithRequiredRole(t *testing.T) {
	f := newFixture(t)
	f.staff(t, "admin@hotel.test", profile.RoleAdmin)
	ctx := context.Background()

	_, err := f.mgr.SignInWithPassword(ctx, "admin@hotel.test", "correct-horse", profile.RoleBellman)
	assert.ErrorIs(t, err, lifecycle.ErrForbidden)
	assert.Empty(t, f.mgr.sessions, "rejected sign-in leaves no session behind")

	_, err = f.mgr.SignInWithPassword(ctx, "admin@hotel.test", "wrong-password", "")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestCurrentRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Current(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	_, err = f.mgr.Current(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestSignOutClosesViewsAndRevokesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.mgr.SignInAnonymous(ctx)
	require.NoError(t, err)

	v, err := f.sync.WatchList(ctx, s.Profile, luggage.ViewQueue)
	require.NoError(t, err)
	require.NoError(t, s.Track(v))
	assert.Equal(t, 1, s.Views())

	require.NoError(t, f.mgr.SignOut(ctx, s.ID))

	select {
	case <-v.Done():
	case <-time.After(time.Second):
		t.Fatal("view still open after sign-out")
	}
	assert.Zero(t, s.Views())

	_, err = f.mgr.Current(ctx, s.Token)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	late, err := f.sync.WatchList(ctx, s.Profile, luggage.ViewQueue)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Track(late), ErrSessionClosed)
}

func TestCurrentRestoresSessionAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.mgr.SignInAnonymous(ctx)
	require.NoError(t, err)

	restarted := NewManager(Config{Auth: f.auth, Profiles: f.profiles, Store: f.store, Log: f.log})
	defer restarted.Close()

	restored, err := restarted.Current(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, s.Identity.UID, restored.Identity.UID)
	assert.Equal(t, s.Profile, restored.Profile)

	require.NoError(t, restarted.SignOut(ctx, s.ID))
	_, err = f.mgr.Current(ctx, s.Token)
	require.NoError(t, err, "sessions still held in memory by another manager remain until signed out there")

	third := NewManager(Config{Auth: f.auth, Profiles: f.profiles, Store: f.store, Log: f.log})
	defer third.Close()
	_, err = third.Current(ctx, s.Token)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestSignOutKeepsSessionWhenRevocationFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &flakyRevocations{Store: f.store, down: true}
	mgr := NewManager(Config{Auth: f.auth, Profiles: f.profiles, Store: store, Log: f.log})
	defer mgr.Close()

	s, err := mgr.SignInAnonymous(ctx)
	require.NoError(t, err)
	v, err := f.sync.WatchList(ctx, s.Profile, luggage.ViewQueue)
	require.NoError(t, err)
	require.NoError(t, s.Track(v))

	err = mgr.SignOut(ctx, s.ID)
	require.ErrorIs(t, err, docstore.ErrUnavailable)

	got, err := mgr.Current(ctx, s.Token)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, s.Views())
	select {
	case <-v.Done():
		t.Fatal("view closed by a failed sign-out")
	default:
	}

	store.down = false
	require.NoError(t, mgr.SignOut(ctx, s.ID))
	_, err = mgr.Current(ctx, s.Token)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	select {
	case <-v.Done():
	case <-time.After(time.Second):
		t.Fatal("view still open after sign-out")
	}
}
