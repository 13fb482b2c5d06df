// Package session owns signed-in sessions: the identity, its resolved
// profile, and the live views opened on its behalf.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bellhop/auth"
	"bellhop/docstore"
	"bellhop/lifecycle"
	"bellhop/liveview"
	"bellhop/profile"
)

// RevokedCollection records signed-out session ids so their tokens stay
// invalid across restarts.
const RevokedCollection = "revokedSessions"

const sweepTimeout = 30 * time.Second

// ErrSessionClosed is returned when tracking a view on a signed-out session.
var ErrSessionClosed = errors.New("session: session closed")

// Session is one signed-in client.
type Session struct {
	ID       string
	Token    string
	Identity auth.Identity
	Profile  profile.UserProfile

	mu     sync.Mutex
	views  map[*liveview.View]struct{}
	closed bool
}

// Track ties v to the session so SignOut closes it. A closed session closes
// v immediately and returns ErrSessionClosed.
func (s *Session) Track(v *liveview.View) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		v.Close()
		return ErrSessionClosed
	}
	if s.views == nil {
		s.views = make(map[*liveview.View]struct{})
	}
	s.views[v] = struct{}{}
	s.mu.Unlock()

	v.OnClose(s.untrack)
	return nil
}

// Views reports how many live views the session holds.
func (s *Session) Views() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

func (s *Session) untrack(v *liveview.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, v)
}

func (s *Session) teardown() {
	s.mu.Lock()
	s.closed = true
	views := make([]*liveview.View, 0, len(s.views))
	for v := range s.views {
		views = append(views, v)
	}
	s.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}

// Authenticator is the subset of auth.Service the manager uses.
type Authenticator interface {
	SignInAnonymous() auth.Identity
	SignInWithPassword(ctx context.Context, req auth.LoginRequest) (auth.Identity, error)
	IssueToken(identity auth.Identity, sessionID string) (string, error)
	VerifyToken(token string) (auth.Claims, error)
}

// ProfileResolver resolves the profile of an identity.
type ProfileResolver interface {
	Resolve(ctx context.Context, identity *auth.Identity) (profile.UserProfile, error)
}

// Sweeper purges expired requests.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// Manager creates, looks up and ends sessions.
type Manager struct {
	auth      Authenticator
	profiles  ProfileResolver
	store     docstore.Store
	sweeper   Sweeper
	retention time.Duration
	log       *logrus.Logger

	now   func() time.Time
	idGen func() string

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// Config wires a Manager.
type Config struct {
	Auth      Authenticator
	Profiles  ProfileResolver
	Store     docstore.Store
	Sweeper   Sweeper
	Retention time.Duration
	Log       *logrus.Logger
}

// NewManager returns a Manager. Sweeper may be nil to disable the sweep on
// staff sign-in.
func NewManager(cfg Config) *Manager {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		auth:      cfg.Auth,
		profiles:  cfg.Profiles,
		store:     cfg.Store,
		sweeper:   cfg.Sweeper,
		retention: cfg.Retention,
		log:       log,
		now:       time.Now,
		idGen:     uuid.NewString,
		sessions:  make(map[string]*Session),
	}
}

// SignInAnonymous starts a guest session under a fresh anonymous identity.
func (m *Manager) SignInAnonymous(ctx context.Context) (*Session, error) {
	identity := m.auth.SignInAnonymous()
	return m.start(ctx, identity)
}

// SignInWithPassword starts a session for an email/password identity. When
// required is set, an identity whose profile has a different role is
// rejected with lifecycle.ErrForbidden and left signed out.
func (m *Manager) SignInWithPassword(ctx context.Context, email, password string, required profile.Role) (*Session, error) {
	identity, err := m.auth.SignInWithPassword(ctx, auth.LoginRequest{Email: strings.TrimSpace(email), Password: password})
	if err != nil {
		return nil, err
	}

	if required != "" {
		p, err := m.profiles.Resolve(ctx, &identity)
		if err != nil {
			return nil, err
		}
		if p.Role != required {
			m.log.WithFields(logrus.Fields{"uid": identity.UID, "role": p.Role, "required": required}).
				Warn("session: sign-in rejected for role")
			return nil, fmt.Errorf("%w: account is not a %s", lifecycle.ErrForbidden, required)
		}
	}
	return m.start(ctx, identity)
}

// Current returns the session a token belongs to. A valid, unrevoked token
// whose session is not in memory (after a restart) is restored.
func (m *Manager) Current(ctx context.Context, token string) (*Session, error) {
	claims, err := m.auth.VerifyToken(token)
	if err != nil {
		return nil, auth.ErrNotAuthenticated
	}

	m.mu.RLock()
	s, ok := m.sessions[claims.SessionID]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	if m.store != nil {
		_, err := m.store.Get(ctx, RevokedCollection, claims.SessionID)
		switch {
		case err == nil:
			return nil, auth.ErrNotAuthenticated
		case !errors.Is(err, docstore.ErrNotFound):
			return nil, fmt.Errorf("session: check revocation: %w", err)
		}
	}

	p, err := m.profiles.Resolve(ctx, &claims.Identity)
	if err != nil {
		return nil, err
	}
	s = &Session{ID: claims.SessionID, Token: token, Identity: claims.Identity, Profile: p}

	m.mu.Lock()
	if existing, ok := m.sessions[s.ID]; ok {
		s = existing
	} else {
		m.sessions[s.ID] = s
	}
	m.mu.Unlock()
	return s, nil
}

// SignOut ends the session: its token stops verifying and its live views
// are closed. Signing out an unknown session is not an error. The session
// stays live if its revocation cannot be recorded.
func (m *Manager) SignOut(ctx context.Context, id string) error {
	if m.store != nil && id != "" {
		err := m.store.CreateWithID(ctx, RevokedCollection, id, docstore.Fields{"revokedAt": docstore.ServerTimestamp})
		if err != nil && !errors.Is(err, docstore.ErrAlreadyExists) {
			return fmt.Errorf("session: revoke: %w", err)
		}
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.teardown()
	}
	m.log.WithField("session_id", id).Info("session: signed out")
	return nil
}

// Wait blocks until background sweeps started by sign-ins have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close signs every session out locally without revoking tokens.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.teardown()
	}
	m.wg.Wait()
}

func (m *Manager) start(ctx context.Context, identity auth.Identity) (*Session, error) {
	p, err := m.profiles.Resolve(ctx, &identity)
	if err != nil {
		return nil, err
	}

	id := m.idGen()
	token, err := m.auth.IssueToken(identity, id)
	if err != nil {
		return nil, err
	}
	s := &Session{ID: id, Token: token, Identity: identity, Profile: p}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"session_id": id,
		"uid":        identity.UID,
		"role":       p.Role,
		"anonymous":  identity.Anonymous,
	}).Info("session: signed in")

	if p.Role.IsStaff() {
		m.sweep()
	}
	return s, nil
}

// sweep runs a best-effort retention purge in the background. Failures are
// logged and never affect sign-in.
func (m *Manager) sweep() {
	if m.sweeper == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if _, err := m.sweeper.Sweep(ctx, m.now(), m.retention); err != nil {
			m.log.WithError(err).Warn("session: retention sweep failed")
		}
	}()
}
