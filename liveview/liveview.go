// Package liveview keeps role-scoped request views current. Each View owns
// one live feed and republishes every snapshot as a complete State.
package liveview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"bellhop/lifecycle"
	"bellhop/luggage"
	"bellhop/profile"
)

// Phase is the coarse state of a view.
type Phase string

const (
	PhaseLoading  Phase = "loading"
	PhaseReady    Phase = "ready"
	PhaseNotFound Phase = "not_found"
	PhaseFailed   Phase = "failed"
)

// State is a complete picture of a view. List views fill Requests; single
// request views fill Request. Version increases by one per applied snapshot.
type State struct {
	Phase    Phase
	Requests []luggage.Request
	Request  *luggage.Request
	Err      error
	Version  uint64
}

// Feeds opens live request feeds.
type Feeds interface {
	QueryFor(ctx context.Context, p profile.UserProfile, view luggage.View) (*luggage.Feed, error)
	GetOne(ctx context.Context, id string) (*luggage.Feed, error)
}

// Synchronizer opens views.
type Synchronizer struct {
	feeds Feeds
	log   *logrus.Logger
}

// NewSynchronizer returns a Synchronizer reading from feeds.
func NewSynchronizer(feeds Feeds, log *logrus.Logger) *Synchronizer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Synchronizer{feeds: feeds, log: log}
}

// WatchList opens a view of the requests p may see in view. An unknown role
// fails here, before anything is subscribed.
func (s *Synchronizer) WatchList(ctx context.Context, p profile.UserProfile, view luggage.View) (*View, error) {
	feed, err := s.feeds.QueryFor(ctx, p, view)
	if err != nil {
		return nil, err
	}
	v := newView(feed, func(upd luggage.Update) State {
		return State{Phase: PhaseReady, Requests: upd.Requests}
	})
	s.log.WithFields(logrus.Fields{"uid": p.UID, "role": p.Role, "view": view}).Debug("liveview: list opened")
	go v.run(ctx)
	return v, nil
}

// WatchRequest opens a view of one request. A request p may not see moves
// the view to PhaseFailed with lifecycle.ErrForbidden.
func (s *Synchronizer) WatchRequest(ctx context.Context, p profile.UserProfile, id string) (*View, error) {
	if _, err := luggage.ScopeFor(p, luggage.ViewHistory); err != nil {
		return nil, err
	}
	feed, err := s.feeds.GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	v := newView(feed, func(upd luggage.Update) State {
		if len(upd.Requests) == 0 {
			return State{Phase: PhaseNotFound}
		}
		req := upd.Requests[0]
		if !lifecycle.CanView(p, req) {
			return State{Phase: PhaseFailed, Err: fmt.Errorf("%w: request %s", lifecycle.ErrForbidden, id)}
		}
		return State{Phase: PhaseReady, Request: &req}
	})
	s.log.WithFields(logrus.Fields{"uid": p.UID, "role": p.Role, "request_id": id}).Debug("liveview: request opened")
	go v.run(ctx)
	return v, nil
}

// View is one live view. Updates delivers the latest State; a slow reader
// may skip intermediate states but never sees them out of order.
type View struct {
	feed  *luggage.Feed
	apply func(luggage.Update) State

	mu      sync.RWMutex
	state   State
	closed  bool
	onClose func(*View)

	updates  chan State
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func newView(feed *luggage.Feed, apply func(luggage.Update) State) *View {
	return &View{
		feed:     feed,
		apply:    apply,
		state:    State{Phase: PhaseLoading},
		updates:  make(chan State, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Current returns the latest state.
func (v *View) Current() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Updates delivers states as they are applied. It is closed by Close.
func (v *View) Updates() <-chan State {
	return v.updates
}

// Done is closed as soon as Close is called.
func (v *View) Done() <-chan struct{} {
	return v.done
}

// OnClose registers fn to run once when the view closes. If the view is
// already closed fn runs immediately.
func (v *View) OnClose(fn func(*View)) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		fn(v)
		return
	}
	v.onClose = fn
	v.mu.Unlock()
}

// Close stops the view and releases its feed. It is idempotent; after it
// returns no further state is delivered.
func (v *View) Close() {
	v.once.Do(func() {
		close(v.done)
		v.feed.Close()
		<-v.finished
		drain(v.updates)
		close(v.updates)

		v.mu.Lock()
		v.closed = true
		fn := v.onClose
		v.mu.Unlock()
		if fn != nil {
			fn(v)
		}
	})
}

func (v *View) run(ctx context.Context) {
	defer close(v.finished)
	go func() {
		select {
		case <-ctx.Done():
			v.Close()
		case <-v.done:
		}
	}()

	for {
		upd, err := v.feed.Next(ctx)
		if err != nil {
			if errors.Is(err, luggage.ErrFeedClosed) || ctx.Err() != nil {
				return
			}
			upd = luggage.Update{Err: err}
		}

		next := State{Phase: PhaseFailed, Err: upd.Err}
		if upd.Err == nil {
			next = v.apply(upd)
		}

		select {
		case <-v.done:
			return
		default:
		}
		v.mu.Lock()
		next.Version = v.state.Version + 1
		v.state = next
		v.mu.Unlock()
		publish(v.updates, next)
	}
}

// publish replaces any undelivered state with st. Only the run goroutine
// sends, so the buffer always has room after the drain.
func publish(ch chan State, st State) {
	select {
	case ch <- st:
	default:
		drain(ch)
		ch <- st
	}
}

func drain(ch chan State) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
