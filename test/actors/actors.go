package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"bellhop/docstore"
	"bellhop/lifecycle"
	"bellhop/liveview"
	"bellhop/luggage"
	"bellhop/profile"
)

// Ledger records which bellman each accept call reported as the winner.
type Ledger struct {
	mu      sync.Mutex
	winners map[string]string
	accepts int
	losses  int
}

func NewLedger() *Ledger {
	return &Ledger{winners: make(map[string]string)}
}

// Win records a successful accept and fails if the request already had one.
func (l *Ledger) Win(requestID, bellmanID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.winners[requestID]; ok {
		return fmt.Errorf("request %s accepted twice: %s and %s", requestID, prev, bellmanID)
	}
	l.winners[requestID] = bellmanID
	l.accepts++
	return nil
}

func (l *Ledger) Lose() {
	l.mu.Lock()
	l.losses++
	l.mu.Unlock()
}

// Winner returns the recorded winner of requestID.
func (l *Ledger) Winner(requestID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.winners[requestID]
	return id, ok
}

func (l *Ledger) Counts() (accepts, losses int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepts, l.losses
}

// tolerable reports errors expected while chaos kills backends.
func tolerable(err error) bool {
	return errors.Is(err, docstore.ErrUnavailable) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Requests is the read side the actors poll.
type Requests interface {
	ListFor(ctx context.Context, p profile.UserProfile, view luggage.View) ([]luggage.Request, error)
}

// Guest submits a mix of immediate and scheduled pickups.
func Guest(ctx context.Context, ctrl *lifecycle.Controller, guest profile.UserProfile, stop <-chan struct{}) error {
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		in := luggage.NewRequest{
			GuestName:   guest.DisplayName,
			RoomNumber:  fmt.Sprintf("%d", 100+rand.Intn(900)),
			LuggageType: []string{"suitcase", "carry-on", "cart", "other"}[rand.Intn(4)],
			PickupTime:  "asap",
		}
		if n%3 == 0 {
			in.PickupTime = "scheduled"
			in.ScheduledTime = time.Now().Add(time.Hour).UTC().Format("2006-01-02T15:04")
		}
		if _, err := ctrl.Submit(ctx, guest, in); err != nil && !tolerable(err) {
			return fmt.Errorf("guest %s submit: %w", guest.UID, err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Bellman races every other bellman for the oldest pending requests.
func Bellman(ctx context.Context, ctrl *lifecycle.Controller, reqs Requests, bellman profile.UserProfile, ledger *Ledger, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		queue, err := reqs.ListFor(ctx, bellman, luggage.ViewQueue)
		if err != nil {
			if tolerable(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("bellman %s list: %w", bellman.UID, err)
		}
		if len(queue) > 0 {
			target := queue[len(queue)-1-rand.Intn(min(len(queue), 3))]
			err := ctrl.Accept(ctx, target.ID, bellman)
			switch {
			case err == nil:
				if err := ledger.Win(target.ID, bellman.UID); err != nil {
					return err
				}
			case errors.Is(err, lifecycle.ErrAlreadyClaimed), errors.Is(err, lifecycle.ErrNotFound):
				ledger.Lose()
			case tolerable(err):
			default:
				return fmt.Errorf("bellman %s accept %s: %w", bellman.UID, target.ID, err)
			}
		}
		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
}

// Admin completes accepted requests.
func Admin(ctx context.Context, ctrl *lifecycle.Controller, reqs Requests, admin profile.UserProfile, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		all, err := reqs.ListFor(ctx, admin, luggage.ViewHistory)
		if err != nil {
			if tolerable(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("admin list: %w", err)
		}
		for _, r := range all {
			if r.Status != luggage.StatusAccepted || rand.Intn(2) == 0 {
				continue
			}
			err := ctrl.Complete(ctx, r.ID, admin)
			if err != nil && !errors.Is(err, lifecycle.ErrInvalidTransition) && !tolerable(err) {
				return fmt.Errorf("admin complete %s: %w", r.ID, err)
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Watcher holds a live bellman queue and checks every state it receives:
// versions strictly increase and a ready queue only ever holds pending
// requests.
func Watcher(ctx context.Context, views *liveview.Synchronizer, bellman profile.UserProfile, stop <-chan struct{}) error {
	v, err := views.WatchList(ctx, bellman, luggage.ViewQueue)
	if err != nil {
		return fmt.Errorf("watcher open: %w", err)
	}
	defer v.Close()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case st, ok := <-v.Updates():
			if !ok {
				return nil
			}
			if st.Version <= last {
				return fmt.Errorf("watcher: version went from %d to %d", last, st.Version)
			}
			last = st.Version
			if st.Phase != liveview.PhaseReady {
				continue
			}
			for _, r := range st.Requests {
				if r.Status != luggage.StatusPending {
					return fmt.Errorf("watcher: queue holds %s request %s", r.Status, r.ID)
				}
			}
		}
	}
}
