package docstore

import (
	"context"
	"sync"
)

// Subscription is a live query. Snapshots arrive on Events in the order the
// store produced them. After Close returns nothing more is delivered and the
// Events channel is closed.
type Subscription struct {
	query   Query
	events  chan Snapshot
	release func(*Subscription)

	mu    sync.Mutex
	queue []Snapshot

	wake      chan struct{}
	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

func newSubscription(q Query, release func(*Subscription)) *Subscription {
	s := &Subscription{
		query:    q,
		events:   make(chan Snapshot),
		release:  release,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.run()
	return s
}

// Events delivers snapshots until the subscription is closed.
func (s *Subscription) Events() <-chan Snapshot {
	return s.events
}

// Query returns the query this subscription watches.
func (s *Subscription) Query() Query {
	return s.query
}

// Next blocks for the next snapshot. ok is false once the subscription is
// closed or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Snapshot, bool) {
	select {
	case snap, ok := <-s.events:
		return snap, ok
	case <-ctx.Done():
		return Snapshot{}, false
	}
}

// Close detaches the subscription from the store. It is safe to call more
// than once and from any goroutine.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.release != nil {
			s.release(s)
		}
		close(s.done)
	})
	<-s.finished
}

// closeOnCancel ties the subscription lifetime to ctx.
func (s *Subscription) closeOnCancel(ctx context.Context) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}

// push enqueues a snapshot without blocking the writer.
func (s *Subscription) push(snap Snapshot) {
	select {
	case <-s.done:
		return
	default:
	}
	s.mu.Lock()
	s.queue = append(s.queue, snap)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.finished)
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			snap := s.queue[0]
			s.queue[0] = Snapshot{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.events <- snap:
			case <-s.done:
				return
			}
		}
	}
}
