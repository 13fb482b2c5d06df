package luggage

import (
	"context"
	"errors"

	"bellhop/docstore"
)

// ErrFeedClosed is returned by Next once the feed has been closed.
var ErrFeedClosed = errors.New("luggage: feed closed")

// Update is one delivery of a feed: the complete current result, or an error
// from the store.
type Update struct {
	Requests []Request
	Err      error
}

// Feed is a live, typed sequence of request results.
type Feed struct {
	sub *docstore.Subscription
}

// Next blocks until the next update. It returns ErrFeedClosed after Close
// and ctx.Err() when ctx is done.
func (f *Feed) Next(ctx context.Context) (Update, error) {
	select {
	case snap, ok := <-f.sub.Events():
		if !ok {
			return Update{}, ErrFeedClosed
		}
		if snap.Err != nil {
			return Update{Err: snap.Err}, nil
		}
		reqs, err := decodeAll(snap.Documents)
		if err != nil {
			return Update{Err: err}, nil
		}
		return Update{Requests: reqs}, nil
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}
}

// Close releases the underlying subscription. Nothing is delivered after it
// returns.
func (f *Feed) Close() {
	f.sub.Close()
}
