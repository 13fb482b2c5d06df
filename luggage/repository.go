package luggage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bellhop/docstore"
	"bellhop/profile"
)

// DefaultRetention is how long requests are kept before a sweep may purge them.
const DefaultRetention = 24 * time.Hour

var (
	// ErrNotFound signals that the request does not exist.
	ErrNotFound = errors.New("luggage: request not found")
	// ErrStatusMismatch signals a transition whose source status no longer holds.
	ErrStatusMismatch = errors.New("luggage: status changed")
)

// Repository reads and writes request documents.
type Repository struct {
	store docstore.Store
	log   *logrus.Logger
}

// NewRepository returns a Repository over store.
func NewRepository(store docstore.Store, log *logrus.Logger) *Repository {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Repository{store: store, log: log}
}

// Transition merges fields into the request only if its status is still
// from at write time. A request in any other status yields ErrStatusMismatch
// and is left untouched.
func (r *Repository) Transition(ctx context.Context, id string, from Status, fields docstore.Fields) error {
	err := r.store.ConditionalUpdate(ctx, Collection, id, docstore.Fields{FieldStatus: string(from)}, fields)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, docstore.ErrPreconditionFailed):
		return ErrStatusMismatch
	}
	return fmt.Errorf("luggage: transition: %w", err)
}

// Create validates in and stores a pending request owned by guestID. The
// creation time comes from the store clock.
func (r *Repository) Create(ctx context.Context, guestID string, in NewRequest) (string, error) {
	if guestID == "" {
		return "", fmt.Errorf("luggage: create: empty guest id")
	}
	fields, err := in.Validate()
	if err != nil {
		return "", err
	}
	fields[FieldGuestID] = guestID
	fields[FieldStatus] = string(StatusPending)
	fields[FieldTimestamp] = docstore.ServerTimestamp

	id, err := r.store.Create(ctx, Collection, fields)
	if err != nil {
		return "", fmt.Errorf("luggage: create: %w", err)
	}
	r.log.WithFields(logrus.Fields{
		"request_id": id,
		"guest_id":   guestID,
		"room":       fields[FieldRoomNumber],
	}).Info("luggage: request created")
	return id, nil
}

// Get reads one request.
func (r *Repository) Get(ctx context.Context, id string) (Request, error) {
	doc, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("luggage: get: %w", err)
	}
	return decode(doc)
}

// ListFor returns the current requests visible to p in view, newest first.
func (r *Repository) ListFor(ctx context.Context, p profile.UserProfile, view View) ([]Request, error) {
	scope, err := ScopeFor(p, view)
	if err != nil {
		return nil, err
	}
	docs, err := r.store.Query(ctx, scope.Query())
	if err != nil {
		return nil, fmt.Errorf("luggage: list: %w", err)
	}
	return decodeAll(docs)
}

// QueryFor opens a live feed of the requests visible to p in view. The
// scope is checked before any subscription is installed.
func (r *Repository) QueryFor(ctx context.Context, p profile.UserProfile, view View) (*Feed, error) {
	scope, err := ScopeFor(p, view)
	if err != nil {
		return nil, err
	}
	sub, err := r.store.Subscribe(ctx, scope.Query())
	if err != nil {
		return nil, fmt.Errorf("luggage: subscribe: %w", err)
	}
	return &Feed{sub: sub}, nil
}

// GetOne opens a live feed of a single request. Each update carries zero or
// one request.
func (r *Repository) GetOne(ctx context.Context, id string) (*Feed, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	sub, err := r.store.Subscribe(ctx, docstore.Query{Collection: Collection, ID: id})
	if err != nil {
		return nil, fmt.Errorf("luggage: subscribe: %w", err)
	}
	return &Feed{sub: sub}, nil
}

// Sweep deletes requests created before now minus retention and reports how
// many were removed. It keeps going past individual delete failures and
// returns them joined.
func (r *Repository) Sweep(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention)

	docs, err := r.store.Query(ctx, docstore.Query{Collection: Collection})
	if err != nil {
		return 0, fmt.Errorf("luggage: sweep: %w", err)
	}

	var (
		deleted int
		errs    []error
	)
	for _, doc := range docs {
		req, err := decode(doc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if req.Timestamp.IsZero() || !req.Timestamp.Before(cutoff) {
			continue
		}
		if err := r.store.Delete(ctx, Collection, doc.ID); err != nil {
			errs = append(errs, fmt.Errorf("luggage: sweep %s: %w", doc.ID, err))
			continue
		}
		deleted++
	}

	entry := r.log.WithFields(logrus.Fields{"deleted": deleted, "cutoff": cutoff.UTC().Format(time.RFC3339)})
	if len(errs) > 0 {
		entry.WithField("failures", len(errs)).Warn("luggage: sweep finished with errors")
		return deleted, errors.Join(errs...)
	}
	entry.Info("luggage: sweep finished")
	return deleted, nil
}

func decode(doc docstore.Document) (Request, error) {
	var req Request
	if err := doc.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("luggage: %w", err)
	}
	req.ID = doc.ID
	return req, nil
}

func decodeAll(docs []docstore.Document) ([]Request, error) {
	out := make([]Request, 0, len(docs))
	for _, doc := range docs {
		req, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
