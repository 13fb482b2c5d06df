// Package docstore is a collection/document store with compare-and-set
// updates and live subscriptions that re-deliver the full result set of a
// query after every committed write.
//
// Both the in-process MemStore and the PostgreSQL-backed PGStore implement
// Store, so the services above never know which one they run against.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no document exists for the collection and id.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrAlreadyExists is returned by CreateWithID when the id is taken.
	ErrAlreadyExists = errors.New("docstore: document already exists")
	// ErrPreconditionFailed signals a conditional update whose expected fields
	// no longer match the stored document.
	ErrPreconditionFailed = errors.New("docstore: precondition failed")
	// ErrUnavailable wraps transient connectivity failures of the backing store.
	ErrUnavailable = errors.New("docstore: store unavailable")
	// ErrClosed is returned after the store has been shut down.
	ErrClosed = errors.New("docstore: store closed")
)

// Sentinel marks a field value that the store resolves at write time.
type Sentinel int

// ServerTimestamp is replaced with the store's clock when a write commits, so
// callers never supply their own (possibly skewed) timestamps.
const ServerTimestamp Sentinel = 1

// TimestampLayout is the fixed-width UTC layout used for server timestamps.
// Fixed width keeps the values sortable as plain text.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Fields is the JSON-shaped content of a document.
type Fields map[string]any

// Document is a stored document with its id.
type Document struct {
	ID     string
	Fields Fields
}

// Decode copies the document fields into v using JSON field names.
func (d Document) Decode(v any) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("docstore: decode %s: %w", d.ID, err)
	}
	return nil
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from one collection. When ID is set the query
// matches at most that single document.
type Query struct {
	Collection string
	ID         string
	Filters    []Filter
	OrderBy    string
	Descending bool
}

// Snapshot is one delivery of a live subscription: either the complete
// current result set or an error.
type Snapshot struct {
	Documents []Document
	Err       error
}

// Store is the contract shared by every backend.
type Store interface {
	// Create inserts a document under a generated id and returns the id.
	Create(ctx context.Context, collection string, fields Fields) (string, error)
	// CreateWithID inserts a document under the given id or fails with ErrAlreadyExists.
	CreateWithID(ctx context.Context, collection, id string, fields Fields) error
	// Get returns one document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Update merges fields into an existing document unconditionally.
	Update(ctx context.Context, collection, id string, fields Fields) error
	// ConditionalUpdate merges fields only if every expected field still holds
	// its expected value at write time; otherwise ErrPreconditionFailed.
	ConditionalUpdate(ctx context.Context, collection, id string, expected, fields Fields) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// Query returns the documents matching q.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Subscribe installs a live query. The first snapshot is the current
	// result set; each later write to the collection delivers a new one.
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// splitSentinels separates plain values from fields the store must stamp.
func splitSentinels(fields Fields) (Fields, []string) {
	plain := make(Fields, len(fields))
	var stamped []string
	for k, v := range fields {
		if s, ok := v.(Sentinel); ok && s == ServerTimestamp {
			stamped = append(stamped, k)
			continue
		}
		plain[k] = v
	}
	return plain, stamped
}

// normalize round-trips fields through JSON so in-memory values compare the
// same way they would after a trip through the database.
func normalize(fields Fields) (Fields, error) {
	if len(fields) == 0 {
		return Fields{}, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode fields: %w", err)
	}
	out := Fields{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("docstore: decode fields: %w", err)
	}
	return out, nil
}

func validateCollection(collection string) error {
	if collection == "" {
		return fmt.Errorf("docstore: empty collection")
	}
	return nil
}
