package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// ChangeChannel is the LISTEN/NOTIFY channel the documents trigger publishes
// collection names on.
const ChangeChannel = "docstore_changes"

const (
	listenBackoffMin = 500 * time.Millisecond
	listenBackoffMax = 10 * time.Second
)

// PGStore keeps documents as jsonb rows in the documents table. Live queries
// are re-evaluated whenever the table trigger notifies a change to their
// collection.
type PGStore struct {
	pool  *pgxpool.Pool
	hub   *hub
	log   *logrus.Logger
	newID func() string

	// refreshMu serializes snapshot evaluation so a subscriber never receives
	// an older result after a newer one.
	refreshMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPGStore starts the change listener and returns a ready store. The
// documents table must already exist (see db.Migrate).
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, log *logrus.Logger) (*PGStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("docstore: nil pool")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, classify("ping", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &PGStore{
		pool:   pool,
		hub:    newHub(),
		log:    log,
		newID:  func() string { return uuid.NewString() },
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.listen(listenCtx)
	return s, nil
}

// Close stops the listener and ends every subscription. The pool is owned by
// the caller and stays open.
func (s *PGStore) Close() {
	s.cancel()
	<-s.done
	for _, sub := range s.hub.all() {
		sub.Close()
	}
}

func (s *PGStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	id := s.newID()
	if err := s.CreateWithID(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PGStore) CreateWithID(ctx context.Context, collection, id string, fields Fields) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("docstore: empty id")
	}
	plain, stamped := splitSentinels(fields)
	raw, err := json.Marshal(plain)
	if err != nil {
		return fmt.Errorf("docstore: encode fields: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, docstore_stamp($3::jsonb, $4::text[]))
	`, collection, id, raw, stamped)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return classify("insert", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM documents WHERE collection = $1 AND id = $2
	`, collection, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, classify("get", err)
	}
	return decodeRow(id, raw)
}

func (s *PGStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	return s.ConditionalUpdate(ctx, collection, id, nil, fields)
}

// ConditionalUpdate relies on the row lock taken by UPDATE: a concurrent
// writer blocks until the first commits and then re-checks the containment
// predicate against the new row version, so at most one of two racing
// compare-and-set calls can succeed.
func (s *PGStore) ConditionalUpdate(ctx context.Context, collection, id string, expected, fields Fields) error {
	plain, stamped := splitSentinels(fields)
	patch, err := json.Marshal(plain)
	if err != nil {
		return fmt.Errorf("docstore: encode fields: %w", err)
	}
	if expected == nil {
		expected = Fields{}
	}
	want, err := json.Marshal(expected)
	if err != nil {
		return fmt.Errorf("docstore: encode precondition: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE documents
		SET data = docstore_stamp(data || $3::jsonb, $4::text[]),
		    updated_at = now()
		WHERE collection = $1 AND id = $2 AND data @> $5::jsonb
	`, collection, id, patch, stamped, want)
	if err != nil {
		return classify("update", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM documents WHERE collection = $1 AND id = $2)
	`, collection, id).Scan(&exists)
	if err != nil {
		return classify("update", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrPreconditionFailed
}

func (s *PGStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM documents WHERE collection = $1 AND id = $2
	`, collection, id); err != nil {
		return classify("delete", err)
	}
	return nil
}

func (s *PGStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateCollection(q.Collection); err != nil {
		return nil, err
	}
	sql, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, classify("scan", err)
		}
		doc, err := decodeRow(id, raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query", err)
	}
	return docs, nil
}

func (s *PGStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := validateCollection(q.Collection); err != nil {
		return nil, err
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	docs, err := s.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(q, s.hub.remove)
	s.hub.add(sub)
	sub.push(Snapshot{Documents: docs})
	sub.closeOnCancel(ctx)
	return sub, nil
}

// Subscribers reports how many live queries are open.
func (s *PGStore) Subscribers() int {
	return s.hub.count()
}

func (s *PGStore) listen(ctx context.Context) {
	defer close(s.done)

	backoff := listenBackoffMin
	for {
		started := time.Now()
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > listenBackoffMax {
			backoff = listenBackoffMin
		}
		s.log.WithError(err).WithField("retry_in", backoff).Warn("docstore: change listener lost, reconnecting")
		s.broadcast(Snapshot{Err: fmt.Errorf("docstore: listen: %w: %v", ErrUnavailable, err)})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > listenBackoffMax {
			backoff = listenBackoffMax
		}
	}
}

func (s *PGStore) listenOnce(ctx context.Context) error {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return err
	}
	// Anything committed while we were disconnected is picked up here.
	s.refresh(ctx, "")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.refresh(ctx, n.Payload)
	}
}

// refresh re-evaluates the subscriptions on collection, or all of them when
// collection is empty.
func (s *PGStore) refresh(ctx context.Context, collection string) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	subs := s.hub.all()
	if collection != "" {
		subs = s.hub.forCollection(collection)
	}
	for _, sub := range subs {
		docs, err := s.Query(ctx, sub.query)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sub.push(Snapshot{Err: err})
			continue
		}
		sub.push(Snapshot{Documents: docs})
	}
}

func (s *PGStore) broadcast(snap Snapshot) {
	for _, sub := range s.hub.all() {
		sub.push(snap)
	}
}

func buildQuery(q Query) (string, []any, error) {
	var b strings.Builder
	args := []any{q.Collection}
	b.WriteString("SELECT id, data FROM documents WHERE collection = $1")

	if q.ID != "" {
		args = append(args, q.ID)
		fmt.Fprintf(&b, " AND id = $%d", len(args))
	}
	if len(q.Filters) > 0 {
		match := make(Fields, len(q.Filters))
		for _, f := range q.Filters {
			match[f.Field] = f.Value
		}
		raw, err := json.Marshal(match)
		if err != nil {
			return "", nil, fmt.Errorf("docstore: encode filters: %w", err)
		}
		args = append(args, raw)
		fmt.Fprintf(&b, " AND data @> $%d::jsonb", len(args))
	}

	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&b, ` ORDER BY (data ->> $%d) COLLATE "C" %s NULLS LAST, id`, len(args), dir)
	} else {
		b.WriteString(" ORDER BY id")
	}
	return b.String(), args, nil
}

func decodeRow(id string, raw []byte) (Document, error) {
	fields := Fields{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Document{}, fmt.Errorf("docstore: decode %s: %w", id, err)
	}
	return Document{ID: id, Fields: fields}, nil
}

// classify tags connectivity failures with ErrUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		pgErr   *pgconn.PgError
		connErr *pgconn.ConnectError
		netErr  net.Error
	)
	switch {
	case errors.As(err, &pgErr):
		// Class 08 is connection exceptions, class 57 operator intervention
		// such as pg_terminate_backend.
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57") {
			return fmt.Errorf("docstore: %s: %w: %v", op, ErrUnavailable, err)
		}
		return fmt.Errorf("docstore: %s: %w", op, err)
	case errors.As(err, &connErr), errors.As(err, &netErr), pgconn.Timeout(err),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), pgconn.SafeToRetry(err):
		return fmt.Errorf("docstore: %s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("docstore: %s: %w", op, err)
}
