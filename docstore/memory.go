package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemStore keeps every collection in memory. Writes are serialized under a
// single lock, and subscriber snapshots are computed while that lock is held,
// so every subscriber observes writes in commit order.
type MemStore struct {
	mu       sync.RWMutex
	data     map[string]map[string]Fields
	versions map[string]uint64
	closed   bool

	hub       *hub
	persister *Persistence
	log       *logrus.Logger
	wg        sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// MemOption configures a MemStore.
type MemOption func(*MemStore)

// WithClock overrides the clock used for server timestamps.
func WithClock(now func() time.Time) MemOption {
	return func(m *MemStore) { m.now = now }
}

// WithIDGenerator overrides generated document ids.
func WithIDGenerator(gen func() string) MemOption {
	return func(m *MemStore) { m.newID = gen }
}

// WithPersistence saves each collection to disk after every write.
func WithPersistence(p *Persistence) MemOption {
	return func(m *MemStore) { m.persister = p }
}

// WithLogger sets the logger used for background failures.
func WithLogger(log *logrus.Logger) MemOption {
	return func(m *MemStore) { m.log = log }
}

// NewMemStore returns an empty store seeded with initial, typically the
// result of Persistence.LoadAll.
func NewMemStore(initial map[string]map[string]Fields, opts ...MemOption) *MemStore {
	m := &MemStore{
		data:     make(map[string]map[string]Fields),
		versions: make(map[string]uint64),
		hub:      newHub(),
		log:      logrus.StandardLogger(),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for coll, docs := range initial {
		m.data[coll] = make(map[string]Fields, len(docs))
		for id, f := range docs {
			m.data[coll][id] = cloneFields(f)
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wait blocks until background persistence has finished.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// Close ends every subscription and waits for pending saves.
func (m *MemStore) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	for _, s := range m.hub.all() {
		s.Close()
	}
	m.wg.Wait()
}

func (m *MemStore) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	id := m.newID()
	if err := m.CreateWithID(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (m *MemStore) CreateWithID(_ context.Context, collection, id string, fields Fields) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("docstore: empty id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if _, ok := m.data[collection][id]; ok {
		return ErrAlreadyExists
	}
	doc, err := m.resolve(fields)
	if err != nil {
		return err
	}
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]Fields)
	}
	m.data[collection][id] = doc
	m.commitLocked(collection)
	return nil
}

func (m *MemStore) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Document{}, ErrClosed
	}

	doc, ok := m.data[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: cloneFields(doc)}, nil
}

func (m *MemStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	return m.ConditionalUpdate(ctx, collection, id, nil, fields)
}

func (m *MemStore) ConditionalUpdate(_ context.Context, collection, id string, expected, fields Fields) error {
	want, err := normalize(expected)
	if err != nil {
		return err
	}
	patch, err := m.resolve(fields)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	doc, ok := m.data[collection][id]
	if !ok {
		return ErrNotFound
	}
	if !containsAll(doc, want) {
		return ErrPreconditionFailed
	}
	next := cloneFields(doc)
	for k, v := range patch {
		next[k] = v
	}
	m.data[collection][id] = next
	m.commitLocked(collection)
	return nil
}

func (m *MemStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if _, ok := m.data[collection][id]; !ok {
		return nil
	}
	delete(m.data[collection], id)
	m.commitLocked(collection)
	return nil
}

func (m *MemStore) Query(_ context.Context, q Query) ([]Document, error) {
	if err := validateCollection(q.Collection); err != nil {
		return nil, err
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, err
	}
	q.Filters = filters

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.evaluateLocked(q), nil
}

func (m *MemStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := validateCollection(q.Collection); err != nil {
		return nil, err
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, err
	}
	q.Filters = filters

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	sub := newSubscription(q, m.hub.remove)
	m.hub.add(sub)
	sub.push(Snapshot{Documents: m.evaluateLocked(q)})
	sub.closeOnCancel(ctx)
	return sub, nil
}

// resolve stamps sentinels and normalizes the result.
func (m *MemStore) resolve(fields Fields) (Fields, error) {
	plain, stamped := splitSentinels(fields)
	if len(stamped) > 0 {
		ts := formatTimestamp(m.now())
		for _, k := range stamped {
			plain[k] = ts
		}
	}
	return normalize(plain)
}

func (m *MemStore) evaluateLocked(q Query) []Document {
	docs := make([]Document, 0)
	if q.ID != "" {
		if f, ok := m.data[q.Collection][q.ID]; ok {
			doc := Document{ID: q.ID, Fields: f}
			if matches(q, doc) {
				docs = append(docs, Document{ID: q.ID, Fields: cloneFields(f)})
			}
		}
		return docs
	}
	for id, f := range m.data[q.Collection] {
		doc := Document{ID: id, Fields: f}
		if matches(q, doc) {
			docs = append(docs, Document{ID: id, Fields: cloneFields(f)})
		}
	}
	sortDocuments(docs, q)
	return docs
}

// commitLocked fans the new state out to subscribers and schedules a save.
// The caller must hold the write lock.
func (m *MemStore) commitLocked(collection string) {
	m.versions[collection]++

	for _, sub := range m.hub.forCollection(collection) {
		sub.push(Snapshot{Documents: m.evaluateLocked(sub.query)})
	}

	if m.persister == nil {
		return
	}
	version := m.versions[collection]
	snapshot := make(map[string]Fields, len(m.data[collection]))
	for id, f := range m.data[collection] {
		snapshot[id] = cloneFields(f)
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.persister.SaveCollection(collection, version, snapshot); err != nil {
			m.log.WithError(err).WithField("collection", collection).Error("docstore: persist collection")
		}
	}()
}
