package docstore

import "sync"

// hub tracks open subscriptions per collection.
type hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*Subscription]struct{})}
}

func (h *hub) add(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	coll := s.query.Collection
	if h.subs[coll] == nil {
		h.subs[coll] = make(map[*Subscription]struct{})
	}
	h.subs[coll][s] = struct{}{}
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	coll := s.query.Collection
	delete(h.subs[coll], s)
	if len(h.subs[coll]) == 0 {
		delete(h.subs, coll)
	}
}

func (h *hub) forCollection(collection string) []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Subscription, 0, len(h.subs[collection]))
	for s := range h.subs[collection] {
		out = append(out, s)
	}
	return out
}

func (h *hub) all() []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Subscription
	for _, set := range h.subs {
		for s := range set {
			out = append(out, s)
		}
	}
	return out
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
