package luggage

import "strings"

// Filter narrows an already scoped result set the way the staff dashboards
// do. Zero fields match everything.
type Filter struct {
	Room   string
	Status Status
}

// Apply returns the requests matching f, preserving order.
func (f Filter) Apply(requests []Request) []Request {
	room := strings.ToLower(strings.TrimSpace(f.Room))
	out := make([]Request, 0, len(requests))
	for _, r := range requests {
		if room != "" && !strings.Contains(strings.ToLower(r.RoomNumber), room) {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Stats counts requests per status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Accepted  int `json:"accepted"`
	Completed int `json:"completed"`
}

// Summarize counts requests per status.
func Summarize(requests []Request) Stats {
	s := Stats{Total: len(requests)}
	for _, r := range requests {
		switch r.Status {
		case StatusPending:
			s.Pending++
		case StatusAccepted:
			s.Accepted++
		case StatusCompleted:
			s.Completed++
		}
	}
	return s
}
