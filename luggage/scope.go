package luggage

import (
	"errors"
	"fmt"

	"bellhop/docstore"
	"bellhop/profile"
)

// ErrUnauthorizedRole signals a profile whose role has no request view.
var ErrUnauthorizedRole = errors.New("luggage: role not authorized to view requests")

// View selects between the bellman work queue and the full history. Guests
// and admins see the same set for either view.
type View string

const (
	ViewQueue   View = "queue"
	ViewHistory View = "history"
)

// ParseView maps an empty string to ViewQueue and rejects unknown views.
func ParseView(s string) (View, error) {
	switch View(s) {
	case "", ViewQueue:
		return ViewQueue, nil
	case ViewHistory:
		return ViewHistory, nil
	}
	return "", fmt.Errorf("luggage: unknown view %q", s)
}

// Scope is the set of requests a profile may see. Zero fields mean no
// constraint.
type Scope struct {
	GuestID string
	Status  Status
}

// ScopeFor is the one place visibility rules live: guests see their own
// requests, bellmen see the pending queue (or everything in history), and
// admins see everything.
func ScopeFor(p profile.UserProfile, view View) (Scope, error) {
	switch p.Role {
	case profile.RoleGuest:
		if p.UID == "" {
			return Scope{}, ErrUnauthorizedRole
		}
		return Scope{GuestID: p.UID}, nil
	case profile.RoleBellman:
		if view == ViewHistory {
			return Scope{}, nil
		}
		return Scope{Status: StatusPending}, nil
	case profile.RoleAdmin:
		return Scope{}, nil
	}
	return Scope{}, fmt.Errorf("%w: %q", ErrUnauthorizedRole, p.Role)
}

// Matches reports whether r falls inside the scope.
func (s Scope) Matches(r Request) bool {
	if s.GuestID != "" && r.GuestID != s.GuestID {
		return false
	}
	if s.Status != "" && r.Status != s.Status {
		return false
	}
	return true
}

// Query renders the scope as a newest-first document query.
func (s Scope) Query() docstore.Query {
	q := docstore.Query{
		Collection: Collection,
		OrderBy:    FieldTimestamp,
		Descending: true,
	}
	if s.GuestID != "" {
		q.Filters = append(q.Filters, docstore.Filter{Field: FieldGuestID, Value: s.GuestID})
	}
	if s.Status != "" {
		q.Filters = append(q.Filters, docstore.Filter{Field: FieldStatus, Value: string(s.Status)})
	}
	return q
}
