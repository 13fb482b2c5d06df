package lifecycle

import (
	"bellhop/luggage"
	"bellhop/profile"
)

// CanCreate reports whether p may submit pickup requests. Only guests do.
func CanCreate(p profile.UserProfile) bool {
	return p.Role == profile.RoleGuest && p.UID != ""
}

// CanView reports whether p may see r. It uses the history view so a bellman
// can still open a request after it has left the queue.
func CanView(p profile.UserProfile, r luggage.Request) bool {
	scope, err := luggage.ScopeFor(p, luggage.ViewHistory)
	if err != nil {
		return false
	}
	return scope.Matches(r)
}

// CanAccept reports whether p may claim r.
func CanAccept(p profile.UserProfile, r luggage.Request) bool {
	return p.Role == profile.RoleBellman && r.Status == luggage.StatusPending
}

// CanComplete reports whether p may mark r completed.
func CanComplete(p profile.UserProfile, r luggage.Request) bool {
	return canComplete(p.Role) && r.Status == luggage.StatusAccepted
}

func canComplete(role profile.Role) bool {
	return role == profile.RoleBellman || role == profile.RoleAdmin
}

// Actions lists what p may do with r right now, for clients that render
// buttons.
type Actions struct {
	Accept   bool `json:"accept"`
	Complete bool `json:"complete"`
}

// ActionsFor evaluates the policy for p and r.
func ActionsFor(p profile.UserProfile, r luggage.Request) Actions {
	return Actions{Accept: CanAccept(p, r), Complete: CanComplete(p, r)}
}
