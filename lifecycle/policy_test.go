package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bellhop/luggage"
	"bellhop/profile"
)

func TestPolicy(t *testing.T) {
	pending := luggage.Request{GuestID: "g1", Status: luggage.StatusPending}
	accepted := luggage.Request{GuestID: "g1", Status: luggage.StatusAccepted, BellmanID: "b1"}
	foreign := luggage.Request{GuestID: "g9", Status: luggage.StatusCompleted}

	assert.True(t, CanCreate(guest))
	assert.False(t, CanCreate(bellmanA))
	assert.False(t, CanCreate(admin))
	assert.False(t, CanCreate(profile.UserProfile{Role: profile.RoleGuest}))

	assert.True(t, CanView(guest, pending))
	assert.False(t, CanView(guest, foreign))
	assert.True(t, CanView(bellmanA, foreign), "bellmen can open requests outside the queue")
	assert.True(t, CanView(admin, foreign))
	assert.False(t, CanView(profile.UserProfile{UID: "x", Role: "valet"}, pending))

	assert.True(t, CanAccept(bellmanA, pending))
	assert.False(t, CanAccept(bellmanA, accepted))
	assert.False(t, CanAccept(admin, pending))

	assert.True(t, CanComplete(bellmanB, accepted))
	assert.True(t, CanComplete(admin, accepted))
	assert.False(t, CanComplete(admin, pending))
	assert.False(t, CanComplete(guest, accepted))

	assert.Equal(t, Actions{Accept: true}, ActionsFor(bellmanA, pending))
	assert.Equal(t, Actions{Complete: true}, ActionsFor(admin, accepted))
	assert.Equal(t, Actions{}, ActionsFor(guest, pending))
}
