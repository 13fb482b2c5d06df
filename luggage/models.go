// Package luggage owns the luggage-pickup request documents: validation,
// role-scoped queries and live feeds over the document store.
package luggage

import "time"

// Collection holds one document per pickup request.
const Collection = "bellRequests"

// Document field names.
const (
	FieldGuestID       = "guestId"
	FieldGuestName     = "guestName"
	FieldRoomNumber    = "roomNumber"
	FieldLuggageType   = "luggageType"
	FieldPickupTime    = "pickupTime"
	FieldScheduledTime = "scheduledTime"
	FieldNotes         = "notes"
	FieldStatus        = "status"
	FieldBellmanID     = "bellmanId"
	FieldBellmanName   = "bellmanName"
	FieldTimestamp     = "timestamp"
	FieldAcceptedAt    = "acceptedAt"
	FieldCompletedAt   = "completedAt"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCompleted:
		return true
	}
	return false
}

// LuggageType is the kind of luggage to pick up.
type LuggageType string

const (
	TypeSuitcase LuggageType = "suitcase"
	TypeCarryOn  LuggageType = "carry-on"
	TypeCart     LuggageType = "cart"
	TypeOther    LuggageType = "other"
)

// Valid reports whether t is a known luggage type.
func (t LuggageType) Valid() bool {
	switch t {
	case TypeSuitcase, TypeCarryOn, TypeCart, TypeOther:
		return true
	}
	return false
}

// PickupTime says whether the pickup is immediate or scheduled.
type PickupTime string

const (
	PickupASAP      PickupTime = "asap"
	PickupScheduled PickupTime = "scheduled"
)

// Valid reports whether p is a known pickup mode.
func (p PickupTime) Valid() bool {
	return p == PickupASAP || p == PickupScheduled
}

// Request is a stored pickup request.
type Request struct {
	ID            string      `json:"-"`
	GuestID       string      `json:"guestId"`
	GuestName     string      `json:"guestName,omitempty"`
	RoomNumber    string      `json:"roomNumber"`
	LuggageType   LuggageType `json:"luggageType"`
	PickupTime    PickupTime  `json:"pickupTime"`
	ScheduledTime string      `json:"scheduledTime,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	Status        Status      `json:"status"`
	BellmanID     string      `json:"bellmanId,omitempty"`
	BellmanName   string      `json:"bellmanName,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	AcceptedAt    *time.Time  `json:"acceptedAt,omitempty"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
}

// NewRequest is the guest-supplied input for a request, as submitted.
type NewRequest struct {
	GuestName     string `json:"guestName"`
	RoomNumber    string `json:"roomNumber" validate:"required"`
	LuggageType   string `json:"luggageType" validate:"oneof=suitcase carry-on cart other"`
	PickupTime    string `json:"pickupTime" validate:"oneof=asap scheduled"`
	ScheduledTime string `json:"scheduledTime" validate:"required_if=PickupTime scheduled,excluded_unless=PickupTime scheduled,isodatetime"`
	Notes         string `json:"notes"`
}
