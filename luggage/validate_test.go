package luggage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsAsapRequest(t *testing.T) {
	fields, err := NewRequest{
		RoomNumber:  " 1205 ",
		LuggageType: "suitcase",
		PickupTime:  "asap",
		Notes:       "   ",
		GuestName:   " Ana ",
	}.Validate()
	require.NoError(t, err)

	assert.Equal(t, "1205", fields[FieldRoomNumber])
	assert.Equal(t, "Ana", fields[FieldGuestName])
	assert.NotContains(t, fields, FieldScheduledTime)
	assert.NotContains(t, fields, FieldNotes, "blank notes are dropped")
	assert.NotContains(t, fields, FieldStatus)
}

func TestValidateScheduledFormats(t *testing.T) {
	for _, value := range []string{
		"2025-06-01T14:30",
		"2025-06-01T14:30:00",
		"2025-06-01T14:30:00.000",
		"2025-06-01T14:30:00Z",
		"2025-06-01T14:30:00.123Z",
		"2025-06-01T14:30:00+02:00",
	} {
		fields, err := NewRequest{
			RoomNumber:    "301",
			LuggageType:   "cart",
			PickupTime:    "scheduled",
			ScheduledTime: value,
		}.Validate()
		require.NoError(t, err, value)
		assert.Equal(t, value, fields[FieldScheduledTime])
	}
}

func TestValidateNamesEveryOffendingField(t *testing.T) {
	_, err := NewRequest{
		RoomNumber:  "  ",
		LuggageType: "trunk",
		PickupTime:  "later",
	}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	names := []string{}
	for _, f := range verr.Fields {
		names = append(names, f.Field)
	}
	assert.Equal(t, []string{FieldRoomNumber, FieldLuggageType, FieldPickupTime}, names)
	assert.Contains(t, err.Error(), "roomNumber: required")
}

func TestValidateScheduledTimeCoupling(t *testing.T) {
	cases := []struct {
		name string
		in   NewRequest
	}{
		{"scheduled without time", NewRequest{RoomNumber: "1", LuggageType: "other", PickupTime: "scheduled"}},
		{"scheduled with garbage", NewRequest{RoomNumber: "1", LuggageType: "other", PickupTime: "scheduled", ScheduledTime: "tomorrow"}},
		{"asap with time", NewRequest{RoomNumber: "1", LuggageType: "other", PickupTime: "asap", ScheduledTime: "2025-06-01T14:30"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.in.Validate()
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, FieldScheduledTime, verr.Fields[0].Field)
		})
	}
}

func TestValidateMessagesNameTheRule(t *testing.T) {
	_, err := NewRequest{RoomNumber: "9", LuggageType: "cart", PickupTime: "asap", ScheduledTime: "2025-06-01T14:30"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduledTime: only allowed when pickupTime is scheduled")

	_, err = NewRequest{RoomNumber: "9", LuggageType: "cart", PickupTime: "scheduled"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduledTime: required when pickupTime is scheduled")

	_, err = NewRequest{RoomNumber: "9", LuggageType: "trunk", PickupTime: "asap"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `luggageType: must be one of suitcase, carry-on, cart, other; got "trunk"`)
}

func TestFromValidatorPassesOtherErrorsThrough(t *testing.T) {
	plain := errors.New("boom")
	assert.Same(t, plain, FromValidator(plain))
}
