package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// NewEvent
// ---------------------------------------------------------------------------

func TestNewEvent_Success(t *testing.T) {
	data := map[string]string{"booking_id": "abc"}

	event, err := NewEvent(SubjectBookingRequested, "carpool-api", data)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, SubjectBookingRequested, event.Type)
	assert.Equal(t, "carpool-api", event.Source)
	assert.False(t, event.Timestamp.IsZero())

	_, err = uuid.Parse(event.ID)
	assert.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(event.Data, &decoded))
	assert.Equal(t, "abc", decoded["booking_id"])
}

func TestNewEvent_NilData(t *testing.T) {
	event, err := NewEvent(SubjectRideCancelled, "carpool-api", nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), event.Data)
}

func TestNewEvent_UnmarshalableData(t *testing.T) {
	event, err := NewEvent("test", "src", make(chan int))
	assert.Error(t, err)
	assert.Nil(t, event)
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	// The ID doubles as the JetStream dedupe key, so collisions would drop
	// distinct events.
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		event, err := NewEvent("test", "src", nil)
		require.NoError(t, err)
		assert.False(t, ids[event.ID], "duplicate event ID generated")
		ids[event.ID] = true
	}
}

func TestNewEvent_TimestampIsUTC(t *testing.T) {
	event, err := NewEvent("test", "src", nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, event.Timestamp.Location())
}

// ---------------------------------------------------------------------------
// Event envelope
// ---------------------------------------------------------------------------

func TestEvent_JSONRoundTrip(t *testing.T) {
	original, err := NewEvent(SubjectPaymentSucceeded, "carpool-api", map[string]int64{"amount": 2500})
	require.NoError(t, err)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var restored Event
	require.NoError(t, json.Unmarshal(data, &restored))

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Source, restored.Source)
	assert.JSONEq(t, string(original.Data), string(restored.Data))
}

// ---------------------------------------------------------------------------
// Payload semantics
// ---------------------------------------------------------------------------

func TestBookingEventData_ZeroAmountOmitted(t *testing.T) {
	// Free bookings publish no amount; consumers must not read a zero as a
	// charge of zero cents.
	data := BookingEventData{
		BookingID:   uuid.New(),
		RideID:      uuid.New(),
		DriverID:    uuid.New(),
		PassengerID: uuid.New(),
		Seats:       2,
		Luggage:     1,
		DepartureAt: time.Now().UTC(),
		OccurredAt:  time.Now().UTC(),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"amount"`)
}

func TestBookingEventData_CancelledByRoundTrip(t *testing.T) {
	// The email consumer only mails passengers on driver-side cancellations,
	// so the attribution must survive the wire.
	data := BookingEventData{
		BookingID:   uuid.New(),
		RideID:      uuid.New(),
		DriverID:    uuid.New(),
		PassengerID: uuid.New(),
		Seats:       1,
		CancelledBy: "driver",
		DepartureAt: time.Now().UTC(),
		OccurredAt:  time.Now().UTC(),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded BookingEventData
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "driver", decoded.CancelledBy)

	data.CancelledBy = ""
	b, err = json.Marshal(data)
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"cancelled_by"`)
}

func TestRequestEventData_UnmatchedHasNoDriver(t *testing.T) {
	data := RequestEventData{
		RequestID:   uuid.New(),
		PassengerID: uuid.New(),
		AirportID:   uuid.New(),
		SeatsNeeded: 3,
		OccurredAt:  time.Now().UTC(),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded RequestEventData
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Nil(t, decoded.MatchedDriverID)
}

// ---------------------------------------------------------------------------
// HandlerFunc
// ---------------------------------------------------------------------------

func TestHandlerFunc_Invocation(t *testing.T) {
	var received *Event

	handler := HandlerFunc(func(ctx context.Context, event *Event) error {
		received = event
		return nil
	})

	event, err := NewEvent(SubjectOfferAccepted, "carpool-api", nil)
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), event))
	require.NotNil(t, received)
	assert.Equal(t, event.ID, received.ID)
}

func TestHandlerFunc_ReturnsError(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, event *Event) error {
		return assert.AnError
	})

	event, err := NewEvent("test", "src", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, handler(context.Background(), event), assert.AnError)
}

// ---------------------------------------------------------------------------
// Bus
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.URL)
	assert.Equal(t, "carpool", cfg.Name)
	assert.Equal(t, "CARPOOL", cfg.StreamName)
}

func TestBus_Close_NoSubs(t *testing.T) {
	bus := &Bus{}
	// Must tolerate a bus that never connected.
	bus.Close()
}
