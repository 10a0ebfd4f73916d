package ratings

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Create(ctx context.Context, rating *models.Rating) error {
	args := m.Called(ctx, rating)
	return args.Error(0)
}

func (m *mockRepo) HasRated(ctx context.Context, bookingID, fromUserID uuid.UUID) (bool, error) {
	args := m.Called(ctx, bookingID, fromUserID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) ListForUser(ctx context.Context, toUserID uuid.UUID, limit, offset int) ([]*models.Rating, int64, error) {
	args := m.Called(ctx, toUserID, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*models.Rating), args.Get(1).(int64), args.Error(2)
}

func (m *mockRepo) Stats(ctx context.Context, userID uuid.UUID) (*models.RatingStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RatingStats), args.Error(1)
}

func (m *mockRepo) ListUnratedBookings(ctx context.Context, userID uuid.UUID, departedBefore time.Time, limit int) ([]*models.Booking, error) {
	args := m.Called(ctx, userID, departedBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}

type mockBookings struct {
	mock.Mock
}

func (m *mockBookings) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

type mockRides struct {
	mock.Mock
}

func (m *mockRides) GetRideByID(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ride), args.Error(1)
}

type recordedNotification struct {
	userID uuid.UUID
	kind   models.NotificationKind
}

type recordingNotifier struct {
	sent []recordedNotification
}

func (n *recordingNotifier) Notify(ctx context.Context, userID uuid.UUID, kind models.NotificationKind, payload models.NotificationPayload) {
	n.sent = append(n.sent, recordedNotification{userID: userID, kind: kind})
}

type fixture struct {
	repo     *mockRepo
	bookings *mockBookings
	rides    *mockRides
	notifier *recordingNotifier
	clock    *clock.Mock
	service  *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:     new(mockRepo),
		bookings: new(mockBookings),
		rides:    new(mockRides),
		notifier: &recordingNotifier{},
		clock:    clock.NewMock(testNow),
	}
	f.service = NewService(f.repo, f.bookings, f.rides, nil, f.notifier, f.clock)
	return f
}

// departedBooking returns an accepted booking on a ride that left an hour ago.
func departedBooking(passengerID, driverID uuid.UUID) (*models.Booking, *models.Ride) {
	ride := &models.Ride{
		ID:          uuid.New(),
		DriverID:    driverID,
		DepartureAt: testNow.Add(-time.Hour),
		Status:      models.RideStatusActive,
	}
	booking := &models.Booking{
		ID:          uuid.New(),
		RideID:      ride.ID,
		PassengerID: passengerID,
		Seats:       2,
		Status:      models.BookingStatusAccepted,
	}
	return booking, ride
}

func TestSubmit(t *testing.T) {
	passengerID := uuid.New()
	driverID := uuid.New()

	t.Run("passenger rates driver after the window opens", func(t *testing.T) {
		f := newFixture()
		booking, ride := departedBooking(passengerID, driverID)

		f.bookings.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Create", mock.Anything, mock.MatchedBy(func(r *models.Rating) bool {
			return r.FromUserID == passengerID && r.ToUserID == driverID &&
				r.Type == models.RatingPassengerToDriver && r.Stars == 5
		})).Return(nil)

		rating, err := f.service.Submit(context.Background(), passengerID,
			&models.SubmitRatingRequest{BookingID: booking.ID, Stars: 5})

		require.NoError(t, err)
		assert.Equal(t, driverID, rating.ToUserID)
		require.Len(t, f.notifier.sent, 1)
		assert.Equal(t, driverID, f.notifier.sent[0].userID)
		assert.Equal(t, models.NotifRatingReceived, f.notifier.sent[0].kind)
	})

	t.Run("driver rates passenger in the opposite direction", func(t *testing.T) {
		f := newFixture()
		booking, ride := departedBooking(passengerID, driverID)

		f.bookings.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Create", mock.Anything, mock.MatchedBy(func(r *models.Rating) bool {
			return r.Type == models.RatingDriverToPassenger && r.ToUserID == passengerID
		})).Return(nil)

		_, err := f.service.Submit(context.Background(), driverID,
			&models.SubmitRatingRequest{BookingID: booking.ID, Stars: 4})
		require.NoError(t, err)
	})

	t.Run("too early to rate", func(t *testing.T) {
		f := newFixture()
		booking, ride := departedBooking(passengerID, driverID)
		ride.DepartureAt = testNow.Add(-10 * time.Minute)

		f.bookings.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		_, err := f.service.Submit(context.Background(), passengerID,
			&models.SubmitRatingRequest{BookingID: booking.ID, Stars: 5})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeStateError, appErr.ErrorCode)
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("pending booking cannot be rated", func(t *testing.T) {
		f := newFixture()
		booking, ride := departedBooking(passengerID, driverID)
		booking.Status = models.BookingStatusPending

		f.bookings.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		_, err := f.service.Submit(context.Background(), passengerID,
			&models.SubmitRatingRequest{BookingID: booking.ID, Stars: 5})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeStateError, appErr.ErrorCode)
	})

	t.Run("outsider is rejected", func(t *testing.T) {
		f := newFixture()
		booking, ride := departedBooking(passengerID, driverID)

		f.bookings.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		_, err := f.service.Submit(context.Background(), uuid.New(),
			&models.SubmitRatingRequest{BookingID: booking.ID, Stars: 5})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeForbidden, appErr.ErrorCode)
	})

	t.Run("duplicate surfaces as conflict", func(t *testing.T) {
		f := newFixture()
		booking, ride := departedBooking(passengerID, driverID)

		f.bookings.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Create", mock.Anything, mock.AnythingOfType("*models.Rating")).
			Return(common.NewConflictError("you have already rated this booking"))

		_, err := f.service.Submit(context.Background(), passengerID,
			&models.SubmitRatingRequest{BookingID: booking.ID, Stars: 3})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeConflict, appErr.ErrorCode)
		assert.Empty(t, f.notifier.sent)
	})
}

func TestCanRate(t *testing.T) {
	passengerID := uuid.New()
	driverID := uuid.New()

	t.Run("eligible once the window opens", func(t *testing.T) {
		f := newFixture()
		booking, ride := departedBooking(passengerID, driverID)

		f.bookings.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("HasRated", mock.Anything, booking.ID, passengerID).Return(false, nil)

		result, err := f.service.CanRate(context.Background(), passengerID, booking.ID)
		require.NoError(t, err)
		assert.True(t, result.CanRate)
	})

	t.Run("window boundary is exactly departure plus thirty minutes", func(t *testing.T) {
		f := newFixture()
		booking, ride := departedBooking(passengerID, driverID)
		ride.DepartureAt = testNow.Add(-30 * time.Minute)

		f.bookings.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("HasRated", mock.Anything, booking.ID, passengerID).Return(false, nil)

		result, err := f.service.CanRate(context.Background(), passengerID, booking.ID)
		require.NoError(t, err)
		assert.True(t, result.CanRate)

		f.clock.Set(testNow.Add(-time.Second))
		result, err = f.service.CanRate(context.Background(), passengerID, booking.ID)
		require.NoError(t, err)
		assert.False(t, result.CanRate)
	})

	t.Run("already rated", func(t *testing.T) {
		f := newFixture()
		booking, ride := departedBooking(passengerID, driverID)

		f.bookings.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("HasRated", mock.Anything, booking.ID, passengerID).Return(true, nil)

		result, err := f.service.CanRate(context.Background(), passengerID, booking.ID)
		require.NoError(t, err)
		assert.False(t, result.CanRate)
		assert.Contains(t, result.Reason, "already rated")
	})
}

func TestPendingRatings(t *testing.T) {
	userID := uuid.New()
	f := newFixture()

	f.repo.On("ListUnratedBookings", mock.Anything, userID,
		testNow.Add(-30*time.Minute), 20).Return([]*models.Booking{{ID: uuid.New()}}, nil)

	bookings, err := f.service.PendingRatings(context.Background(), userID, 20)
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestStats(t *testing.T) {
	userID := uuid.New()
	f := newFixture()

	f.repo.On("Stats", mock.Anything, userID).Return(&models.RatingStats{
		UserID: userID,
		Mean:   4.5,
		Count:  2,
		Distribution: map[int]int{
			4: 1,
			5: 1,
		},
	}, nil)

	stats, err := f.service.Stats(context.Background(), userID)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, stats.Mean, 0.001)
	assert.Equal(t, 2, stats.Count)
}
