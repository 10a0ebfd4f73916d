package bookings

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aeroride/carpool/internal/payments"
	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// stubTx satisfies pgx.Tx for engine tests. The repository mocks receive it
// but never execute through it.
type stubTx struct {
	committed  bool
	rolledBack bool
}

func (t *stubTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *stubTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}
func (t *stubTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
func (t *stubTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *stubTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *stubTx) LargeObjects() pgx.LargeObjects                              { return pgx.LargeObjects{} }
func (t *stubTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *stubTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *stubTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *stubTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *stubTx) Conn() *pgx.Conn                                              { return nil }

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	return args.Get(0).(pgx.Tx), args.Error(1)
}

func (m *mockRepo) Create(ctx context.Context, booking *models.Booking) error {
	args := m.Called(ctx, booking)
	return args.Error(0)
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockRepo) GetByRideAndPassenger(ctx context.Context, rideID, passengerID uuid.UUID) (*models.Booking, error) {
	args := m.Called(ctx, rideID, passengerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockRepo) GetByIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockRepo) ListByPassenger(ctx context.Context, passengerID uuid.UUID, limit, offset int) ([]*models.Booking, int64, error) {
	args := m.Called(ctx, passengerID, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*models.Booking), args.Get(1).(int64), args.Error(2)
}

func (m *mockRepo) ListByRide(ctx context.Context, rideID uuid.UUID) ([]*models.Booking, error) {
	args := m.Called(ctx, rideID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func (m *mockRepo) ListActiveByRideTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID) ([]*models.Booking, error) {
	args := m.Called(ctx, tx, rideID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}

func (m *mockRepo) TransitionTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from, to models.BookingStatus) error {
	args := m.Called(ctx, tx, bookingID, from, to)
	return args.Error(0)
}

func (m *mockRepo) UpdatePending(ctx context.Context, booking *models.Booking) error {
	args := m.Called(ctx, booking)
	return args.Error(0)
}

func (m *mockRepo) CreateTx(ctx context.Context, tx pgx.Tx, booking *models.Booking) error {
	args := m.Called(ctx, tx, booking)
	return args.Error(0)
}

func (m *mockRepo) SetPaidTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, amount int64, method models.PaymentMethod, intentID *string) error {
	args := m.Called(ctx, tx, bookingID, amount, method, intentID)
	return args.Error(0)
}

func (m *mockRepo) MarkRefundedTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, refundID *string, reason models.RefundReason) error {
	args := m.Called(ctx, tx, bookingID, refundID, reason)
	return args.Error(0)
}

func (m *mockRepo) CancelRideTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID) error {
	args := m.Called(ctx, tx, rideID)
	return args.Error(0)
}

func (m *mockRepo) GetRideForUpdateTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID) (*models.Ride, error) {
	args := m.Called(ctx, tx, rideID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ride), args.Error(1)
}

type mockCapacity struct {
	mock.Mock
}

func (m *mockCapacity) ReserveTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID, seats, luggage int) error {
	args := m.Called(ctx, tx, rideID, seats, luggage)
	return args.Error(0)
}

func (m *mockCapacity) ReleaseTx(ctx context.Context, tx pgx.Tx, rideID uuid.UUID, seats, luggage int) error {
	args := m.Called(ctx, tx, rideID, seats, luggage)
	return args.Error(0)
}

type mockLedgerStore struct {
	mock.Mock
}

func (m *mockLedgerStore) ApplyLedger(ctx context.Context, tx pgx.Tx, txn *models.Transaction) error {
	args := m.Called(ctx, tx, txn)
	return args.Error(0)
}

func (m *mockLedgerStore) Append(ctx context.Context, txn *models.Transaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *mockLedgerStore) GetEarningByReference(ctx context.Context, refKind models.ReferenceKind, refID uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, refKind, refID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

type mockPaymentGateway struct {
	mock.Mock
}

func (m *mockPaymentGateway) GetIntent(ctx context.Context, intentID string) (*payments.Intent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Intent), args.Error(1)
}

func (m *mockPaymentGateway) Refund(ctx context.Context, intentID string, reverseTransfer, refundApplicationFee bool) (*payments.RefundResult, error) {
	args := m.Called(ctx, intentID, reverseTransfer, refundApplicationFee)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.RefundResult), args.Error(1)
}

type mockRideSource struct {
	mock.Mock
}

func (m *mockRideSource) GetRideByID(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
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

type engineFixture struct {
	repo     *mockRepo
	capacity *mockCapacity
	ledger   *mockLedgerStore
	gateway  *mockPaymentGateway
	rides    *mockRideSource
	notifier *recordingNotifier
	engine   *Engine
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		repo:     new(mockRepo),
		capacity: new(mockCapacity),
		ledger:   new(mockLedgerStore),
		gateway:  new(mockPaymentGateway),
		rides:    new(mockRideSource),
		notifier: &recordingNotifier{},
	}
	f.engine = NewEngine(f.repo, f.capacity, f.ledger, f.gateway, f.rides, f.notifier,
		clock.NewMock(testNow), 10, "eur")
	return f
}

func activeRide(driverID uuid.UUID) *models.Ride {
	return &models.Ride{
		ID:           uuid.New(),
		DriverID:     driverID,
		Status:       models.RideStatusActive,
		DepartureAt:  testNow.Add(48 * time.Hour),
		SeatsLeft:    3,
		LuggageLeft:  2,
		PricePerSeat: 2000,
		Currency:     "eur",
	}
}

func TestCreateBooking(t *testing.T) {
	driverID := uuid.New()
	passengerID := uuid.New()

	t.Run("creates pending booking and notifies driver", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Create", mock.Anything, mock.AnythingOfType("*models.Booking")).Return(nil)

		booking, err := f.engine.CreateBooking(context.Background(), passengerID, ride.ID,
			&models.CreateBookingRequest{Seats: 2, Luggage: 1})

		require.NoError(t, err)
		assert.Equal(t, 2, booking.Seats)
		require.Len(t, f.notifier.sent, 1)
		assert.Equal(t, driverID, f.notifier.sent[0].userID)
		assert.Equal(t, models.NotifBookingRequest, f.notifier.sent[0].kind)
	})

	t.Run("rejects booking own ride", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		_, err := f.engine.CreateBooking(context.Background(), driverID, ride.ID,
			&models.CreateBookingRequest{Seats: 1})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeValidation, appErr.ErrorCode)
	})

	t.Run("rejects more seats than available", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		_, err := f.engine.CreateBooking(context.Background(), passengerID, ride.ID,
			&models.CreateBookingRequest{Seats: 4})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeInsufficientSeats, appErr.ErrorCode)
	})

	t.Run("rejects departed ride", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		ride.DepartureAt = testNow.Add(-time.Hour)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		_, err := f.engine.CreateBooking(context.Background(), passengerID, ride.ID,
			&models.CreateBookingRequest{Seats: 1})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeStateError, appErr.ErrorCode)
	})
}

func TestUpdateBooking(t *testing.T) {
	driverID := uuid.New()
	passengerID := uuid.New()

	pendingBooking := func(rideID uuid.UUID) *models.Booking {
		return &models.Booking{
			ID: uuid.New(), RideID: rideID, PassengerID: passengerID,
			Seats: 1, Luggage: 0, Status: models.BookingStatusPending,
		}
	}

	t.Run("changes seats while pending and renotifies the driver", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		booking := pendingBooking(ride.ID)
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("UpdatePending", mock.Anything, booking).Return(nil)

		seats := 2
		got, err := f.engine.UpdateBooking(context.Background(), passengerID, booking.ID,
			&models.UpdateBookingRequest{Seats: &seats})

		require.NoError(t, err)
		assert.Equal(t, 2, got.Seats)
		require.Len(t, f.notifier.sent, 1)
		assert.Equal(t, driverID, f.notifier.sent[0].userID)
		assert.Equal(t, models.NotifBookingRequest, f.notifier.sent[0].kind)
	})

	t.Run("rejects seats beyond remaining capacity", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		booking := pendingBooking(ride.ID)
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		seats := ride.SeatsLeft + 1
		_, err := f.engine.UpdateBooking(context.Background(), passengerID, booking.ID,
			&models.UpdateBookingRequest{Seats: &seats})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeInsufficientSeats, appErr.ErrorCode)
		f.repo.AssertNotCalled(t, "UpdatePending", mock.Anything, mock.Anything)
	})

	t.Run("rejects an accepted booking", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		booking := pendingBooking(ride.ID)
		booking.Status = models.BookingStatusAccepted
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)

		seats := 2
		_, err := f.engine.UpdateBooking(context.Background(), passengerID, booking.ID,
			&models.UpdateBookingRequest{Seats: &seats})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeStateError, appErr.ErrorCode)
	})

	t.Run("rejects anyone but the passenger", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		booking := pendingBooking(ride.ID)
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)

		seats := 2
		_, err := f.engine.UpdateBooking(context.Background(), driverID, booking.ID,
			&models.UpdateBookingRequest{Seats: &seats})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeForbidden, appErr.ErrorCode)
	})
}

func TestAcceptBooking(t *testing.T) {
	driverID := uuid.New()
	passengerID := uuid.New()

	t.Run("reserves capacity and flips status atomically", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		booking := &models.Booking{
			ID: uuid.New(), RideID: ride.ID, PassengerID: passengerID,
			Seats: 2, Luggage: 1, Status: models.BookingStatusPending,
		}
		tx := &stubTx{}
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.capacity.On("ReserveTx", mock.Anything, tx, ride.ID, 2, 1).Return(nil)
		f.repo.On("TransitionTx", mock.Anything, tx, booking.ID,
			models.BookingStatusPending, models.BookingStatusAccepted).Return(nil)

		got, warnings, err := f.engine.Transition(context.Background(), driverID, booking.ID,
			&models.BookingTransitionRequest{Status: models.BookingStatusAccepted})

		require.NoError(t, err)
		assert.Empty(t, warnings)
		assert.Equal(t, models.BookingStatusAccepted, got.Status)
		assert.True(t, tx.committed)
		require.Len(t, f.notifier.sent, 1)
		assert.Equal(t, passengerID, f.notifier.sent[0].userID)
		assert.Equal(t, models.NotifBookingAccepted, f.notifier.sent[0].kind)
	})

	t.Run("capacity failure rolls back without status change", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		booking := &models.Booking{
			ID: uuid.New(), RideID: ride.ID, PassengerID: passengerID,
			Seats: 3, Status: models.BookingStatusPending,
		}
		tx := &stubTx{}
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.capacity.On("ReserveTx", mock.Anything, tx, ride.ID, 3, 0).
			Return(common.NewCapacityError(common.CodeInsufficientSeats, "only 1 seats left", common.ErrInsufficientSeats))

		_, _, err := f.engine.Transition(context.Background(), driverID, booking.ID,
			&models.BookingTransitionRequest{Status: models.BookingStatusAccepted})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeInsufficientSeats, appErr.ErrorCode)
		assert.True(t, tx.rolledBack)
		f.repo.AssertNotCalled(t, "TransitionTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.Empty(t, f.notifier.sent)
	})

	t.Run("only driver can accept", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		booking := &models.Booking{
			ID: uuid.New(), RideID: ride.ID, PassengerID: passengerID,
			Seats: 1, Status: models.BookingStatusPending,
		}
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		_, _, err := f.engine.Transition(context.Background(), passengerID, booking.ID,
			&models.BookingTransitionRequest{Status: models.BookingStatusAccepted})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeForbidden, appErr.ErrorCode)
	})
}

func TestPassengerCancel(t *testing.T) {
	driverID := uuid.New()
	passengerID := uuid.New()

	t.Run("accepted booking releases capacity inside the cancel window", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		booking := &models.Booking{
			ID: uuid.New(), RideID: ride.ID, PassengerID: passengerID,
			Seats: 2, Luggage: 1, Status: models.BookingStatusAccepted,
			PaymentStatus: models.PaymentStatusUnpaid,
		}
		tx := &stubTx{}
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.repo.On("TransitionTx", mock.Anything, tx, booking.ID,
			models.BookingStatusAccepted, models.BookingStatusCancelled).Return(nil)
		f.capacity.On("ReleaseTx", mock.Anything, tx, ride.ID, 2, 1).Return(nil)

		got, warnings, err := f.engine.Transition(context.Background(), passengerID, booking.ID,
			&models.BookingTransitionRequest{Status: models.BookingStatusCancelled})

		require.NoError(t, err)
		assert.Empty(t, warnings)
		assert.Equal(t, models.BookingStatusCancelled, got.Status)
		f.capacity.AssertExpectations(t)
		require.Len(t, f.notifier.sent, 1)
		assert.Equal(t, driverID, f.notifier.sent[0].userID)
		assert.Equal(t, models.NotifBookingCancelled, f.notifier.sent[0].kind)
	})

	t.Run("accepted booking cannot cancel under 24 hours before departure", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		ride.DepartureAt = testNow.Add(12 * time.Hour)
		booking := &models.Booking{
			ID: uuid.New(), RideID: ride.ID, PassengerID: passengerID,
			Seats: 1, Status: models.BookingStatusAccepted,
		}
		tx := &stubTx{}
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Begin", mock.Anything).Return(tx, nil)

		_, _, err := f.engine.Transition(context.Background(), passengerID, booking.ID,
			&models.BookingTransitionRequest{Status: models.BookingStatusCancelled})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeStateError, appErr.ErrorCode)
		assert.True(t, tx.rolledBack)
	})

	t.Run("paid card booking refunds after cancel", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		intentID := "pi_cancel_1"
		booking := &models.Booking{
			ID: uuid.New(), RideID: ride.ID, PassengerID: passengerID,
			Seats: 1, Status: models.BookingStatusAccepted,
			AmountPaid: 4000, PaymentStatus: models.PaymentStatusPaid,
			PaymentMethod: models.PaymentMethodCard, PSPIntentID: &intentID,
		}
		tx := &stubTx{}
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.repo.On("TransitionTx", mock.Anything, tx, booking.ID,
			models.BookingStatusAccepted, models.BookingStatusCancelled).Return(nil)
		f.capacity.On("ReleaseTx", mock.Anything, tx, ride.ID, 1, 0).Return(nil)
		earning := &models.Transaction{UserID: driverID, Amount: 3600}
		f.ledger.On("GetEarningByReference", mock.Anything, models.RefBooking, booking.ID).Return(earning, nil)
		f.gateway.On("Refund", mock.Anything, intentID, false, true).
			Return(&payments.RefundResult{RefundID: "re_1", Amount: 4000}, nil)
		refundID := "re_1"
		f.repo.On("MarkRefundedTx", mock.Anything, tx, booking.ID, &refundID, models.RefundPassengerCancelled).Return(nil)
		f.ledger.On("Append", mock.Anything, mock.MatchedBy(func(txn *models.Transaction) bool {
			return txn.Kind == models.TxRefund && txn.Amount == 4000 && txn.UserID == passengerID
		})).Return(nil)
		f.ledger.On("Append", mock.Anything, mock.MatchedBy(func(txn *models.Transaction) bool {
			return txn.Kind == models.TxRefund && txn.Amount == -3600 && txn.UserID == driverID
		})).Return(nil)

		_, warnings, err := f.engine.Transition(context.Background(), passengerID, booking.ID,
			&models.BookingTransitionRequest{Status: models.BookingStatusCancelled})

		require.NoError(t, err)
		assert.Empty(t, warnings)
		f.gateway.AssertExpectations(t)
		f.ledger.AssertExpectations(t)
	})

	t.Run("card refund credits passenger wallet for the gross amount", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		intentID := "pi_cancel_3"
		booking := &models.Booking{
			ID: uuid.New(), RideID: ride.ID, PassengerID: passengerID,
			Seats: 2, Status: models.BookingStatusAccepted,
			AmountPaid: 4000, PaymentStatus: models.PaymentStatusPaid,
			PaymentMethod: models.PaymentMethodCard, PSPIntentID: &intentID,
		}
		tx := &stubTx{}
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.repo.On("TransitionTx", mock.Anything, tx, booking.ID,
			models.BookingStatusAccepted, models.BookingStatusCancelled).Return(nil)
		f.capacity.On("ReleaseTx", mock.Anything, tx, ride.ID, 2, 0).Return(nil)
		// Split charge: no internal earning, so the PSP reverses the
		// transfer but the passenger credit still lands in the ledger.
		f.ledger.On("GetEarningByReference", mock.Anything, models.RefBooking, booking.ID).Return(nil, nil)
		f.gateway.On("Refund", mock.Anything, intentID, true, true).
			Return(&payments.RefundResult{RefundID: "re_3", Amount: 4000}, nil)
		refundID := "re_3"
		f.repo.On("MarkRefundedTx", mock.Anything, tx, booking.ID, &refundID, models.RefundPassengerCancelled).Return(nil)
		f.ledger.On("Append", mock.Anything, mock.AnythingOfType("*models.Transaction")).Return(nil)

		_, warnings, err := f.engine.Transition(context.Background(), passengerID, booking.ID,
			&models.BookingTransitionRequest{Status: models.BookingStatusCancelled})

		require.NoError(t, err)
		assert.Empty(t, warnings)
		require.Len(t, f.ledger.Calls, 2)
		credit := f.ledger.Calls[1].Arguments.Get(1).(*models.Transaction)
		assert.Equal(t, passengerID, credit.UserID)
		assert.Equal(t, models.TxRefund, credit.Kind)
		assert.Equal(t, int64(4000), credit.Amount)
		assert.Equal(t, models.TxStatusCompleted, credit.Status)
		require.NotNil(t, credit.PSPIntentID)
		assert.Equal(t, intentID, *credit.PSPIntentID)
	})

	t.Run("refund failure surfaces as warning not error", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		intentID := "pi_cancel_2"
		booking := &models.Booking{
			ID: uuid.New(), RideID: ride.ID, PassengerID: passengerID,
			Seats: 1, Status: models.BookingStatusPending,
			AmountPaid: 2000, PaymentStatus: models.PaymentStatusPaid,
			PaymentMethod: models.PaymentMethodCard, PSPIntentID: &intentID,
		}
		tx := &stubTx{}
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.repo.On("TransitionTx", mock.Anything, tx, booking.ID,
			models.BookingStatusPending, models.BookingStatusCancelled).Return(nil)
		f.ledger.On("GetEarningByReference", mock.Anything, models.RefBooking, booking.ID).Return(nil, nil)
		f.gateway.On("Refund", mock.Anything, intentID, true, true).
			Return(nil, common.NewServiceUnavailableError("payments are temporarily unavailable, please try again"))

		got, warnings, err := f.engine.Transition(context.Background(), passengerID, booking.ID,
			&models.BookingTransitionRequest{Status: models.BookingStatusCancelled})

		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusCancelled, got.Status)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "refund")
	})

	t.Run("only passenger can cancel", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		booking := &models.Booking{
			ID: uuid.New(), RideID: ride.ID, PassengerID: passengerID,
			Seats: 1, Status: models.BookingStatusPending,
		}
		f.repo.On("GetByID", mock.Anything, booking.ID).Return(booking, nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		_, _, err := f.engine.Transition(context.Background(), driverID, booking.ID,
			&models.BookingTransitionRequest{Status: models.BookingStatusCancelled})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeForbidden, appErr.ErrorCode)
	})
}

func TestCompletePayment(t *testing.T) {
	driverID := uuid.New()
	passengerID := uuid.New()

	intentFor := func(ride *models.Ride, seats int) *payments.Intent {
		return &payments.Intent{
			ID:     "pi_pay_1",
			Status: "succeeded",
			Amount: ride.PricePerSeat * int64(seats),
			Metadata: map[string]string{
				"kind":         "booking",
				"ride_id":      ride.ID.String(),
				"passenger_id": passengerID.String(),
				"seats":        "2",
				"luggage":      "1",
			},
		}
	}

	t.Run("upgrades pending booking to accepted and paid", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		intent := intentFor(ride, 2)
		booking := &models.Booking{
			ID: uuid.New(), RideID: ride.ID, PassengerID: passengerID,
			Seats: 2, Luggage: 1, Status: models.BookingStatusPending,
		}
		tx := &stubTx{}
		f.gateway.On("GetIntent", mock.Anything, "pi_pay_1").Return(intent, nil)
		f.repo.On("GetByIntentID", mock.Anything, "pi_pay_1").Return(nil, common.NewNotFoundError("booking not found", common.ErrNotFound))
		f.repo.On("GetByRideAndPassenger", mock.Anything, ride.ID, passengerID).Return(booking, nil)
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.capacity.On("ReserveTx", mock.Anything, tx, ride.ID, 2, 1).Return(nil)
		f.repo.On("TransitionTx", mock.Anything, tx, booking.ID,
			models.BookingStatusPending, models.BookingStatusAccepted).Return(nil)
		intentID := "pi_pay_1"
		f.repo.On("SetPaidTx", mock.Anything, tx, booking.ID, int64(4000), models.PaymentMethodCard, &intentID).Return(nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		got, err := f.engine.CompletePayment(context.Background(), passengerID, "pi_pay_1")

		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusAccepted, got.Status)
		assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
		assert.Equal(t, int64(4000), got.AmountPaid)
		assert.True(t, tx.committed)
	})

	t.Run("creates booking when none exists", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		intent := intentFor(ride, 2)
		tx := &stubTx{}
		f.gateway.On("GetIntent", mock.Anything, "pi_pay_1").Return(intent, nil)
		f.repo.On("GetByIntentID", mock.Anything, "pi_pay_1").Return(nil, common.NewNotFoundError("booking not found", common.ErrNotFound))
		f.repo.On("GetByRideAndPassenger", mock.Anything, ride.ID, passengerID).
			Return(nil, common.NewNotFoundError("booking not found", common.ErrNotFound))
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.capacity.On("ReserveTx", mock.Anything, tx, ride.ID, 2, 1).Return(nil)
		f.repo.On("CreateTx", mock.Anything, tx, mock.MatchedBy(func(b *models.Booking) bool {
			return b.Status == models.BookingStatusAccepted &&
				b.PaymentStatus == models.PaymentStatusPaid &&
				b.PaymentMethod == models.PaymentMethodCard
		})).Return(nil)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		_, err := f.engine.CompletePayment(context.Background(), passengerID, "pi_pay_1")
		require.NoError(t, err)
	})

	t.Run("capacity race refunds the charge", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		intent := intentFor(ride, 2)
		tx := &stubTx{}
		f.gateway.On("GetIntent", mock.Anything, "pi_pay_1").Return(intent, nil)
		f.repo.On("GetByIntentID", mock.Anything, "pi_pay_1").Return(nil, common.NewNotFoundError("booking not found", common.ErrNotFound))
		f.repo.On("GetByRideAndPassenger", mock.Anything, ride.ID, passengerID).
			Return(nil, common.NewNotFoundError("booking not found", common.ErrNotFound))
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.capacity.On("ReserveTx", mock.Anything, tx, ride.ID, 2, 1).
			Return(common.NewCapacityError(common.CodeInsufficientSeats, "only 1 seats left", common.ErrInsufficientSeats))
		f.gateway.On("Refund", mock.Anything, "pi_pay_1", false, true).
			Return(&payments.RefundResult{RefundID: "re_race", Amount: 4000}, nil)

		_, err := f.engine.CompletePayment(context.Background(), passengerID, "pi_pay_1")

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeInsufficientSeats, appErr.ErrorCode)
		assert.Contains(t, appErr.Message, "payment refunded")
		f.gateway.AssertExpectations(t)
	})

	t.Run("replayed intent returns existing booking", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		intent := intentFor(ride, 2)
		existing := &models.Booking{ID: uuid.New(), Status: models.BookingStatusAccepted}
		f.gateway.On("GetIntent", mock.Anything, "pi_pay_1").Return(intent, nil)
		f.repo.On("GetByIntentID", mock.Anything, "pi_pay_1").Return(existing, nil)

		got, err := f.engine.CompletePayment(context.Background(), passengerID, "pi_pay_1")

		require.NoError(t, err)
		assert.Equal(t, existing.ID, got.ID)
		f.repo.AssertNotCalled(t, "Begin", mock.Anything)
	})

	t.Run("unsettled intent is rejected", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		intent := intentFor(ride, 2)
		intent.Status = "requires_payment_method"
		f.gateway.On("GetIntent", mock.Anything, "pi_pay_1").Return(intent, nil)

		_, err := f.engine.CompletePayment(context.Background(), passengerID, "pi_pay_1")

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodePaymentError, appErr.ErrorCode)
	})

	t.Run("intent for another passenger is rejected", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		intent := intentFor(ride, 2)
		f.gateway.On("GetIntent", mock.Anything, "pi_pay_1").Return(intent, nil)

		_, err := f.engine.CompletePayment(context.Background(), uuid.New(), "pi_pay_1")

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeForbidden, appErr.ErrorCode)
	})
}

func TestPayWithWallet(t *testing.T) {
	driverID := uuid.New()
	passengerID := uuid.New()

	t.Run("debit, credit, reserve and booking share one transaction", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		tx := &stubTx{}
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.repo.On("CreateTx", mock.Anything, tx, mock.AnythingOfType("*models.Booking")).
			Run(func(args mock.Arguments) {
				args.Get(2).(*models.Booking).ID = uuid.New()
			}).Return(nil)
		f.capacity.On("ReserveTx", mock.Anything, tx, ride.ID, 2, 1).Return(nil)
		f.ledger.On("ApplyLedger", mock.Anything, tx, mock.MatchedBy(func(txn *models.Transaction) bool {
			return txn.Kind == models.TxRidePayment && txn.Amount == -4000 && txn.UserID == passengerID
		})).Return(nil)
		f.ledger.On("ApplyLedger", mock.Anything, tx, mock.MatchedBy(func(txn *models.Transaction) bool {
			return txn.Kind == models.TxRideEarning && txn.Amount == 3600 &&
				txn.FeeAmount == 400 && txn.UserID == driverID
		})).Return(nil)

		booking, err := f.engine.PayWithWallet(context.Background(), passengerID, ride.ID,
			&models.CreateBookingRequest{Seats: 2, Luggage: 1})

		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusAccepted, booking.Status)
		assert.Equal(t, models.PaymentMethodWallet, booking.PaymentMethod)
		assert.Equal(t, int64(4000), booking.AmountPaid)
		assert.True(t, tx.committed)
		f.ledger.AssertExpectations(t)
	})

	t.Run("insufficient balance rolls everything back", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		tx := &stubTx{}
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.repo.On("CreateTx", mock.Anything, tx, mock.AnythingOfType("*models.Booking")).Return(nil)
		f.capacity.On("ReserveTx", mock.Anything, tx, ride.ID, 1, 0).Return(nil)
		f.ledger.On("ApplyLedger", mock.Anything, tx, mock.MatchedBy(func(txn *models.Transaction) bool {
			return txn.Kind == models.TxRidePayment
		})).Return(common.NewPaymentError("insufficient wallet balance", common.ErrInsufficientBalance))

		_, err := f.engine.PayWithWallet(context.Background(), passengerID, ride.ID,
			&models.CreateBookingRequest{Seats: 1})

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodePaymentError, appErr.ErrorCode)
		assert.True(t, tx.rolledBack)
		assert.Empty(t, f.notifier.sent)
	})
}

func TestCancelRide(t *testing.T) {
	driverID := uuid.New()

	t.Run("cascades to bookings and refunds wallet payments", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		passengerID := uuid.New()
		booking := &models.Booking{
			ID: uuid.New(), RideID: ride.ID, PassengerID: passengerID,
			Seats: 2, Status: models.BookingStatusAccepted,
			AmountPaid: 4000, PaymentStatus: models.PaymentStatusPaid,
			PaymentMethod: models.PaymentMethodWallet,
		}
		tx := &stubTx{}
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.repo.On("CancelRideTx", mock.Anything, tx, ride.ID).Return(nil)
		f.repo.On("ListActiveByRideTx", mock.Anything, tx, ride.ID).Return([]*models.Booking{booking}, nil)
		f.repo.On("TransitionTx", mock.Anything, tx, booking.ID,
			models.BookingStatusAccepted, models.BookingStatusCancelled).Return(nil)
		f.ledger.On("ApplyLedger", mock.Anything, mock.Anything, mock.MatchedBy(func(txn *models.Transaction) bool {
			return txn.Kind == models.TxRefund && txn.Amount == 4000 && txn.UserID == passengerID
		})).Return(nil)
		f.repo.On("MarkRefundedTx", mock.Anything, mock.Anything, booking.ID, (*string)(nil), models.RefundRideCancelled).Return(nil)
		earning := &models.Transaction{UserID: driverID, Amount: 3600}
		f.ledger.On("GetEarningByReference", mock.Anything, models.RefBooking, booking.ID).Return(earning, nil)
		f.ledger.On("Append", mock.Anything, mock.MatchedBy(func(txn *models.Transaction) bool {
			return txn.Kind == models.TxRefund && txn.Amount == -3600
		})).Return(nil)

		got, warnings, err := f.engine.CancelRide(context.Background(), driverID, ride.ID)

		require.NoError(t, err)
		assert.Equal(t, models.RideStatusCancelled, got.Status)
		assert.Empty(t, warnings)
		require.Len(t, f.notifier.sent, 1)
		assert.Equal(t, passengerID, f.notifier.sent[0].userID)
		assert.Equal(t, models.NotifRideCancelled, f.notifier.sent[0].kind)
	})

	t.Run("cannot cancel under 12 hours before departure", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		ride.DepartureAt = testNow.Add(6 * time.Hour)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		_, _, err := f.engine.CancelRide(context.Background(), driverID, ride.ID)

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeStateError, appErr.ErrorCode)
	})

	t.Run("refund failure leaves cancellation committed with warning", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		passengerID := uuid.New()
		intentID := "pi_ride_cancel"
		booking := &models.Booking{
			ID: uuid.New(), RideID: ride.ID, PassengerID: passengerID,
			Seats: 1, Status: models.BookingStatusAccepted,
			AmountPaid: 2000, PaymentStatus: models.PaymentStatusPaid,
			PaymentMethod: models.PaymentMethodCard, PSPIntentID: &intentID,
		}
		tx := &stubTx{}
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)
		f.repo.On("Begin", mock.Anything).Return(tx, nil)
		f.repo.On("CancelRideTx", mock.Anything, tx, ride.ID).Return(nil)
		f.repo.On("ListActiveByRideTx", mock.Anything, tx, ride.ID).Return([]*models.Booking{booking}, nil)
		f.repo.On("TransitionTx", mock.Anything, tx, booking.ID,
			models.BookingStatusAccepted, models.BookingStatusCancelled).Return(nil)
		f.ledger.On("GetEarningByReference", mock.Anything, models.RefBooking, booking.ID).Return(nil, nil)
		f.gateway.On("Refund", mock.Anything, intentID, true, true).
			Return(nil, common.NewServiceUnavailableError("payments are temporarily unavailable, please try again"))

		got, warnings, err := f.engine.CancelRide(context.Background(), driverID, ride.ID)

		require.NoError(t, err)
		assert.Equal(t, models.RideStatusCancelled, got.Status)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "refund")
	})

	t.Run("only owner can cancel", func(t *testing.T) {
		f := newEngineFixture()
		ride := activeRide(driverID)
		f.rides.On("GetRideByID", mock.Anything, ride.ID).Return(ride, nil)

		_, _, err := f.engine.CancelRide(context.Background(), uuid.New(), ride.ID)

		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, common.CodeForbidden, appErr.ErrorCode)
	})
}
