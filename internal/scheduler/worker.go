package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/eventbus"
	"github.com/aeroride/carpool/pkg/logger"
	"github.com/aeroride/carpool/pkg/models"
)

const (
	// tickInterval is how often maintenance passes run.
	tickInterval = 5 * time.Minute
	// ratingPromptDelay is how long after departure rating prompts go out.
	ratingPromptDelay = 30 * time.Minute
)

// Notifier delivers in-app notifications. Rating prompts dedupe per
// (user, booking) at the persistence layer, so re-emitting is harmless.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind models.NotificationKind, payload models.NotificationPayload)
}

// RequestExpirer sweeps pending ride requests past their expiry.
type RequestExpirer interface {
	ExpireRequests(ctx context.Context) (int64, error)
}

// Worker runs the periodic maintenance passes: rating prompts for rides that
// departed half an hour ago and the request expiry sweep.
type Worker struct {
	db       *pgxpool.Pool
	requests RequestExpirer
	notifier Notifier
	eventBus *eventbus.Bus
	clock    clock.Clock
	done     chan struct{}
}

// NewWorker creates a new scheduler worker
func NewWorker(db *pgxpool.Pool, requests RequestExpirer, notifier Notifier, clk clock.Clock) *Worker {
	return &Worker{
		db:       db,
		requests: requests,
		notifier: notifier,
		clock:    clk,
		done:     make(chan struct{}),
	}
}

// SetEventBus sets the NATS event bus for publishing rating prompts.
func (w *Worker) SetEventBus(bus *eventbus.Bus) {
	w.eventBus = bus
}

// publishEvent publishes an event asynchronously; a nil bus is a no-op.
func (w *Worker) publishEvent(subject string, data interface{}) {
	if w.eventBus == nil {
		return
	}
	go func() {
		evt, err := eventbus.NewEvent(subject, "scheduler", data)
		if err != nil {
			logger.Warn("failed to create scheduler event", zap.String("subject", subject), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.eventBus.Publish(ctx, subject, evt); err != nil {
			logger.Warn("failed to publish scheduler event", zap.String("subject", subject), zap.Error(err))
		}
	}()
}

// Start begins the maintenance loop. It blocks until the context is cancelled
// or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	logger.Info("starting scheduler worker")

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// Run immediately on start.
	w.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			w.runOnce(ctx)
		case <-ctx.Done():
			logger.Info("scheduler worker stopped")
			return
		case <-w.done:
			logger.Info("scheduler worker shutdown requested")
			return
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	close(w.done)
}

func (w *Worker) runOnce(ctx context.Context) {
	w.promptRatings(ctx)
	w.expireRequests(ctx)
}

// ratingCandidate is an accepted booking whose ride just crossed the rating
// window, with per-direction rated flags.
type ratingCandidate struct {
	BookingID      uuid.UUID
	RideID         uuid.UUID
	PassengerID    uuid.UUID
	DriverID       uuid.UUID
	PassengerRated bool
	DriverRated    bool
}

// promptRatings emits rate_driver / rate_passenger notifications for rides
// whose departure fell into the window one tick ago. The window is one tick
// wide; the notification dedupe index absorbs overlapping passes.
func (w *Worker) promptRatings(ctx context.Context) {
	now := w.clock.Now()
	windowEnd := now.Add(-ratingPromptDelay)
	windowStart := windowEnd.Add(-tickInterval)

	rows, err := w.db.Query(ctx, `
		SELECT b.id, b.ride_id, b.passenger_id, r.driver_id,
		       EXISTS (
			SELECT 1 FROM ratings rt
			WHERE rt.booking_id = b.id AND rt.from_user_id = b.passenger_id
		       ),
		       EXISTS (
			SELECT 1 FROM ratings rt
			WHERE rt.booking_id = b.id AND rt.from_user_id = r.driver_id
		       )
		FROM bookings b
		JOIN rides r ON r.id = b.ride_id
		WHERE r.status = 'active'
		  AND b.status = 'accepted'
		  AND r.departure_at > $1 AND r.departure_at <= $2
	`, windowStart, windowEnd)
	if err != nil {
		logger.ErrorContext(ctx, "failed to query rating candidates", zap.Error(err))
		return
	}
	defer rows.Close()

	candidates := []ratingCandidate{}
	for rows.Next() {
		var c ratingCandidate
		err := rows.Scan(&c.BookingID, &c.RideID, &c.PassengerID, &c.DriverID,
			&c.PassengerRated, &c.DriverRated)
		if err != nil {
			logger.ErrorContext(ctx, "failed to scan rating candidate", zap.Error(err))
			return
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		logger.ErrorContext(ctx, "failed to iterate rating candidates", zap.Error(err))
		return
	}

	for _, c := range candidates {
		bookingID, rideID := c.BookingID, c.RideID
		if !c.PassengerRated {
			driverID := c.DriverID
			w.notifier.Notify(ctx, c.PassengerID, models.NotifRateDriver, models.NotificationPayload{
				BookingID: &bookingID,
				RideID:    &rideID,
				ActorID:   &driverID,
			})
			w.publishEvent(eventbus.SubjectRatingPrompt, eventbus.RatingEventData{
				BookingID:  bookingID,
				RideID:     rideID,
				FromUserID: c.PassengerID,
				ToUserID:   driverID,
				OccurredAt: now,
			})
		}
		if !c.DriverRated {
			passengerID := c.PassengerID
			w.notifier.Notify(ctx, c.DriverID, models.NotifRatePassenger, models.NotificationPayload{
				BookingID: &bookingID,
				RideID:    &rideID,
				ActorID:   &passengerID,
			})
			w.publishEvent(eventbus.SubjectRatingPrompt, eventbus.RatingEventData{
				BookingID:  bookingID,
				RideID:     rideID,
				FromUserID: c.DriverID,
				ToUserID:   passengerID,
				OccurredAt: now,
			})
		}
	}

	if len(candidates) > 0 {
		logger.InfoContext(ctx, "emitted rating prompts", zap.Int("bookings", len(candidates)))
	}
}

func (w *Worker) expireRequests(ctx context.Context) {
	n, err := w.requests.ExpireRequests(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to expire requests", zap.Error(err))
		return
	}
	if n > 0 {
		logger.InfoContext(ctx, "expired stale ride requests", zap.Int64("count", n))
	}
}
