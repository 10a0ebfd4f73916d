package ratings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/pkg/cache"
	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/eventbus"
	"github.com/aeroride/carpool/pkg/logger"
	"github.com/aeroride/carpool/pkg/models"
)

// ratingWindowDelay is how long after departure a booking becomes rateable.
const ratingWindowDelay = 30 * time.Minute

// Service handles post-trip ratings. A booking becomes rateable 30 minutes
// after its ride departed and each participant may rate it once, in their
// direction only.
type Service struct {
	repo     RepositoryInterface
	bookings BookingReader
	rides    RideReader
	cache    *cache.Manager
	notifier Notifier
	eventBus *eventbus.Bus
	clock    clock.Clock
}

// NewService creates a new ratings service
func NewService(repo RepositoryInterface, bookings BookingReader, rides RideReader, cacheManager *cache.Manager, notifier Notifier, clk clock.Clock) *Service {
	return &Service{
		repo:     repo,
		bookings: bookings,
		rides:    rides,
		cache:    cacheManager,
		notifier: notifier,
		clock:    clk,
	}
}

// SetEventBus sets the NATS event bus for publishing rating events.
func (s *Service) SetEventBus(bus *eventbus.Bus) {
	s.eventBus = bus
}

// publishEvent publishes an event asynchronously; a nil bus is a no-op.
func (s *Service) publishEvent(subject string, data interface{}) {
	if s.eventBus == nil {
		return
	}
	go func() {
		evt, err := eventbus.NewEvent(subject, "ratings", data)
		if err != nil {
			logger.Warn("failed to create rating event", zap.String("subject", subject), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.eventBus.Publish(ctx, subject, evt); err != nil {
			logger.Warn("failed to publish rating event", zap.String("subject", subject), zap.Error(err))
		}
	}()
}

// direction resolves the rating direction for an actor on a booking. A nil
// result means the actor is not a participant.
func direction(actorID uuid.UUID, booking *models.Booking, ride *models.Ride) (models.RatingType, uuid.UUID, bool) {
	switch actorID {
	case booking.PassengerID:
		return models.RatingPassengerToDriver, ride.DriverID, true
	case ride.DriverID:
		return models.RatingDriverToPassenger, booking.PassengerID, true
	}
	return "", uuid.Nil, false
}

// CanRate reports whether the user may rate the booking right now. Ineligible
// states come back as a reason, not an error; only missing bookings and
// non-participants error out.
func (s *Service) CanRate(ctx context.Context, userID, bookingID uuid.UUID) (*models.CanRateResult, error) {
	booking, ride, _, _, err := s.loadParticipants(ctx, userID, bookingID)
	if err != nil {
		return nil, err
	}

	if booking.Status != models.BookingStatusAccepted {
		return &models.CanRateResult{Reason: "only accepted bookings can be rated"}, nil
	}
	if s.clock.Now().Before(ride.DepartureAt.Add(ratingWindowDelay)) {
		return &models.CanRateResult{Reason: "rating opens 30 minutes after departure"}, nil
	}

	rated, err := s.repo.HasRated(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	if rated {
		return &models.CanRateResult{Reason: "you have already rated this booking"}, nil
	}
	return &models.CanRateResult{CanRate: true}, nil
}

// Submit records a rating, updates the target's aggregate and notifies them.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, req *models.SubmitRatingRequest) (*models.Rating, error) {
	booking, ride, ratingType, toUserID, err := s.loadParticipants(ctx, userID, req.BookingID)
	if err != nil {
		return nil, err
	}

	if booking.Status != models.BookingStatusAccepted {
		return nil, common.NewStateError("only accepted bookings can be rated")
	}
	if s.clock.Now().Before(ride.DepartureAt.Add(ratingWindowDelay)) {
		return nil, common.NewStateError("rating opens 30 minutes after departure")
	}

	rating := &models.Rating{
		FromUserID: userID,
		ToUserID:   toUserID,
		BookingID:  booking.ID,
		RideID:     ride.ID,
		Type:       ratingType,
		Stars:      req.Stars,
		Comment:    req.Comment,
	}
	if err := s.repo.Create(ctx, rating); err != nil {
		return nil, err
	}

	s.invalidateStats(ctx, toUserID)
	if s.notifier != nil {
		stars := rating.Stars
		s.notifier.Notify(ctx, toUserID, models.NotifRatingReceived, models.NotificationPayload{
			BookingID: &booking.ID,
			RideID:    &ride.ID,
			ActorID:   &userID,
			Stars:     &stars,
		})
	}
	s.publishEvent(eventbus.SubjectRatingReceived, eventbus.RatingEventData{
		BookingID:  booking.ID,
		RideID:     ride.ID,
		FromUserID: userID,
		ToUserID:   toUserID,
		Stars:      rating.Stars,
		OccurredAt: s.clock.Now(),
	})
	return rating, nil
}

// PendingRatings lists bookings the user can rate right now.
func (s *Service) PendingRatings(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Booking, error) {
	cutoff := s.clock.Now().Add(-ratingWindowDelay)
	return s.repo.ListUnratedBookings(ctx, userID, cutoff, limit)
}

// UserRatings lists ratings a user has received.
func (s *Service) UserRatings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Rating, int64, error) {
	return s.repo.ListForUser(ctx, userID, limit, offset)
}

// Stats returns a user's rating aggregate, cached.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID) (*models.RatingStats, error) {
	if s.cache == nil {
		return s.repo.Stats(ctx, userID)
	}

	stats := &models.RatingStats{}
	err := s.cache.GetOrSet(ctx, cache.Keys.RatingStats(userID.String()), cache.TTL.Medium(), stats,
		func() (interface{}, error) {
			return s.repo.Stats(ctx, userID)
		})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Service) loadParticipants(ctx context.Context, userID, bookingID uuid.UUID) (*models.Booking, *models.Ride, models.RatingType, uuid.UUID, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, nil, "", uuid.Nil, err
	}
	ride, err := s.rides.GetRideByID(ctx, booking.RideID)
	if err != nil {
		return nil, nil, "", uuid.Nil, err
	}
	ratingType, toUserID, ok := direction(userID, booking, ride)
	if !ok {
		return nil, nil, "", uuid.Nil, common.NewForbiddenError("you are not a participant of this booking")
	}
	return booking, ride, ratingType, toUserID, nil
}

func (s *Service) invalidateStats(ctx context.Context, userID uuid.UUID) {
	if s.cache == nil {
		return
	}
	err := s.cache.Delete(ctx,
		cache.Keys.RatingStats(userID.String()),
		cache.Keys.User(userID.String()))
	if err != nil {
		logger.WarnContext(ctx, "failed to invalidate rating cache", zap.Error(err))
	}
}
