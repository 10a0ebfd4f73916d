package rides

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aeroride/carpool/pkg/cache"
	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/eventbus"
	"github.com/aeroride/carpool/pkg/geo"
	"github.com/aeroride/carpool/pkg/logger"
	"github.com/aeroride/carpool/pkg/models"
	"github.com/aeroride/carpool/pkg/pagination"
)

const (
	defaultSearchRadiusMeters = 5000
	maxSearchRadiusMeters     = 50000
	maxSearchLimit            = 100

	// defaultCurrency prices every published ride; the platform settles in a
	// single currency.
	defaultCurrency = "eur"
)

// Service implements ride publishing and search.
type Service struct {
	repo     RepositoryInterface
	airports AirportReader
	routing  RoutingClient
	cache    *cache.Manager
	eventBus *eventbus.Bus
	clock    clock.Clock
}

// NewService creates a new rides service
func NewService(repo RepositoryInterface, airports AirportReader, routing RoutingClient, cacheManager *cache.Manager, clk clock.Clock) *Service {
	return &Service{
		repo:     repo,
		airports: airports,
		routing:  routing,
		cache:    cacheManager,
		clock:    clk,
	}
}

// SetEventBus sets the NATS event bus for publishing ride events.
func (s *Service) SetEventBus(bus *eventbus.Bus) {
	s.eventBus = bus
}

// publishEvent publishes an event asynchronously; a nil bus is a no-op.
func (s *Service) publishEvent(subject string, data interface{}) {
	if s.eventBus == nil {
		return
	}
	go func() {
		evt, err := eventbus.NewEvent(subject, "rides", data)
		if err != nil {
			logger.Warn("failed to create ride event", zap.String("subject", subject), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.eventBus.Publish(ctx, subject, evt); err != nil {
			logger.Warn("failed to publish ride event", zap.String("subject", subject), zap.Error(err))
		}
	}()
}

// CreateRide publishes a ride. The route polyline comes from the routing
// provider; when routing is down the straight home-airport segment keeps
// publishing available.
func (s *Service) CreateRide(ctx context.Context, driverID uuid.UUID, req *models.CreateRideRequest) (*models.Ride, error) {
	if !req.DepartureAt.After(s.clock.Now()) {
		return nil, common.NewValidationError("departure must be in the future")
	}

	airport, err := s.airports.GetAirport(ctx, req.AirportID)
	if err != nil {
		return nil, err
	}

	route := s.resolveRoute(ctx, req.Direction, req.Home, airport)

	ride := &models.Ride{
		DriverID:     driverID,
		AirportID:    req.AirportID,
		Direction:    req.Direction,
		Home:         req.Home,
		DepartureAt:  req.DepartureAt,
		SeatsTotal:   req.SeatsTotal,
		LuggageTotal: req.LuggageTotal,
		PricePerSeat: req.PricePerSeat,
		Currency:     defaultCurrency,
		Route:        route,
		Comment:      req.Comment,
	}
	if err := s.repo.Create(ctx, ride); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "ride published",
		zap.String("ride_id", ride.ID.String()),
		zap.String("driver_id", driverID.String()),
		zap.Time("departure_at", ride.DepartureAt))
	s.publishEvent(eventbus.SubjectRidePublished, eventbus.RideEventData{
		RideID:      ride.ID,
		DriverID:    driverID,
		AirportID:   ride.AirportID,
		DepartureAt: ride.DepartureAt,
		OccurredAt:  s.clock.Now(),
	})
	return ride, nil
}

// resolveRoute orders the endpoints by direction and fetches the polyline.
func (s *Service) resolveRoute(ctx context.Context, direction models.RideDirection, home models.HomeLocation, airport *models.Airport) []geo.Point {
	homePoint := geo.Point{Lat: home.Lat, Lon: home.Lon}
	airportPoint := geo.Point{Lat: airport.Lat, Lon: airport.Lon}

	from, to := homePoint, airportPoint
	if direction == models.DirectionFromAirport {
		from, to = airportPoint, homePoint
	}

	if s.routing != nil {
		route, err := s.routing.Route(ctx, from, to)
		if err == nil && len(route) >= 2 {
			return route
		}
		logger.WarnContext(ctx, "routing unavailable, falling back to straight segment", zap.Error(err))
	}
	return []geo.Point{from, to}
}

// GetRide returns a single ride with route and driver profile.
func (s *Service) GetRide(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	if s.cache == nil {
		return s.repo.GetByID(ctx, id)
	}

	var ride models.Ride
	err := s.cache.GetOrSet(ctx, cache.Keys.Ride(id.String()), cache.TTL.Short(), &ride, func() (interface{}, error) {
		return s.repo.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

// GetRideByID resolves a ride for other marketplace components. It always
// reads storage; booking and payment decisions must not act on cached
// capacity.
func (s *Service) GetRideByID(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateRide applies the mutable ride fields. Capacity totals can only grow
// past what is already booked.
func (s *Service) UpdateRide(ctx context.Context, driverID, rideID uuid.UUID, req *models.UpdateRideRequest) (*models.Ride, error) {
	ride, err := s.repo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != driverID {
		return nil, common.NewForbiddenError("only the driver can update this ride")
	}
	if ride.Status != models.RideStatusActive {
		return nil, common.NewStateError("ride is not active")
	}
	if !ride.DepartureAt.After(s.clock.Now()) {
		return nil, common.NewStateError("ride has already departed")
	}

	if req.DepartureAt != nil {
		if !req.DepartureAt.After(s.clock.Now()) {
			return nil, common.NewValidationError("departure must be in the future")
		}
		ride.DepartureAt = *req.DepartureAt
	}
	if req.PricePerSeat != nil {
		if *req.PricePerSeat < 0 {
			return nil, common.NewValidationError("price must not be negative")
		}
		ride.PricePerSeat = *req.PricePerSeat
	}
	if req.Comment != nil {
		ride.Comment = req.Comment
	}
	if req.SeatsTotal != nil {
		booked := ride.SeatsTotal - ride.SeatsLeft
		if *req.SeatsTotal < booked {
			return nil, common.NewValidationError("cannot reduce seats below the booked count")
		}
		if *req.SeatsTotal < 1 || *req.SeatsTotal > 8 {
			return nil, common.NewValidationError("seats must be between 1 and 8")
		}
		ride.SeatsLeft = *req.SeatsTotal - booked
		ride.SeatsTotal = *req.SeatsTotal
	}
	if req.LuggageTotal != nil {
		booked := ride.LuggageTotal - ride.LuggageLeft
		if *req.LuggageTotal < booked {
			return nil, common.NewValidationError("cannot reduce luggage below the booked count")
		}
		if *req.LuggageTotal < 0 || *req.LuggageTotal > 8 {
			return nil, common.NewValidationError("luggage must be between 0 and 8")
		}
		ride.LuggageLeft = *req.LuggageTotal - booked
		ride.LuggageTotal = *req.LuggageTotal
	}

	if err := s.repo.Update(ctx, ride); err != nil {
		return nil, err
	}
	s.invalidateRide(ctx, rideID)
	return ride, nil
}

// Search finds active future rides. With a pickup point the candidates are
// prefiltered by route cell intersection and ordered by detour distance from
// the pickup to the route.
func (s *Service) Search(ctx context.Context, query *models.RideSearchQuery, limit, offset int) ([]*models.Ride, int64, error) {
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if (query.PickupLat == nil) != (query.PickupLon == nil) {
		return nil, 0, common.NewValidationError("pickup_lat and pickup_lon must be provided together")
	}

	var cells []int64
	proximity := query.PickupLat != nil
	if proximity {
		radius := query.RadiusMeters
		if radius <= 0 {
			radius = defaultSearchRadiusMeters
		}
		if radius > maxSearchRadiusMeters {
			return nil, 0, common.NewValidationError("radius too large")
		}
		query.RadiusMeters = radius
		cells = geo.CellsWithinRadius(*query.PickupLat, *query.PickupLon, radius)
	}

	// Plain browse pages are hot and age out within the TTL; listed capacity
	// is a hint, bookings revalidate it in storage. Filtered and proximity
	// searches always hit the database.
	if s.cache != nil && !proximity && query.MinSeats == 0 && limit == pagination.DefaultLimit {
		var page ridePage
		key := cache.Keys.RideSearch(query.AirportID.String(),
			directionKey(query.Direction), dateKey(query.Date), offset)
		err := s.cache.GetOrSet(ctx, key, cache.TTL.Short(), &page, func() (interface{}, error) {
			rides, total, err := s.searchStorage(ctx, query, nil, limit, offset)
			if err != nil {
				return nil, err
			}
			return &ridePage{Rides: rides, Total: total}, nil
		})
		if err != nil {
			return nil, 0, err
		}
		return page.Rides, page.Total, nil
	}

	return s.searchStorage(ctx, query, cells, limit, offset)
}

// searchStorage runs the database search plus the in-process detour ranking.
func (s *Service) searchStorage(ctx context.Context, query *models.RideSearchQuery, cells []int64, limit, offset int) ([]*models.Ride, int64, error) {
	rides, total, err := s.repo.Search(ctx, query, cells, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	if query.PickupLat != nil && query.PickupLon != nil {
		rides = rankByDetour(rides, *query.PickupLat, *query.PickupLon, query.RadiusMeters)
		total = int64(len(rides))
	}

	// List projections drop the polyline to keep payloads small.
	for _, ride := range rides {
		ride.Route = nil
	}
	return rides, total, nil
}

// ridePage is the cache envelope for a browse page.
type ridePage struct {
	Rides []*models.Ride `json:"rides"`
	Total int64          `json:"total"`
}

func directionKey(direction *models.RideDirection) string {
	if direction == nil {
		return "any"
	}
	return string(*direction)
}

func dateKey(date *time.Time) string {
	if date == nil {
		return "any"
	}
	return date.Format("2006-01-02")
}

// rankByDetour filters rides whose route passes within the radius of the
// pickup point and sorts them nearest first.
func rankByDetour(rides []*models.Ride, lat, lon, radiusMeters float64) []*models.Ride {
	pickup := geo.Point{Lat: lat, Lon: lon}

	matched := rides[:0]
	for _, ride := range rides {
		d := geo.DistanceToPolylineMeters(pickup, ride.Route)
		if d <= radiusMeters {
			dist := d
			ride.DistanceMeters = &dist
			matched = append(matched, ride)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return *matched[i].DistanceMeters < *matched[j].DistanceMeters
	})
	return matched
}

// MyRides returns the driver's own rides.
func (s *Service) MyRides(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Ride, int64, error) {
	rides, total, err := s.repo.ListByDriver(ctx, driverID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, ride := range rides {
		ride.Route = nil
	}
	return rides, total, nil
}

// PreviewRoute returns the polyline a ride would be published with.
func (s *Service) PreviewRoute(ctx context.Context, direction models.RideDirection, home models.HomeLocation, airportID uuid.UUID) ([]geo.Point, error) {
	airport, err := s.airports.GetAirport(ctx, airportID)
	if err != nil {
		return nil, err
	}
	return s.resolveRoute(ctx, direction, home, airport), nil
}

func (s *Service) invalidateRide(ctx context.Context, rideID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.Keys.Ride(rideID.String())); err != nil {
		logger.WarnContext(ctx, "failed to invalidate ride cache", zap.Error(err))
	}
}
