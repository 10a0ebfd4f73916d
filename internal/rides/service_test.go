package rides

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/aeroride/carpool/pkg/clock"
	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/geo"
	"github.com/aeroride/carpool/pkg/models"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Create(ctx context.Context, ride *models.Ride) error {
	args := m.Called(ctx, ride)
	return args.Error(0)
}

func (m *mockRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ride), args.Error(1)
}

func (m *mockRepository) Update(ctx context.Context, ride *models.Ride) error {
	args := m.Called(ctx, ride)
	return args.Error(0)
}

func (m *mockRepository) Search(ctx context.Context, query *models.RideSearchQuery, cells []int64, limit, offset int) ([]*models.Ride, int64, error) {
	args := m.Called(ctx, query, cells, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*models.Ride), args.Get(1).(int64), args.Error(2)
}

func (m *mockRepository) ListByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Ride, int64, error) {
	args := m.Called(ctx, driverID, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*models.Ride), args.Get(1).(int64), args.Error(2)
}

func (m *mockRepository) TryReserve(ctx context.Context, rideID uuid.UUID, seats, luggage int) error {
	args := m.Called(ctx, rideID, seats, luggage)
	return args.Error(0)
}

func (m *mockRepository) Release(ctx context.Context, rideID uuid.UUID, seats, luggage int) error {
	args := m.Called(ctx, rideID, seats, luggage)
	return args.Error(0)
}

type mockAirports struct {
	mock.Mock
}

func (m *mockAirports) GetAirport(ctx context.Context, id uuid.UUID) (*models.Airport, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Airport), args.Error(1)
}

type mockRouting struct {
	mock.Mock
}

func (m *mockRouting) Route(ctx context.Context, from, to geo.Point) ([]geo.Point, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]geo.Point), args.Error(1)
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(repo RepositoryInterface, airports AirportReader, routing RoutingClient) *Service {
	return NewService(repo, airports, routing, nil, clock.NewMock(testNow))
}

func TestService_CreateRide_RejectsPastDeparture(t *testing.T) {
	service := newTestService(new(mockRepository), new(mockAirports), new(mockRouting))

	_, err := service.CreateRide(context.Background(), uuid.New(), &models.CreateRideRequest{
		AirportID:   uuid.New(),
		Direction:   models.DirectionToAirport,
		DepartureAt: testNow.Add(-time.Hour),
		SeatsTotal:  3,
	})

	assert.Error(t, err)
	appErr, ok := err.(*common.AppError)
	assert.True(t, ok)
	assert.Equal(t, common.CodeValidation, appErr.ErrorCode)
}

func TestService_CreateRide_UsesRoutingPolyline(t *testing.T) {
	repo := new(mockRepository)
	airports := new(mockAirports)
	routing := new(mockRouting)
	service := newTestService(repo, airports, routing)

	ctx := context.Background()
	airportID := uuid.New()
	home := models.HomeLocation{City: "Utrecht", Lat: 52.09, Lon: 5.12}
	polyline := []geo.Point{{Lat: 52.09, Lon: 5.12}, {Lat: 52.2, Lon: 4.9}, {Lat: 52.31, Lon: 4.77}}

	airports.On("GetAirport", ctx, airportID).Return(&models.Airport{ID: airportID, Lat: 52.3105, Lon: 4.7683}, nil)
	routing.On("Route", ctx, geo.Point{Lat: 52.09, Lon: 5.12}, geo.Point{Lat: 52.3105, Lon: 4.7683}).
		Return(polyline, nil)
	repo.On("Create", ctx, mock.MatchedBy(func(ride *models.Ride) bool {
		return len(ride.Route) == 3 && ride.Status == ""
	})).Return(nil)

	ride, err := service.CreateRide(ctx, uuid.New(), &models.CreateRideRequest{
		AirportID:   airportID,
		Direction:   models.DirectionToAirport,
		Home:        home,
		DepartureAt: testNow.Add(48 * time.Hour),
		SeatsTotal:  3,
	})

	assert.NoError(t, err)
	assert.Len(t, ride.Route, 3)
	routing.AssertExpectations(t)
}

func TestService_CreateRide_FallsBackToStraightSegment(t *testing.T) {
	repo := new(mockRepository)
	airports := new(mockAirports)
	routing := new(mockRouting)
	service := newTestService(repo, airports, routing)

	ctx := context.Background()
	airportID := uuid.New()

	airports.On("GetAirport", ctx, airportID).Return(&models.Airport{ID: airportID, Lat: 52.3105, Lon: 4.7683}, nil)
	routing.On("Route", ctx, mock.Anything, mock.Anything).Return(nil, errors.New("routing down"))
	repo.On("Create", ctx, mock.MatchedBy(func(ride *models.Ride) bool {
		return len(ride.Route) == 2
	})).Return(nil)

	ride, err := service.CreateRide(ctx, uuid.New(), &models.CreateRideRequest{
		AirportID:   airportID,
		Direction:   models.DirectionFromAirport,
		Home:        models.HomeLocation{City: "Utrecht", Lat: 52.09, Lon: 5.12},
		DepartureAt: testNow.Add(24 * time.Hour),
		SeatsTotal:  2,
	})

	assert.NoError(t, err)
	assert.Len(t, ride.Route, 2)
	// from_airport rides start at the airport.
	assert.Equal(t, 52.3105, ride.Route[0].Lat)
}

func TestService_UpdateRide_CannotShrinkBelowBooked(t *testing.T) {
	repo := new(mockRepository)
	service := newTestService(repo, new(mockAirports), new(mockRouting))

	ctx := context.Background()
	driverID := uuid.New()
	rideID := uuid.New()

	repo.On("GetByID", ctx, rideID).Return(&models.Ride{
		ID:          rideID,
		DriverID:    driverID,
		Status:      models.RideStatusActive,
		DepartureAt: testNow.Add(24 * time.Hour),
		SeatsTotal:  4,
		SeatsLeft:   1,
	}, nil)

	two := 2
	_, err := service.UpdateRide(ctx, driverID, rideID, &models.UpdateRideRequest{SeatsTotal: &two})

	assert.Error(t, err)
	appErr, ok := err.(*common.AppError)
	assert.True(t, ok)
	assert.Equal(t, common.CodeValidation, appErr.ErrorCode)
}

func TestService_UpdateRide_OnlyOwner(t *testing.T) {
	repo := new(mockRepository)
	service := newTestService(repo, new(mockAirports), new(mockRouting))

	ctx := context.Background()
	rideID := uuid.New()

	repo.On("GetByID", ctx, rideID).Return(&models.Ride{
		ID:          rideID,
		DriverID:    uuid.New(),
		Status:      models.RideStatusActive,
		DepartureAt: testNow.Add(24 * time.Hour),
	}, nil)

	_, err := service.UpdateRide(ctx, uuid.New(), rideID, &models.UpdateRideRequest{})

	assert.Error(t, err)
	appErr, ok := err.(*common.AppError)
	assert.True(t, ok)
	assert.Equal(t, common.CodeForbidden, appErr.ErrorCode)
}

func TestService_Search_RanksByDetourAndStripsRoutes(t *testing.T) {
	repo := new(mockRepository)
	service := newTestService(repo, new(mockAirports), new(mockRouting))

	ctx := context.Background()
	airportID := uuid.New()
	pickupLat, pickupLon := 52.09, 5.12

	// Ride A passes right through the pickup point, ride B passes ~5.5 km
	// east, ride C is far away.
	rideA := &models.Ride{ID: uuid.New(), Route: []geo.Point{{Lat: 52.0, Lon: 5.12}, {Lat: 52.2, Lon: 5.12}}}
	rideB := &models.Ride{ID: uuid.New(), Route: []geo.Point{{Lat: 52.0, Lon: 5.2}, {Lat: 52.2, Lon: 5.2}}}
	rideC := &models.Ride{ID: uuid.New(), Route: []geo.Point{{Lat: 51.0, Lon: 6.0}, {Lat: 51.2, Lon: 6.0}}}

	repo.On("Search", ctx, mock.Anything, mock.Anything, 20, 0).
		Return([]*models.Ride{rideC, rideB, rideA}, int64(3), nil)

	query := &models.RideSearchQuery{
		AirportID:    airportID,
		PickupLat:    &pickupLat,
		PickupLon:    &pickupLon,
		RadiusMeters: 8000,
	}
	rides, total, err := service.Search(ctx, query, 20, 0)

	assert.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, rideA.ID, rides[0].ID)
	assert.Equal(t, rideB.ID, rides[1].ID)
	assert.Nil(t, rides[0].Route)
	assert.NotNil(t, rides[0].DistanceMeters)
	assert.Less(t, *rides[0].DistanceMeters, *rides[1].DistanceMeters)
}

func TestService_Search_RequiresPickupPair(t *testing.T) {
	service := newTestService(new(mockRepository), new(mockAirports), new(mockRouting))

	lat := 52.0
	_, _, err := service.Search(context.Background(), &models.RideSearchQuery{
		AirportID: uuid.New(),
		PickupLat: &lat,
	}, 20, 0)

	assert.Error(t, err)
}
