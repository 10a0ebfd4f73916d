package rides

import (
	"context"

	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/geo"
	"github.com/aeroride/carpool/pkg/models"
)

// RepositoryInterface is the ride persistence surface.
type RepositoryInterface interface {
	Create(ctx context.Context, ride *models.Ride) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ride, error)
	Update(ctx context.Context, ride *models.Ride) error
	Search(ctx context.Context, query *models.RideSearchQuery, cells []int64, limit, offset int) ([]*models.Ride, int64, error)
	ListByDriver(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.Ride, int64, error)
	TryReserve(ctx context.Context, rideID uuid.UUID, seats, luggage int) error
	Release(ctx context.Context, rideID uuid.UUID, seats, luggage int) error
}

// AirportReader resolves airport coordinates for routing.
type AirportReader interface {
	GetAirport(ctx context.Context, id uuid.UUID) (*models.Airport, error)
}

// RoutingClient computes a driving polyline between two points. The fallback
// when routing is unavailable is the straight home-airport segment.
type RoutingClient interface {
	Route(ctx context.Context, from, to geo.Point) ([]geo.Point, error)
}

// RideCanceller cancels a ride and cascades refunds to its bookings. The
// booking engine implements it.
type RideCanceller interface {
	CancelRide(ctx context.Context, driverID, rideID uuid.UUID) (*models.Ride, []string, error)
}
