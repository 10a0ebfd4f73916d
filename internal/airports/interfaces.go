package airports

import (
	"context"

	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/models"
)

// RepositoryInterface is the catalog read surface.
type RepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Airport, error)
	Search(ctx context.Context, query *models.AirportSearchQuery, limit, offset int) ([]*models.Airport, int64, error)
}
