package airports

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/aeroride/carpool/pkg/cache"
	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/models"
	"github.com/aeroride/carpool/pkg/pagination"
)

// Service serves the airport catalog. Entries change rarely, so reads are
// cached aggressively.
type Service struct {
	repo  RepositoryInterface
	cache *cache.Manager
}

// NewService creates a new airports service
func NewService(repo RepositoryInterface, cacheManager *cache.Manager) *Service {
	return &Service{repo: repo, cache: cacheManager}
}

// GetAirport returns a single airport by id.
func (s *Service) GetAirport(ctx context.Context, id uuid.UUID) (*models.Airport, error) {
	if s.cache == nil {
		return s.repo.GetByID(ctx, id)
	}

	var airport models.Airport
	err := s.cache.GetOrSet(ctx, cache.Keys.Airport(id.String()), cache.TTL.VeryLong(), &airport, func() (interface{}, error) {
		return s.repo.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &airport, nil
}

// Search filters the catalog. First pages of plain text searches are cached;
// proximity searches and deep pages go straight to the database.
func (s *Service) Search(ctx context.Context, query *models.AirportSearchQuery, limit, offset int) ([]*models.Airport, int64, error) {
	if query.RadiusKm < 0 || query.RadiusKm > 500 {
		return nil, 0, common.NewValidationError("radius must be between 0 and 500 km")
	}
	if (query.Latitude == nil) != (query.Longitude == nil) {
		return nil, 0, common.NewValidationError("latitude and longitude must be provided together")
	}

	proximity := query.Latitude != nil
	if s.cache == nil || proximity || offset != 0 || limit != pagination.DefaultLimit {
		return s.repo.Search(ctx, query, limit, offset)
	}

	key := cache.Keys.AirportSearch(
		strings.ToLower(strings.TrimSpace(query.Query)),
		strings.ToUpper(query.Country))

	var page airportPage
	err := s.cache.GetOrSet(ctx, key, cache.TTL.Long(), &page, func() (interface{}, error) {
		airports, total, err := s.repo.Search(ctx, query, limit, offset)
		if err != nil {
			return nil, err
		}
		return &airportPage{Airports: airports, Total: total}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return page.Airports, page.Total, nil
}

// airportPage is the cache envelope for a text search page.
type airportPage struct {
	Airports []*models.Airport `json:"airports"`
	Total    int64             `json:"total"`
}
