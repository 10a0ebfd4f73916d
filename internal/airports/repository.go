package airports

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aeroride/carpool/pkg/common"
	"github.com/aeroride/carpool/pkg/geo"
	"github.com/aeroride/carpool/pkg/models"
)

// Repository reads the airport catalog. The table is reference data seeded by
// migrations; the API never writes to it.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new airports repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const airportColumns = `
	id, iata_code, icao_code, name, city, country, country_code,
	lat, lon, type, aliases, is_active, created_at
`

func scanAirport(row pgx.Row) (*models.Airport, error) {
	airport := &models.Airport{}
	err := row.Scan(
		&airport.ID,
		&airport.IATACode,
		&airport.ICAOCode,
		&airport.Name,
		&airport.City,
		&airport.Country,
		&airport.CountryCode,
		&airport.Lat,
		&airport.Lon,
		&airport.Type,
		&airport.Aliases,
		&airport.IsActive,
		&airport.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return airport, nil
}

// GetByID returns a single active airport.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Airport, error) {
	airport, err := scanAirport(r.db.QueryRow(ctx, `
		SELECT `+airportColumns+`
		FROM airports
		WHERE id = $1 AND is_active
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("airport not found", err)
		}
		return nil, fmt.Errorf("failed to get airport: %w", err)
	}
	return airport, nil
}

// Search filters the catalog by free text, country and optional proximity.
// Text matches name, city, codes and aliases case-insensitively.
func (r *Repository) Search(ctx context.Context, query *models.AirportSearchQuery, limit, offset int) ([]*models.Airport, int64, error) {
	where := []string{"is_active"}
	args := []any{}
	argPos := 1

	if q := strings.TrimSpace(query.Query); q != "" {
		where = append(where, fmt.Sprintf(`(
			name ILIKE $%d OR city ILIKE $%d OR iata_code ILIKE $%d
			OR icao_code ILIKE $%d
			OR EXISTS (SELECT 1 FROM unnest(aliases) a WHERE a ILIKE $%d)
		)`, argPos, argPos, argPos, argPos, argPos))
		args = append(args, "%"+q+"%")
		argPos++
	}
	if query.Country != "" {
		where = append(where, fmt.Sprintf("country_code = $%d", argPos))
		args = append(args, strings.ToUpper(query.Country))
		argPos++
	}

	radiusFilter := query.Latitude != nil && query.Longitude != nil && query.RadiusKm > 0
	if radiusFilter {
		// Bounding box prefilter; exact distance is refined in Go below.
		latDelta := query.RadiusKm / 111.0
		lonDelta := query.RadiusKm / (111.0 * math.Cos(*query.Latitude*math.Pi/180))
		where = append(where, fmt.Sprintf(
			"lat BETWEEN $%d AND $%d AND lon BETWEEN $%d AND $%d",
			argPos, argPos+1, argPos+2, argPos+3))
		args = append(args,
			*query.Latitude-latDelta, *query.Latitude+latDelta,
			*query.Longitude-lonDelta, *query.Longitude+lonDelta)
		argPos += 4
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM airports WHERE "+whereClause, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count airports: %w", err)
	}

	sql := fmt.Sprintf(`
		SELECT %s FROM airports
		WHERE %s
		ORDER BY type, name
		LIMIT $%d OFFSET $%d
	`, airportColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search airports: %w", err)
	}
	defer rows.Close()

	airports := []*models.Airport{}
	for rows.Next() {
		airport, err := scanAirport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan airport: %w", err)
		}
		airports = append(airports, airport)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate airports: %w", err)
	}

	if radiusFilter {
		airports = refineByRadius(airports, *query.Latitude, *query.Longitude, query.RadiusKm)
	}
	return airports, total, nil
}

// refineByRadius drops bounding-box corner hits outside the true radius.
func refineByRadius(airports []*models.Airport, lat, lon, radiusKm float64) []*models.Airport {
	filtered := airports[:0]
	for _, a := range airports {
		if geo.HaversineMeters(lat, lon, a.Lat, a.Lon) <= radiusKm*1000 {
			filtered = append(filtered, a)
		}
	}
	return filtered
}
