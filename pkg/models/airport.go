package models

import (
	"time"

	"github.com/google/uuid"
)

// AirportType classifies airports by size.
type AirportType string

const (
	AirportLarge  AirportType = "large"
	AirportMedium AirportType = "medium"
	AirportSmall  AirportType = "small"
)

// Airport is a read-mostly catalog entry.
type Airport struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	IATACode    string      `json:"iata_code" db:"iata_code"`
	ICAOCode    *string     `json:"icao_code,omitempty" db:"icao_code"`
	Name        string      `json:"name" db:"name"`
	City        string      `json:"city" db:"city"`
	Country     string      `json:"country" db:"country"`
	CountryCode string      `json:"country_code" db:"country_code"`
	Lat         float64     `json:"lat" db:"lat"`
	Lon         float64     `json:"lon" db:"lon"`
	Type        AirportType `json:"type" db:"type"`
	Aliases     []string    `json:"aliases,omitempty" db:"aliases"`
	IsActive    bool        `json:"is_active" db:"is_active"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// AirportSearchQuery carries catalog search parameters.
type AirportSearchQuery struct {
	Query     string   `form:"q"`
	Country   string   `form:"country"`
	Latitude  *float64 `form:"latitude"`
	Longitude *float64 `form:"longitude"`
	RadiusKm  float64  `form:"radius"`
}
