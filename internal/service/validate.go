package service

import (
	"parking-service/internal/geo"
	"parking-service/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// MaxExtensionMinutes bounds a single extend call.
	MaxExtensionMinutes = 24 * 60
)

func requireUser(userID string) error {
	if userID == "" {
		return models.ValidationError{Field: "user_id", Msg: "is required"}
	}
	return nil
}

func requireID(field, id string) error {
	if id == "" {
		return models.ValidationError{Field: field, Msg: "is required"}
	}
	return nil
}

func validateCoordinate(c geo.Coordinate) error {
	if c.Valid() {
		return nil
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return models.ValidationError{Field: "latitude", Msg: "must be between -90 and 90"}
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return models.ValidationError{Field: "longitude", Msg: "must be between -180 and 180"}
	}
	return nil
}

// normalizePage applies the default page size and rejects out-of-range
// values.
func normalizePage(limit, offset int) (int, int, error) {
	if limit == 0 {
		limit = defaultPageSize
	}
	if limit < 0 || limit > maxPageSize {
		return 0, 0, models.ValidationError{Field: "limit", Msg: "must be between 1 and 100"}
	}
	if offset < 0 {
		return 0, 0, models.ValidationError{Field: "offset", Msg: "must not be negative"}
	}
	return limit, offset, nil
}
