package geocoding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/weather"
)

const (
	DefaultLimit    = 5
	MaxLimit        = 40
	SuggestionLimit = 5
)

// Address holds the structured parts of a place. Any field may be empty.
type Address struct {
	HouseNumber   string `json:"house_number,omitempty"`
	Road          string `json:"road,omitempty"`
	Neighbourhood string `json:"neighbourhood,omitempty"`
	Suburb        string `json:"suburb,omitempty"`
	City          string `json:"city,omitempty"`
	County        string `json:"county,omitempty"`
	State         string `json:"state,omitempty"`
	Postcode      string `json:"postcode,omitempty"`
	Country       string `json:"country,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
}

// Place is a single geocoding match.
type Place struct {
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	DisplayName string   `json:"display_name"`
	Name        string   `json:"name,omitempty"`
	Type        string   `json:"type,omitempty"`
	Address     Address  `json:"address"`
	BoundingBox []string `json:"bounding_box,omitempty"`
}

// Geocoder is a forward/reverse geocoding backend.
type Geocoder interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Place, error)
	Reverse(ctx context.Context, lat, lon float64) (Place, error)
}

// Service validates lookups and tries each backend in order until one answers.
type Service struct {
	backends []Geocoder
	logger   logrus.FieldLogger
}

func NewService(logger logrus.FieldLogger, backends ...Geocoder) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{backends: backends, logger: logger.WithField("component", "geocoding")}
}

// Geocode resolves a free-text query to an ordered list of matches. A zero
// limit means DefaultLimit.
func (s *Service) Geocode(ctx context.Context, query string, limit int) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", common.ErrInvalidQuery)
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", common.ErrInvalidQuery, MaxLimit)
	}

	var places []Place
	err := s.each(ctx, func(g Geocoder) error {
		var err error
		places, err = g.Search(ctx, query, limit)
		return err
	})
	return places, err
}

// Suggest returns autocomplete candidates for a partial query.
func (s *Service) Suggest(ctx context.Context, partial string, limit int) ([]Place, error) {
	if limit == 0 {
		limit = SuggestionLimit
	}
	return s.Geocode(ctx, partial, limit)
}

// Reverse resolves coordinates to an address.
func (s *Service) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	if !weather.ValidCoordinates(lat, lon) {
		return Place{}, fmt.Errorf("%w: coordinates out of range", common.ErrInvalidLocation)
	}

	var place Place
	err := s.each(ctx, func(g Geocoder) error {
		var err error
		place, err = g.Reverse(ctx, lat, lon)
		return err
	})
	return place, err
}

func (s *Service) each(ctx context.Context, fn func(Geocoder) error) error {
	if len(s.backends) == 0 {
		return fmt.Errorf("%w: no geocoder configured", common.ErrUpstreamUnavailable)
	}

	var lastErr error
	for _, g := range s.backends {
		err := fn(g)
		if err == nil {
			return nil
		}
		if errors.Is(err, common.ErrInvalidQuery) || ctx.Err() != nil {
			return err
		}
		s.logger.WithField("backend", g.Name()).WithError(err).Warn("geocoding lookup failed")
		lastErr = err
	}

	if errors.Is(lastErr, common.ErrUpstreamUnavailable) {
		return lastErr
	}
	return fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, lastErr)
}
