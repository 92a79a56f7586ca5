package geocoding

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-assistant/internal/common"
)

// apiKeyMu guards the library's package-level key for the whole call.
var apiKeyMu sync.Mutex

// GoogleGeocoder uses the Google Maps geocoding API through kelvins/geocoder.
// Forward lookups return at most one match.
type GoogleGeocoder struct {
	apiKey  string
	timeout time.Duration
}

// NewGoogleGeocoder creates a geocoder whose calls give up after timeout.
// A zero timeout relies on the caller's context alone.
func NewGoogleGeocoder(apiKey string, timeout time.Duration) *GoogleGeocoder {
	return &GoogleGeocoder{apiKey: apiKey, timeout: timeout}
}

func (g *GoogleGeocoder) Name() string {
	return "google"
}

func (g *GoogleGeocoder) Search(ctx context.Context, query string, limit int) ([]Place, error) {
	var loc geocoder.Location
	err := g.call(ctx, func() error {
		var err error
		// Free text goes into City; the library joins all fields into one address string.
		loc, err = geocoder.Geocoding(geocoder.Address{City: query})
		return err
	})
	if err != nil {
		if noResults(err) {
			return []Place{}, nil
		}
		return nil, err
	}

	return []Place{{
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		DisplayName: query,
		Name:        query,
	}}, nil
}

func (g *GoogleGeocoder) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	var addrs []geocoder.Address
	err := g.call(ctx, func() error {
		var err error
		addrs, err = geocoder.GeocodingReverse(geocoder.Location{Latitude: lat, Longitude: lon})
		return err
	})
	if err != nil {
		if noResults(err) {
			return Place{}, fmt.Errorf("%w: no address at %f,%f", common.ErrInvalidQuery, lat, lon)
		}
		return Place{}, err
	}
	if len(addrs) == 0 {
		return Place{}, fmt.Errorf("%w: no address at %f,%f", common.ErrInvalidQuery, lat, lon)
	}

	a := addrs[0]
	var number string
	if a.Number > 0 {
		number = strconv.Itoa(a.Number)
	}
	return Place{
		Latitude:    lat,
		Longitude:   lon,
		DisplayName: a.FormattedAddress,
		Name:        common.FirstNonEmpty(a.City, a.District, a.FormattedAddress),
		Address: Address{
			HouseNumber:   number,
			Road:          a.Street,
			Neighbourhood: a.Neighborhood,
			Suburb:        a.District,
			City:          a.City,
			County:        a.County,
			State:         a.State,
			Postcode:      a.PostalCode,
			Country:       a.Country,
		},
	}, nil
}

// call runs fn with this geocoder's key installed. The library uses an
// http.Client without a timeout and takes no context, so an expired call is
// abandoned, not stopped: it keeps the key locked until the request returns,
// and calls made meanwhile fail fast instead of queueing behind it.
func (g *GoogleGeocoder) call(ctx context.Context, fn func() error) error {
	if g.apiKey == "" {
		return fmt.Errorf("%w: google geocoder api key is not configured", common.ErrUpstreamUnavailable)
	}
	if !apiKeyMu.TryLock() {
		return fmt.Errorf("%w: google geocoder busy", common.ErrUpstreamUnavailable)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer apiKeyMu.Unlock()
		geocoder.ApiKey = g.apiKey
		done <- fn()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: google geocoder: %v", common.ErrUpstreamUnavailable, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: google geocoder: %v", common.ErrUpstreamUnavailable, err)
		}
		return nil
	}
}

func noResults(err error) bool {
	return common.HasAny(err.Error(), "ZERO_RESULTS", "no results")
}
