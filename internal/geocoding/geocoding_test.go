package geocoding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/logging"
	"github.com/i474232898/weather-assistant/internal/upstream"
)

func newNominatimServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("expected a User-Agent header")
		}
		switch r.URL.Path {
		case "/search":
			if r.URL.Query().Get("limit") != "2" {
				t.Errorf("expected limit=2, got %q", r.URL.Query().Get("limit"))
			}
			w.Write([]byte(`[
			  {"lat": "40.7127281", "lon": "-74.0060152", "display_name": "New York, United States", "name": "New York",
			   "type": "city", "address": {"city": "New York", "state": "New York", "country": "United States", "country_code": "us"}},
			  {"lat": "43.1561681", "lon": "-75.8449946", "display_name": "New York State", "name": "New York",
			   "type": "administrative", "address": {"town": "Albany", "country": "United States"}}
			]`))
		case "/reverse":
			if r.URL.Query().Get("lat") == "0" {
				w.Write([]byte(`{"error": "Unable to geocode"}`))
				return
			}
			w.Write([]byte(`{"lat": "48.8588", "lon": "2.3200", "display_name": "Paris, France",
			  "address": {"village": "Paris", "country": "France"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestGeocodeReturnsOrderedPlaces(t *testing.T) {
	srv := newNominatimServer(t)
	defer srv.Close()

	svc := NewService(logging.Discard(), NewNominatim(srv.URL, upstream.Config{Client: srv.Client()}))
	places, err := svc.Geocode(context.Background(), "  New York ", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(places) != 2 {
		t.Fatalf("expected 2 places, got %d", len(places))
	}
	if places[0].DisplayName != "New York, United States" || places[0].Latitude != 40.7127281 {
		t.Fatalf("unexpected first place: %+v", places[0])
	}
	if places[1].Address.City != "Albany" {
		t.Fatalf("expected town to fill city, got %q", places[1].Address.City)
	}
}

func TestGeocodeValidation(t *testing.T) {
	svc := NewService(logging.Discard())

	if _, err := svc.Geocode(context.Background(), "   ", 5); !errors.Is(err, common.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for empty query, got %v", err)
	}
	if _, err := svc.Geocode(context.Background(), "Paris", MaxLimit+1); !errors.Is(err, common.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for limit too large, got %v", err)
	}
	if _, err := svc.Geocode(context.Background(), "Paris", -1); !errors.Is(err, common.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for negative limit, got %v", err)
	}
	if _, err := svc.Reverse(context.Background(), 100, 0); !errors.Is(err, common.ErrInvalidLocation) {
		t.Fatalf("expected ErrInvalidLocation, got %v", err)
	}
}

func TestGeocodeWithoutBackendIsUnavailable(t *testing.T) {
	svc := NewService(logging.Discard())
	if _, err := svc.Geocode(context.Background(), "Paris", 1); !errors.Is(err, common.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestReverse(t *testing.T) {
	srv := newNominatimServer(t)
	defer srv.Close()

	svc := NewService(logging.Discard(), NewNominatim(srv.URL, upstream.Config{Client: srv.Client()}))
	place, err := svc.Reverse(context.Background(), 48.8588, 2.32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if place.DisplayName != "Paris, France" || place.Address.City != "Paris" {
		t.Fatalf("unexpected place: %+v", place)
	}

	if _, err := svc.Reverse(context.Background(), 0, 0); !errors.Is(err, common.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for error body, got %v", err)
	}
}

type failingGeocoder struct{ calls int }

func (f *failingGeocoder) Name() string { return "failing" }

func (f *failingGeocoder) Search(ctx context.Context, query string, limit int) ([]Place, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func (f *failingGeocoder) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	f.calls++
	return Place{}, errors.New("connection refused")
}

func TestServiceFallsBackToNextBackend(t *testing.T) {
	srv := newNominatimServer(t)
	defer srv.Close()

	first := &failingGeocoder{}
	svc := NewService(logging.Discard(), first, NewNominatim(srv.URL, upstream.Config{Client: srv.Client()}))

	places, err := svc.Suggest(context.Background(), "New York", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.calls != 1 || len(places) != 2 {
		t.Fatalf("expected fallback after one failed call, got calls=%d places=%d", first.calls, len(places))
	}
}

func TestServiceWrapsLastFailure(t *testing.T) {
	svc := NewService(logging.Discard(), &failingGeocoder{})
	if _, err := svc.Geocode(context.Background(), "Paris", 1); !errors.Is(err, common.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestGoogleGeocoderRequiresKey(t *testing.T) {
	g := NewGoogleGeocoder("", time.Second)
	if _, err := g.Search(context.Background(), "Paris", 1); !errors.Is(err, common.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestGoogleGeocoderCallTimesOut(t *testing.T) {
	g := NewGoogleGeocoder("key", 20*time.Millisecond)
	release := make(chan struct{})
	finished := make(chan struct{})

	start := time.Now()
	err := g.call(context.Background(), func() error {
		<-release
		close(finished)
		return nil
	})
	if !errors.Is(err, common.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected call to give up after the timeout, took %v", elapsed)
	}

	// The abandoned call still holds the key, so the next one fails fast.
	err = g.call(context.Background(), func() error {
		t.Errorf("expected busy geocoder to skip the call")
		return nil
	})
	if !errors.Is(err, common.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable while busy, got %v", err)
	}

	close(release)
	<-finished
	deadline := time.Now().Add(time.Second)
	for !apiKeyMu.TryLock() {
		if time.Now().After(deadline) {
			t.Fatalf("expected abandoned call to release the key")
		}
		time.Sleep(5 * time.Millisecond)
	}
	apiKeyMu.Unlock()

	if err := g.call(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("expected key to be free again, got %v", err)
	}
}
