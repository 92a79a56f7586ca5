package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-assistant/internal/agent"
	"github.com/i474232898/weather-assistant/internal/alerts"
	"github.com/i474232898/weather-assistant/internal/auth"
	"github.com/i474232898/weather-assistant/internal/calendar"
	"github.com/i474232898/weather-assistant/internal/geocoding"
	"github.com/i474232898/weather-assistant/internal/logging"
	"github.com/i474232898/weather-assistant/internal/notify"
	"github.com/i474232898/weather-assistant/internal/store"
	"github.com/i474232898/weather-assistant/internal/weather"
)

type stubProvider struct {
	reading weather.Reading
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Current(_ context.Context, loc weather.Location, unit weather.Unit) (weather.Reading, error) {
	r := p.reading
	r.ProviderName = "stub"
	r.Location = loc
	r.Unit = unit
	return r, nil
}

type stubForecast struct{}

func (stubForecast) Daily(_ context.Context, loc weather.Location, days int, unit weather.Unit) (weather.Forecast, error) {
	return weather.Forecast{Location: loc, Unit: unit, Days: make([]weather.DailyForecast, days)}, nil
}

func (stubForecast) Hourly(_ context.Context, loc weather.Location, hours int, unit weather.Unit) (weather.HourlyOutlook, error) {
	return weather.HourlyOutlook{Location: loc, Unit: unit, Hours: make([]weather.HourlyForecast, hours)}, nil
}

type stubGeocoder struct{}

func (stubGeocoder) Name() string { return "stub" }

func (stubGeocoder) Search(_ context.Context, query string, limit int) ([]geocoding.Place, error) {
	return []geocoding.Place{{Name: query, Latitude: 48.85, Longitude: 2.35}}, nil
}

func (stubGeocoder) Reverse(_ context.Context, lat, lon float64) (geocoding.Place, error) {
	return geocoding.Place{Latitude: lat, Longitude: lon, DisplayName: "Somewhere"}, nil
}

func newTestApp(t *testing.T, reading weather.Reading, verifier *auth.Verifier) *fiber.App {
	t.Helper()
	logger := logging.Discard()

	weatherSvc := weather.NewService([]weather.Provider{&stubProvider{reading: reading}}, stubForecast{}, logger)
	geoSvc := geocoding.NewService(logger, stubGeocoder{})
	dispatcher := notify.NewDispatcher(store.NewMemoryDeviceStore(), notify.NewLogSender(logger), nil, nil, logger)

	subs := store.NewMemorySubscriptionStore()
	evaluator := alerts.NewEvaluator(subs, weatherSvc, dispatcher, nil, alerts.EvaluatorConfig{Concurrency: 2}, logger)
	cal := calendar.Disabled()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, Dependencies{
		Weather:   weatherSvc,
		Geocoding: geoSvc,
		Alerts:    alerts.NewService(subs, evaluator),
		Notify:    dispatcher,
		Agent:     agent.NewBridge(nil, nil, nil, logger),
		Tools:     agent.NewToolRegistry(weatherSvc, geoSvc, cal),
		Calendar:  cal,
		Verifier:  verifier,
		Health:    HealthInfo{StoreDriver: "memory"},
	})
	return app
}

func do(t *testing.T, app *fiber.App, method, target, body string, header ...string) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

// TestForecastDaysValidation verifies that the forecast endpoint enforces the
// 1-16 range for the `days` query parameter.
func TestForecastDaysValidation(t *testing.T) {
	app := newTestApp(t, weather.Reading{}, nil)
	body := `{"latitude":40.71,"longitude":-74.01}`

	status, out := do(t, app, http.MethodPost, "/api/v1/weather/forecast?days=3", body)
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%v)", http.StatusOK, status, out)
	}
	if days, _ := out["forecasts"].([]interface{}); len(days) != 3 {
		t.Fatalf("expected 3 forecast days, got %v", out["forecasts"])
	}

	for _, q := range []string{"days=17", "days=0", "days=abc"} {
		status, out = do(t, app, http.MethodPost, "/api/v1/weather/forecast?"+q, body)
		if status != http.StatusBadRequest {
			t.Fatalf("%s: expected status %d, got %d", q, http.StatusBadRequest, status)
		}
		if out["error"] != true {
			t.Fatalf("%s: expected error envelope, got %v", q, out)
		}
	}
}

func TestCurrentWeather(t *testing.T) {
	app := newTestApp(t, weather.Reading{Temperature: 72}, nil)

	status, out := do(t, app, http.MethodPost, "/api/v1/weather/current?temperature_unit=celsius", `{"latitude":40.71,"longitude":-74.01}`)
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, status)
	}
	if out["temperature_unit"] != "celsius" || out["temperature"] != 72.0 {
		t.Fatalf("unexpected reading %v", out)
	}

	if status, _ = do(t, app, http.MethodPost, "/api/v1/weather/current", `{"latitude":123,"longitude":0}`); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid location, got %d", status)
	}
	if status, _ = do(t, app, http.MethodPost, "/api/v1/weather/current", `{"longitude":0}`); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing latitude, got %d", status)
	}
	if status, _ = do(t, app, http.MethodPost, "/api/v1/weather/current?temperature_unit=kelvin", `{"latitude":1,"longitude":1}`); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown unit, got %d", status)
	}
}

func TestGeocodeRoutes(t *testing.T) {
	app := newTestApp(t, weather.Reading{}, nil)

	status, out := do(t, app, http.MethodPost, "/api/v1/geocode", `{"query":"Paris","limit":3}`)
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, status)
	}
	if locs, _ := out["locations"].([]interface{}); len(locs) != 1 {
		t.Fatalf("expected one location, got %v", out)
	}
	if status, _ = do(t, app, http.MethodPost, "/api/v1/geocode", `{"query":"Paris","limit":99}`); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit above maximum, got %d", status)
	}
	if status, _ = do(t, app, http.MethodPost, "/api/v1/reverse-geocode", `{"latitude":48.85,"longitude":2.35}`); status != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, status)
	}
}

func TestAlertSubscriptionLifecycle(t *testing.T) {
	app := newTestApp(t, weather.Reading{Temperature: 101}, nil)

	status, out := do(t, app, http.MethodPost, "/api/v1/alerts/subscribe",
		`{"user_id":"u1","latitude":40.71,"longitude":-74.01,"location_name":"New York"}`)
	if status != http.StatusOK || out["status"] != "subscribed" {
		t.Fatalf("expected subscription, got %d %v", status, out)
	}

	status, out = do(t, app, http.MethodGet, "/api/v1/alerts/subscriptions", "")
	if status != http.StatusOK || out["count"] != 1.0 {
		t.Fatalf("expected one subscription, got %d %v", status, out)
	}

	status, out = do(t, app, http.MethodPost, "/api/v1/alerts/check/u1", "")
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, status)
	}
	events, _ := out["alerts"].([]interface{})
	if len(events) != 1 {
		t.Fatalf("expected one alert, got %v", out)
	}
	if ev := events[0].(map[string]interface{}); ev["kind"] != string(alerts.RuleTemperatureHigh) {
		t.Fatalf("expected high temperature alert, got %v", ev)
	}

	if status, _ = do(t, app, http.MethodDelete, "/api/v1/alerts/unsubscribe/u1", ""); status != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, status)
	}
	if status, _ = do(t, app, http.MethodGet, "/api/v1/alerts/subscriptions/u1", ""); status != http.StatusNotFound {
		t.Fatalf("expected 404 after unsubscribe, got %d", status)
	}
	if status, _ = do(t, app, http.MethodPost, "/api/v1/alerts/check/u1", ""); status != http.StatusNotFound {
		t.Fatalf("expected 404 checking without subscription, got %d", status)
	}
}

func TestSubscribeValidation(t *testing.T) {
	app := newTestApp(t, weather.Reading{}, nil)

	cases := map[string]string{
		"all categories off": `{"user_id":"u1","latitude":1,"longitude":1,"rain_alerts":false,"temperature_alerts":false,"severe_weather_alerts":false}`,
		"bad latitude":       `{"user_id":"u1","latitude":-91,"longitude":1}`,
		"missing user":       `{"latitude":1,"longitude":1}`,
		"duplicate rules":    `{"user_id":"u1","latitude":1,"longitude":1,"rules":[{"kind":"high-wind","threshold":40},{"kind":"high-wind","threshold":50}]}`,
	}
	for name, body := range cases {
		if status, out := do(t, app, http.MethodPost, "/api/v1/alerts/subscribe", body); status != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d %v", name, status, out)
		}
	}

	// Query-parameter form used by older clients.
	status, out := do(t, app, http.MethodPost, "/api/v1/alerts/subscribe?user_id=u2&latitude=51.5&longitude=-0.12&location_name=London&rain_alerts=false", "")
	if status != http.StatusOK {
		t.Fatalf("expected query-parameter subscribe to succeed, got %d %v", status, out)
	}
	sub := out["subscription"].(map[string]interface{})
	for _, r := range sub["rules"].([]interface{}) {
		if r.(map[string]interface{})["kind"] == string(alerts.RuleRainExpected) {
			t.Fatalf("expected rain rule to be disabled, got %v", sub["rules"])
		}
	}
}

func TestNotificationRoutes(t *testing.T) {
	app := newTestApp(t, weather.Reading{}, nil)

	if status, _ := do(t, app, http.MethodPost, "/api/v1/notifications/test", `{"user_id":"u1"}`); status != http.StatusConflict {
		t.Fatalf("expected 409 without a device, got %d", status)
	}
	if status, _ := do(t, app, http.MethodPost, "/api/v1/notifications/register", `{"user_id":"u1","device_token":"tok","platform":"ios"}`); status != http.StatusOK {
		t.Fatalf("expected registration, got %d", status)
	}
	if status, _ := do(t, app, http.MethodPost, "/api/v1/notifications/test", `{"user_id":"u1","title":"Hi","body":"there"}`); status != http.StatusOK {
		t.Fatalf("expected test notification to send, got %d", status)
	}
	if status, _ := do(t, app, http.MethodPost, "/api/v1/notifications/schedule-reminder", `{"user_id":"u1","event_name":"Picnic","weather_info":"Rain at 3pm","recommendation":"Bring an umbrella"}`); status != http.StatusOK {
		t.Fatalf("expected schedule reminder to send, got %d", status)
	}
	if status, _ := do(t, app, http.MethodDelete, "/api/v1/notifications/unregister/u1", ""); status != http.StatusOK {
		t.Fatalf("expected unregister, got %d", status)
	}
	if status, _ := do(t, app, http.MethodDelete, "/api/v1/notifications/unregister/u1", ""); status != http.StatusNotFound {
		t.Fatalf("expected 404 on second unregister, got %d", status)
	}
	if status, _ := do(t, app, http.MethodPost, "/api/v1/notifications/register", `{"user_id":"u1","device_token":"tok","platform":"palm"}`); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown platform, got %d", status)
	}
}

func TestUnconfiguredCollaborators(t *testing.T) {
	app := newTestApp(t, weather.Reading{}, nil)

	if status, _ := do(t, app, http.MethodGet, "/api/v1/calendar/events", ""); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for calendar, got %d", status)
	}
	if status, _ := do(t, app, http.MethodPost, "/api/v1/chat", `{"user_id":"u1","message":"hi"}`); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for chat, got %d", status)
	}

	status, out := do(t, app, http.MethodGet, "/health", "")
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, status)
	}
	services := out["services"].(map[string]interface{})
	if services["calendar"] != false || services["agent"] != false || services["store"] != "memory" {
		t.Fatalf("unexpected services %v", services)
	}
	if services["push_backend"] != "log" || services["registered_devices"] != float64(0) {
		t.Fatalf("expected log push backend and no devices, got %v", services)
	}

	if status, _ := do(t, app, http.MethodPost, "/api/v1/notifications/register", `{"user_id":"u1","device_token":"tok"}`); status != http.StatusOK {
		t.Fatalf("expected register to succeed, got %d", status)
	}
	_, out = do(t, app, http.MethodGet, "/health", "")
	if got := out["services"].(map[string]interface{})["registered_devices"]; got != float64(1) {
		t.Fatalf("expected 1 registered device, got %v", got)
	}
}

func TestToolRoutes(t *testing.T) {
	app := newTestApp(t, weather.Reading{Temperature: 55}, nil)

	status, out := do(t, app, http.MethodGet, "/api/v1/tools", "")
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, status)
	}
	if tools, _ := out["tools"].([]interface{}); len(tools) != 7 {
		t.Fatalf("expected 7 tools, got %d", len(tools))
	}

	status, out = do(t, app, http.MethodPost, "/api/v1/tools/get_current_weather", `{"latitude":40.71,"longitude":-74.01}`)
	if status != http.StatusOK {
		t.Fatalf("expected status %d, got %d (%v)", http.StatusOK, status, out)
	}
	if result := out["result"].(map[string]interface{}); result["temperature"] != 55.0 {
		t.Fatalf("unexpected tool result %v", out)
	}

	if status, _ = do(t, app, http.MethodPost, "/api/v1/tools/launch_rocket", `{}`); status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tool, got %d", status)
	}
}

func TestBearerAuth(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")
	app := newTestApp(t, weather.Reading{}, verifier)

	if status, _ := do(t, app, http.MethodGet, "/api/v1/health", ""); status != http.StatusOK {
		t.Fatalf("expected health without token, got %d", status)
	}
	if status, _ := do(t, app, http.MethodGet, "/api/v1/alerts/subscriptions/u1", ""); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}

	token, err := verifier.Generate("u1", time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	bearer := "Bearer " + token

	if status, _ := do(t, app, http.MethodGet, "/api/v1/alerts/subscriptions/u2", "", "Authorization", bearer); status != http.StatusForbidden {
		t.Fatalf("expected 403 for another user, got %d", status)
	}
	if status, _ := do(t, app, http.MethodGet, "/api/v1/alerts/subscriptions/u1", "", "Authorization", bearer); status != http.StatusNotFound {
		t.Fatalf("expected 404 for own missing subscription, got %d", status)
	}
	if status, _ := do(t, app, http.MethodGet, "/api/v1/alerts/subscriptions", "", "Authorization", "Bearer nope"); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", status)
	}
}
