package httpapi

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-assistant/internal/alerts"
	"github.com/i474232898/weather-assistant/internal/weather"
)

var validate = validator.New()

// bind reads a JSON body when one is sent and query parameters otherwise,
// then validates the result.
func bind(c *fiber.Ctx, out interface{}) error {
	var err error
	if len(c.Body()) > 0 {
		err = c.BodyParser(out)
	} else {
		err = c.QueryParser(out)
	}
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request: "+err.Error())
	}
	return validate.Struct(out)
}

// locationRequest holds a coordinate pair. Range checks happen in the
// services so they surface as invalid-location errors.
type locationRequest struct {
	Latitude  *float64 `json:"latitude" query:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" query:"longitude" validate:"required"`
}

func (l locationRequest) toLocation() weather.Location {
	return weather.Location{Latitude: *l.Latitude, Longitude: *l.Longitude}
}

type chatRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Message string `json:"message" validate:"required"`
}

type geocodeRequest struct {
	Query string `json:"query" query:"query" validate:"required"`
	Limit int    `json:"limit" query:"limit" validate:"omitempty,min=1,max=40"`
}

type reminderRequest struct {
	UserID      string `json:"user_id"`
	Title       string `json:"title" validate:"required"`
	EventTime   string `json:"event_time" validate:"required"`
	WeatherNote string `json:"weather_note"`
}

type agentRequest struct {
	UserID string `json:"user_id" query:"user_id" validate:"required"`
}

type registerDeviceRequest struct {
	UserID      string `json:"user_id" query:"user_id" validate:"required"`
	DeviceToken string `json:"device_token" query:"device_token" validate:"required"`
	Platform    string `json:"platform" query:"platform" validate:"omitempty,oneof=ios android web"`
}

type testNotificationRequest struct {
	UserID string `json:"user_id" query:"user_id" validate:"required"`
	Title  string `json:"title" query:"title"`
	Body   string `json:"body" query:"body" validate:"required_with=Title"`
}

type scheduleReminderRequest struct {
	UserID         string `json:"user_id" validate:"required"`
	EventName      string `json:"event_name" validate:"required"`
	WeatherInfo    string `json:"weather_info" validate:"required"`
	Recommendation string `json:"recommendation"`
}

// subscribeRequest accepts either explicit rules or the per-category flags
// of older clients. Unset flags count as enabled.
type subscribeRequest struct {
	UserID              string        `json:"user_id" query:"user_id" validate:"required"`
	Latitude            *float64      `json:"latitude" query:"latitude" validate:"required"`
	Longitude           *float64      `json:"longitude" query:"longitude" validate:"required"`
	LocationName        string        `json:"location_name" query:"location_name"`
	TemperatureUnit     string        `json:"temperature_unit" query:"temperature_unit"`
	Rules               []alerts.Rule `json:"rules" query:"-"`
	RainAlerts          *bool         `json:"rain_alerts" query:"rain_alerts"`
	TemperatureAlerts   *bool         `json:"temperature_alerts" query:"temperature_alerts"`
	SevereWeatherAlerts *bool         `json:"severe_weather_alerts" query:"severe_weather_alerts"`
}

// rules returns the explicit rules, or the default rules narrowed by the
// category flags.
func (r subscribeRequest) rules(unit weather.Unit) []alerts.Rule {
	if len(r.Rules) > 0 {
		return r.Rules
	}
	enabled := func(flag *bool) bool { return flag == nil || *flag }

	var out []alerts.Rule
	for _, rule := range alerts.DefaultRules(unit) {
		switch rule.Kind {
		case alerts.RuleRainExpected:
			if !enabled(r.RainAlerts) {
				continue
			}
		case alerts.RuleTemperatureHigh, alerts.RuleTemperatureLow:
			if !enabled(r.TemperatureAlerts) {
				continue
			}
		case alerts.RuleSevereWeather, alerts.RuleHighWind:
			if !enabled(r.SevereWeatherAlerts) {
				continue
			}
		}
		out = append(out, rule)
	}
	return out
}
