package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/i474232898/weather-assistant/internal/calendar"
	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/geocoding"
	"github.com/i474232898/weather-assistant/internal/weather"
)

// WeatherService answers the weather tools.
type WeatherService interface {
	Current(ctx context.Context, loc weather.Location, unit weather.Unit) (weather.Reading, error)
	Forecast(ctx context.Context, loc weather.Location, days int, unit weather.Unit) (weather.Forecast, error)
	Hourly(ctx context.Context, loc weather.Location, hours int, unit weather.Unit) (weather.HourlyOutlook, error)
}

// GeocodingService answers the location tools.
type GeocodingService interface {
	Geocode(ctx context.Context, query string, limit int) ([]geocoding.Place, error)
	Reverse(ctx context.Context, lat, lon float64) (geocoding.Place, error)
}

// CalendarService answers the calendar tools.
type CalendarService interface {
	UpcomingEvents(ctx context.Context, daysAhead, maxResults int) ([]calendar.Event, error)
	CreateReminder(ctx context.Context, title string, eventTime time.Time, weatherNote string) (calendar.Event, error)
}

// Property is one JSON-schema property of a tool's parameters.
type Property struct {
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// Parameters is the JSON-schema object a tool accepts.
type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Tool is a function definition in the agent's function-calling protocol.
type Tool struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

type handler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// ToolRegistry holds the tool definitions and executes calls against the
// backend services.
type ToolRegistry struct {
	tools    []Tool
	handlers map[string]handler
}

var (
	latitudeProp  = Property{Type: "number", Description: "Latitude of the location"}
	longitudeProp = Property{Type: "number", Description: "Longitude of the location"}
	unitProp      = Property{
		Type:        "string",
		Description: "Temperature unit preference",
		Enum:        []string{string(weather.UnitFahrenheit), string(weather.UnitCelsius)},
		Default:     string(weather.UnitFahrenheit),
	}
)

// NewToolRegistry registers the weather, location and calendar tools.
func NewToolRegistry(w WeatherService, g GeocodingService, c CalendarService) *ToolRegistry {
	r := &ToolRegistry{handlers: make(map[string]handler)}

	r.register(Tool{
		Name:        "get_current_weather",
		Description: "Get current weather conditions for a location. Use when the user asks about the weather right now.",
		Parameters: Parameters{
			Type:       "object",
			Properties: map[string]Property{"latitude": latitudeProp, "longitude": longitudeProp, "temperature_unit": unitProp},
			Required:   []string{"latitude", "longitude"},
		},
	}, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args pointArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		unit, err := weather.ParseUnit(args.TemperatureUnit)
		if err != nil {
			return nil, err
		}
		return w.Current(ctx, args.location(), unit)
	})

	r.register(Tool{
		Name:        "get_weather_forecast",
		Description: "Get the daily forecast for upcoming days. Use when the user plans ahead or asks about future weather.",
		Parameters: Parameters{
			Type: "object",
			Properties: map[string]Property{
				"latitude":         latitudeProp,
				"longitude":        longitudeProp,
				"days":             {Type: "integer", Description: fmt.Sprintf("Number of days to forecast (1-%d)", weather.MaxForecastDays), Default: 7},
				"temperature_unit": unitProp,
			},
			Required: []string{"latitude", "longitude"},
		},
	}, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		args := pointArgs{Days: 7}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		unit, err := weather.ParseUnit(args.TemperatureUnit)
		if err != nil {
			return nil, err
		}
		return w.Forecast(ctx, args.location(), args.Days, unit)
	})

	r.register(Tool{
		Name:        "get_hourly_forecast",
		Description: "Get an hour-by-hour forecast. Use for precise timing of activities.",
		Parameters: Parameters{
			Type: "object",
			Properties: map[string]Property{
				"latitude":         latitudeProp,
				"longitude":        longitudeProp,
				"hours":            {Type: "integer", Description: fmt.Sprintf("Number of hours to forecast (max %d)", weather.MaxForecastHours), Default: 24},
				"temperature_unit": unitProp,
			},
			Required: []string{"latitude", "longitude"},
		},
	}, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		args := pointArgs{Hours: 24}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		unit, err := weather.ParseUnit(args.TemperatureUnit)
		if err != nil {
			return nil, err
		}
		return w.Hourly(ctx, args.location(), args.Hours, unit)
	})

	r.register(Tool{
		Name:        "geocode_location",
		Description: "Convert a place name or address to coordinates. Use when the user names a location.",
		Parameters: Parameters{
			Type: "object",
			Properties: map[string]Property{
				"query": {Type: "string", Description: "Place name, address or city to search for"},
				"limit": {Type: "integer", Description: "Maximum number of results", Default: 3},
			},
			Required: []string{"query"},
		},
	}, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		args := struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}{Limit: 3}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		places, err := g.Geocode(ctx, args.Query, args.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"locations": places}, nil
	})

	r.register(Tool{
		Name:        "reverse_geocode",
		Description: "Convert coordinates to a place name and address.",
		Parameters: Parameters{
			Type:       "object",
			Properties: map[string]Property{"latitude": latitudeProp, "longitude": longitudeProp},
			Required:   []string{"latitude", "longitude"},
		},
	}, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args pointArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return g.Reverse(ctx, args.Latitude, args.Longitude)
	})

	r.register(Tool{
		Name:        "get_calendar_events",
		Description: "Get the user's upcoming calendar events. Use to check their schedule when planning weather-dependent activities.",
		Parameters: Parameters{
			Type: "object",
			Properties: map[string]Property{
				"days_ahead":  {Type: "integer", Description: "Number of days ahead to check", Default: calendar.DefaultDaysAhead},
				"max_results": {Type: "integer", Description: "Maximum number of events to return", Default: calendar.DefaultMaxResults},
			},
			Required: []string{},
		},
	}, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		args := struct {
			DaysAhead  int `json:"days_ahead"`
			MaxResults int `json:"max_results"`
		}{DaysAhead: calendar.DefaultDaysAhead, MaxResults: calendar.DefaultMaxResults}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		events, err := c.UpcomingEvents(ctx, args.DaysAhead, args.MaxResults)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"events": events}, nil
	})

	r.register(Tool{
		Name:        "create_weather_reminder",
		Description: "Create a weather reminder in the user's calendar, for example to bring an umbrella or a jacket.",
		Parameters: Parameters{
			Type: "object",
			Properties: map[string]Property{
				"title":        {Type: "string", Description: "Reminder title (e.g. 'Bring umbrella')"},
				"event_time":   {Type: "string", Description: "ISO 8601 date-time of the reminder"},
				"weather_note": {Type: "string", Description: "Weather reason for the reminder"},
			},
			Required: []string{"title", "event_time", "weather_note"},
		},
	}, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args struct {
			Title       string `json:"title"`
			EventTime   string `json:"event_time"`
			WeatherNote string `json:"weather_note"`
		}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		at, err := ParseEventTime(args.EventTime)
		if err != nil {
			return nil, err
		}
		return c.CreateReminder(ctx, args.Title, at, args.WeatherNote)
	})

	return r
}

func (r *ToolRegistry) register(t Tool, h handler) {
	r.tools = append(r.tools, t)
	r.handlers[t.Name] = h
}

// Definitions returns the tool definitions in registration order.
func (r *ToolRegistry) Definitions() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Invoke runs the named tool with JSON-encoded arguments.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return h(ctx, args)
}

type pointArgs struct {
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	TemperatureUnit string  `json:"temperature_unit"`
	Days            int     `json:"days"`
	Hours           int     `json:"hours"`
}

func (a pointArgs) location() weather.Location {
	return weather.Location{Latitude: a.Latitude, Longitude: a.Longitude}
}

func decodeArgs(raw json.RawMessage, out interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed tool arguments: %v", common.ErrInvalidQuery, err)
	}
	return nil
}

var eventTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"}

// ParseEventTime parses an ISO 8601 date-time. Values without a zone are UTC.
func ParseEventTime(s string) (time.Time, error) {
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: event_time %q is not an ISO 8601 date-time", common.ErrInvalidQuery, s)
}
