package weather

import (
	"fmt"
	"strings"
	"time"

	"github.com/i474232898/weather-assistant/internal/common"
)

const (
	// MaxForecastDays is the longest daily forecast the upstream provider serves.
	MaxForecastDays = 16
	// MaxForecastHours is the longest hourly forecast the upstream provider serves.
	MaxForecastHours = 384
	// RainLookaheadHours is how many hourly slots an Observation scans for rain.
	RainLookaheadHours = 6
)

// Unit is the temperature unit readings are expressed in.
// Wind speed is always mph and precipitation always inches.
type Unit string

const (
	UnitFahrenheit Unit = "fahrenheit"
	UnitCelsius    Unit = "celsius"
)

// ParseUnit parses a temperature unit; empty means fahrenheit.
func ParseUnit(s string) (Unit, error) {
	switch Unit(strings.ToLower(strings.TrimSpace(s))) {
	case "", UnitFahrenheit:
		return UnitFahrenheit, nil
	case UnitCelsius:
		return UnitCelsius, nil
	default:
		return "", fmt.Errorf("%w: unsupported temperature unit %q", common.ErrInvalidQuery, s)
	}
}

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// Location is a geographic point with an optional human-readable name.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

// Key returns a canonical string key for indexing this location.
func (l Location) Key() string {
	return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
}

// Valid reports whether the coordinates are within range.
func (l Location) Valid() bool {
	return ValidCoordinates(l.Latitude, l.Longitude)
}

// ValidCoordinates reports whether lat is in [-90,90] and lon in [-180,180].
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Reading is a normalized current-conditions sample from one provider.
type Reading struct {
	ProviderName string    `json:"provider"`
	Timestamp    time.Time `json:"timestamp"` // always UTC
	Location     Location  `json:"location"`
	Unit         Unit      `json:"temperature_unit"`
	Timezone     string    `json:"timezone,omitempty"`

	Temperature   float64 `json:"temperature"`
	FeelsLike     float64 `json:"feels_like"`
	Humidity      float64 `json:"humidity"`
	Precipitation float64 `json:"precipitation"`
	Rain          float64 `json:"rain"`
	CloudCover    float64 `json:"cloud_cover"`
	WindSpeed     float64 `json:"wind_speed"`
	WindDirection float64 `json:"wind_direction"`
	WindGusts     float64 `json:"wind_gusts"`
	IsDay         bool    `json:"is_day"`

	WeatherCode int       `json:"weather_code"`
	Description string    `json:"weather_description"`
	Condition   Condition `json:"condition"`
}

// DailyForecast is one day of a multi-day forecast.
type DailyForecast struct {
	Date                     string   `json:"date"`
	WeatherCode              int      `json:"weather_code"`
	Description              string   `json:"weather_description"`
	TempHigh                 float64  `json:"temp_high"`
	TempLow                  float64  `json:"temp_low"`
	FeelsLikeHigh            float64  `json:"feels_like_high"`
	FeelsLikeLow             float64  `json:"feels_like_low"`
	Sunrise                  string   `json:"sunrise,omitempty"`
	Sunset                   string   `json:"sunset,omitempty"`
	Precipitation            float64  `json:"precipitation"`
	PrecipitationProbability *float64 `json:"precipitation_probability"`
	PrecipitationHours       float64  `json:"precipitation_hours"`
	WindSpeedMax             float64  `json:"wind_speed_max"`
	WindGustsMax             float64  `json:"wind_gusts_max"`
	UVIndexMax               float64  `json:"uv_index_max"`
}

// Forecast is a daily forecast, ordered by date ascending.
type Forecast struct {
	Location Location        `json:"location"`
	Unit     Unit            `json:"temperature_unit"`
	Timezone string          `json:"timezone,omitempty"`
	Days     []DailyForecast `json:"forecasts"`
}

// HourlyForecast is one hourly slot.
type HourlyForecast struct {
	Time                     string   `json:"time"`
	Temperature              float64  `json:"temperature"`
	FeelsLike                float64  `json:"feels_like"`
	Humidity                 float64  `json:"humidity"`
	PrecipitationProbability *float64 `json:"precipitation_probability"`
	Precipitation            float64  `json:"precipitation"`
	WeatherCode              int      `json:"weather_code"`
	Description              string   `json:"weather_description"`
	CloudCover               float64  `json:"cloud_cover"`
	WindSpeed                float64  `json:"wind_speed"`
	WindGusts                float64  `json:"wind_gusts"`
	UVIndex                  float64  `json:"uv_index"`
	IsDay                    bool     `json:"is_day"`
}

// HourlyOutlook is an hourly forecast, ordered by time ascending.
type HourlyOutlook struct {
	Location Location         `json:"location"`
	Unit     Unit             `json:"temperature_unit"`
	Timezone string           `json:"timezone,omitempty"`
	Hours    []HourlyForecast `json:"forecasts"`
}

// Observation is what alert rules are evaluated against: the current reading
// plus the peak precipitation probability over the next few hours, when known.
type Observation struct {
	Reading
	PrecipitationProbability *float64 `json:"precipitation_probability"`
}

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 {
	return &v
}
