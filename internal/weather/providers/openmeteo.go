package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/weather-assistant/internal/upstream"
	"github.com/i474232898/weather-assistant/internal/weather"
)

// DefaultOpenMeteoBaseURL is the public Open-Meteo API root.
const DefaultOpenMeteoBaseURL = "https://api.open-meteo.com/v1"

var (
	openMeteoCurrentFields = []string{
		"temperature_2m", "relative_humidity_2m", "apparent_temperature", "is_day",
		"precipitation", "rain", "weather_code", "cloud_cover",
		"wind_speed_10m", "wind_direction_10m", "wind_gusts_10m",
	}
	openMeteoDailyFields = []string{
		"weather_code", "temperature_2m_max", "temperature_2m_min",
		"apparent_temperature_max", "apparent_temperature_min", "sunrise", "sunset",
		"precipitation_sum", "precipitation_hours", "precipitation_probability_max",
		"wind_speed_10m_max", "wind_gusts_10m_max", "uv_index_max",
	}
	openMeteoHourlyFields = []string{
		"temperature_2m", "relative_humidity_2m", "apparent_temperature",
		"precipitation_probability", "precipitation", "weather_code", "cloud_cover",
		"wind_speed_10m", "wind_gusts_10m", "uv_index", "is_day",
	}
)

// OpenMeteoProvider implements weather.Provider and weather.ForecastProvider
// for Open-Meteo. It needs no API key.
type OpenMeteoProvider struct {
	baseURL string
	client  *upstream.Client
}

func NewOpenMeteoProvider(baseURL string, cfg upstream.Config) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoBaseURL
	}
	return &OpenMeteoProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  upstream.New("openmeteo", cfg),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return "openmeteo"
}

func (p *OpenMeteoProvider) Current(ctx context.Context, loc weather.Location, unit weather.Unit) (weather.Reading, error) {
	values := p.query(loc, unit)
	values.Set("current", strings.Join(openMeteoCurrentFields, ","))

	var payload struct {
		openMeteoEnvelope
		Current struct {
			Time          string   `json:"time"`
			Temperature   *float64 `json:"temperature_2m"`
			Humidity      *float64 `json:"relative_humidity_2m"`
			FeelsLike     *float64 `json:"apparent_temperature"`
			IsDay         *int     `json:"is_day"`
			Precipitation *float64 `json:"precipitation"`
			Rain          *float64 `json:"rain"`
			WeatherCode   *int     `json:"weather_code"`
			CloudCover    *float64 `json:"cloud_cover"`
			WindSpeed     *float64 `json:"wind_speed_10m"`
			WindDirection *float64 `json:"wind_direction_10m"`
			WindGusts     *float64 `json:"wind_gusts_10m"`
		} `json:"current"`
	}
	if err := p.client.GetJSON(ctx, p.forecastURL(values), &payload); err != nil {
		return weather.Reading{}, err
	}

	c := payload.Current
	code := intOr(c.WeatherCode)

	return weather.Reading{
		ProviderName:  p.Name(),
		Timestamp:     parseLocalTime(c.Time, payload.UTCOffsetSeconds),
		Location:      payload.location(loc),
		Unit:          unit,
		Timezone:      payload.Timezone,
		Temperature:   floatOr(c.Temperature),
		FeelsLike:     floatOr(c.FeelsLike),
		Humidity:      floatOr(c.Humidity),
		Precipitation: floatOr(c.Precipitation),
		Rain:          floatOr(c.Rain),
		CloudCover:    floatOr(c.CloudCover),
		WindSpeed:     floatOr(c.WindSpeed),
		WindDirection: floatOr(c.WindDirection),
		WindGusts:     floatOr(c.WindGusts),
		IsDay:         intOr(c.IsDay) == 1,
		WeatherCode:   code,
		Description:   weather.Describe(code),
		Condition:     weather.ConditionFromCode(code),
	}, nil
}

func (p *OpenMeteoProvider) Daily(ctx context.Context, loc weather.Location, days int, unit weather.Unit) (weather.Forecast, error) {
	values := p.query(loc, unit)
	values.Set("daily", strings.Join(openMeteoDailyFields, ","))
	values.Set("forecast_days", strconv.Itoa(days))

	var payload struct {
		openMeteoEnvelope
		Daily struct {
			Time               []string   `json:"time"`
			WeatherCode        []*int     `json:"weather_code"`
			TempMax            []*float64 `json:"temperature_2m_max"`
			TempMin            []*float64 `json:"temperature_2m_min"`
			FeelsLikeMax       []*float64 `json:"apparent_temperature_max"`
			FeelsLikeMin       []*float64 `json:"apparent_temperature_min"`
			Sunrise            []string   `json:"sunrise"`
			Sunset             []string   `json:"sunset"`
			PrecipitationSum   []*float64 `json:"precipitation_sum"`
			PrecipitationHours []*float64 `json:"precipitation_hours"`
			PrecipitationProb  []*float64 `json:"precipitation_probability_max"`
			WindSpeedMax       []*float64 `json:"wind_speed_10m_max"`
			WindGustsMax       []*float64 `json:"wind_gusts_10m_max"`
			UVIndexMax         []*float64 `json:"uv_index_max"`
		} `json:"daily"`
	}
	if err := p.client.GetJSON(ctx, p.forecastURL(values), &payload); err != nil {
		return weather.Forecast{}, err
	}

	d := payload.Daily
	out := weather.Forecast{
		Location: payload.location(loc),
		Unit:     unit,
		Timezone: payload.Timezone,
		Days:     make([]weather.DailyForecast, 0, len(d.Time)),
	}
	for i, date := range d.Time {
		code := intOr(intAt(d.WeatherCode, i))
		out.Days = append(out.Days, weather.DailyForecast{
			Date:                     date,
			WeatherCode:              code,
			Description:              weather.Describe(code),
			TempHigh:                 floatOr(floatAt(d.TempMax, i)),
			TempLow:                  floatOr(floatAt(d.TempMin, i)),
			FeelsLikeHigh:            floatOr(floatAt(d.FeelsLikeMax, i)),
			FeelsLikeLow:             floatOr(floatAt(d.FeelsLikeMin, i)),
			Sunrise:                  stringAt(d.Sunrise, i),
			Sunset:                   stringAt(d.Sunset, i),
			Precipitation:            floatOr(floatAt(d.PrecipitationSum, i)),
			PrecipitationProbability: floatAt(d.PrecipitationProb, i),
			PrecipitationHours:       floatOr(floatAt(d.PrecipitationHours, i)),
			WindSpeedMax:             floatOr(floatAt(d.WindSpeedMax, i)),
			WindGustsMax:             floatOr(floatAt(d.WindGustsMax, i)),
			UVIndexMax:               floatOr(floatAt(d.UVIndexMax, i)),
		})
	}
	return out, nil
}

func (p *OpenMeteoProvider) Hourly(ctx context.Context, loc weather.Location, hours int, unit weather.Unit) (weather.HourlyOutlook, error) {
	values := p.query(loc, unit)
	values.Set("hourly", strings.Join(openMeteoHourlyFields, ","))
	values.Set("forecast_hours", strconv.Itoa(hours))

	var payload struct {
		openMeteoEnvelope
		Hourly struct {
			Time              []string   `json:"time"`
			Temperature       []*float64 `json:"temperature_2m"`
			Humidity          []*float64 `json:"relative_humidity_2m"`
			FeelsLike         []*float64 `json:"apparent_temperature"`
			PrecipitationProb []*float64 `json:"precipitation_probability"`
			Precipitation     []*float64 `json:"precipitation"`
			WeatherCode       []*int     `json:"weather_code"`
			CloudCover        []*float64 `json:"cloud_cover"`
			WindSpeed         []*float64 `json:"wind_speed_10m"`
			WindGusts         []*float64 `json:"wind_gusts_10m"`
			UVIndex           []*float64 `json:"uv_index"`
			IsDay             []*int     `json:"is_day"`
		} `json:"hourly"`
	}
	if err := p.client.GetJSON(ctx, p.forecastURL(values), &payload); err != nil {
		return weather.HourlyOutlook{}, err
	}

	h := payload.Hourly
	n := len(h.Time)
	if n > hours {
		n = hours
	}
	out := weather.HourlyOutlook{
		Location: payload.location(loc),
		Unit:     unit,
		Timezone: payload.Timezone,
		Hours:    make([]weather.HourlyForecast, 0, n),
	}
	for i := 0; i < n; i++ {
		code := intOr(intAt(h.WeatherCode, i))
		out.Hours = append(out.Hours, weather.HourlyForecast{
			Time:                     h.Time[i],
			Temperature:              floatOr(floatAt(h.Temperature, i)),
			FeelsLike:                floatOr(floatAt(h.FeelsLike, i)),
			Humidity:                 floatOr(floatAt(h.Humidity, i)),
			PrecipitationProbability: floatAt(h.PrecipitationProb, i),
			Precipitation:            floatOr(floatAt(h.Precipitation, i)),
			WeatherCode:              code,
			Description:              weather.Describe(code),
			CloudCover:               floatOr(floatAt(h.CloudCover, i)),
			WindSpeed:                floatOr(floatAt(h.WindSpeed, i)),
			WindGusts:                floatOr(floatAt(h.WindGusts, i)),
			UVIndex:                  floatOr(floatAt(h.UVIndex, i)),
			IsDay:                    intOr(intAt(h.IsDay, i)) == 1,
		})
	}
	return out, nil
}

// query carries the parameters every Open-Meteo call shares. Wind is always
// requested in mph and precipitation in inches.
func (p *OpenMeteoProvider) query(loc weather.Location, unit weather.Unit) url.Values {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	values.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	values.Set("temperature_unit", string(unit))
	values.Set("wind_speed_unit", "mph")
	values.Set("precipitation_unit", "inch")
	values.Set("timezone", "auto")
	return values
}

func (p *OpenMeteoProvider) forecastURL(values url.Values) string {
	return fmt.Sprintf("%s/forecast?%s", p.baseURL, values.Encode())
}

type openMeteoEnvelope struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Timezone         string  `json:"timezone"`
	UTCOffsetSeconds int     `json:"utc_offset_seconds"`
}

// location echoes the grid point Open-Meteo answered for, keeping the
// caller's name.
func (e openMeteoEnvelope) location(requested weather.Location) weather.Location {
	if e.Latitude == 0 && e.Longitude == 0 {
		return requested
	}
	return weather.Location{Latitude: e.Latitude, Longitude: e.Longitude, Name: requested.Name}
}

// parseLocalTime parses Open-Meteo's "2006-01-02T15:04" local timestamps into UTC.
func parseLocalTime(s string, offsetSeconds int) time.Time {
	ts, err := time.ParseInLocation("2006-01-02T15:04", s, time.FixedZone("", offsetSeconds))
	if err != nil {
		return time.Now().UTC()
	}
	return ts.UTC()
}

func floatOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func intOr(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func floatAt(vals []*float64, i int) *float64 {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

func intAt(vals []*int, i int) *int {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

func stringAt(vals []string, i int) string {
	if i < len(vals) {
		return vals[i]
	}
	return ""
}
