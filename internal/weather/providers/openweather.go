package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/upstream"
	"github.com/i474232898/weather-assistant/internal/weather"
)

const DefaultOpenWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

// OpenWeatherProvider implements weather.Provider for OpenWeatherMap. It only
// serves current conditions and is used as a fallback.
type OpenWeatherProvider struct {
	apiKey  string
	baseURL string
	client  *upstream.Client
}

func NewOpenWeatherProvider(baseURL, apiKey string, cfg upstream.Config) *OpenWeatherProvider {
	if baseURL == "" {
		baseURL = DefaultOpenWeatherBaseURL
	}
	return &OpenWeatherProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  upstream.New("openweathermap", cfg),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return "openweathermap"
}

func (p *OpenWeatherProvider) Current(ctx context.Context, loc weather.Location, unit weather.Unit) (weather.Reading, error) {
	if p.apiKey == "" {
		return weather.Reading{}, fmt.Errorf("%w: openweather api key is not configured", common.ErrUpstreamUnavailable)
	}

	values := url.Values{}
	values.Set("appid", p.apiKey)
	values.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	values.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	// imperial gives fahrenheit and mph; metric gives celsius and m/s.
	if unit == weather.UnitCelsius {
		values.Set("units", "metric")
	} else {
		values.Set("units", "imperial")
	}

	var payload struct {
		Dt       int64 `json:"dt"`
		Timezone int   `json:"timezone"`
		Main     struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  float64 `json:"humidity"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
			Deg   float64 `json:"deg"`
			Gust  float64 `json:"gust"`
		} `json:"wind"`
		Clouds struct {
			All float64 `json:"all"`
		} `json:"clouds"`
		Rain struct {
			OneH   float64 `json:"1h"`
			ThreeH float64 `json:"3h"`
		} `json:"rain"`
		Snow struct {
			OneH float64 `json:"1h"`
		} `json:"snow"`
		Sys struct {
			Sunrise int64 `json:"sunrise"`
			Sunset  int64 `json:"sunset"`
		} `json:"sys"`
		Weather []struct {
			ID          int    `json:"id"`
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
	}

	u := fmt.Sprintf("%s/weather?%s", p.baseURL, values.Encode())
	if err := p.client.GetJSON(ctx, u, &payload); err != nil {
		return weather.Reading{}, err
	}

	ts := time.Now().UTC()
	if payload.Dt > 0 {
		ts = time.Unix(payload.Dt, 0).UTC()
	}

	rainMM := payload.Rain.OneH
	if rainMM == 0 {
		rainMM = payload.Rain.ThreeH
	}

	wind, gust := payload.Wind.Speed, payload.Wind.Gust
	if unit == weather.UnitCelsius {
		wind, gust = weather.MetersPerSecondToMPH(wind), weather.MetersPerSecondToMPH(gust)
	}

	var main, desc string
	var id int
	if len(payload.Weather) > 0 {
		id, main, desc = payload.Weather[0].ID, payload.Weather[0].Main, payload.Weather[0].Description
	}
	code := wmoFromOpenWeather(id)

	return weather.Reading{
		ProviderName:  p.Name(),
		Timestamp:     ts,
		Location:      loc,
		Unit:          unit,
		Temperature:   payload.Main.Temp,
		FeelsLike:     payload.Main.FeelsLike,
		Humidity:      payload.Main.Humidity,
		Precipitation: weather.MillimetersToInches(rainMM + payload.Snow.OneH),
		Rain:          weather.MillimetersToInches(rainMM),
		CloudCover:    payload.Clouds.All,
		WindSpeed:     wind,
		WindDirection: payload.Wind.Deg,
		WindGusts:     gust,
		IsDay:         payload.Sys.Sunrise <= payload.Dt && payload.Dt < payload.Sys.Sunset,
		WeatherCode:   code,
		Description:   common.FirstNonEmpty(desc, weather.Describe(code)),
		Condition:     mapOpenWeatherCondition(main),
	}, nil
}

func mapOpenWeatherCondition(main string) weather.Condition {
	switch main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm":
		return weather.ConditionStorm
	case "Mist", "Fog", "Haze":
		return weather.ConditionMist
	default:
		return weather.ConditionUnknown
	}
}

// wmoFromOpenWeather approximates a WMO code from an OpenWeatherMap condition
// id so severe-weather rules work against fallback readings too.
func wmoFromOpenWeather(id int) int {
	switch {
	case id == 0:
		return 0
	case id == 202 || id == 212 || id == 221 || id == 232:
		return 99
	case id >= 200 && id < 300:
		return 95
	case id >= 300 && id < 400:
		return 53
	case id == 502 || id == 503 || id == 504:
		return 65
	case id == 511:
		return 67
	case id == 522 || id == 531:
		return 82
	case id >= 520 && id < 530:
		return 80
	case id >= 500 && id < 600:
		return 61
	case id == 602:
		return 75
	case id == 622:
		return 86
	case id >= 600 && id < 700:
		return 71
	case id >= 700 && id < 800:
		return 45
	case id == 800:
		return 0
	case id == 801:
		return 1
	case id == 802:
		return 2
	default:
		return 3
	}
}
