package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/upstream"
	"github.com/i474232898/weather-assistant/internal/weather"
)

const DefaultWeatherAPIBaseURL = "https://api.weatherapi.com/v1"

// WeatherAPIProvider implements weather.Provider for WeatherAPI.com. It only
// serves current conditions and is used as a fallback.
type WeatherAPIProvider struct {
	apiKey  string
	baseURL string
	client  *upstream.Client
}

func NewWeatherAPIProvider(baseURL, apiKey string, cfg upstream.Config) *WeatherAPIProvider {
	if baseURL == "" {
		baseURL = DefaultWeatherAPIBaseURL
	}
	return &WeatherAPIProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  upstream.New("weatherapi", cfg),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return "weatherapi"
}

func (p *WeatherAPIProvider) Current(ctx context.Context, loc weather.Location, unit weather.Unit) (weather.Reading, error) {
	if p.apiKey == "" {
		return weather.Reading{}, fmt.Errorf("%w: weatherapi api key is not configured", common.ErrUpstreamUnavailable)
	}

	values := url.Values{}
	values.Set("key", p.apiKey)
	// WeatherAPI accepts "lat,lon" in q.
	values.Set("q", fmt.Sprintf("%f,%f", loc.Latitude, loc.Longitude))

	var payload struct {
		Location struct {
			TzID           string `json:"tz_id"`
			LocaltimeEpoch int64  `json:"localtime_epoch"`
		} `json:"location"`
		Current struct {
			LastUpdatedEpoch int64   `json:"last_updated_epoch"`
			TempC            float64 `json:"temp_c"`
			TempF            float64 `json:"temp_f"`
			FeelsLikeC       float64 `json:"feelslike_c"`
			FeelsLikeF       float64 `json:"feelslike_f"`
			Humidity         float64 `json:"humidity"`
			WindMph          float64 `json:"wind_mph"`
			WindDegree       float64 `json:"wind_degree"`
			GustMph          float64 `json:"gust_mph"`
			PrecipIn         float64 `json:"precip_in"`
			Cloud            float64 `json:"cloud"`
			IsDay            int     `json:"is_day"`
			Condition        struct {
				Text string `json:"text"`
				Code int    `json:"code"`
			} `json:"condition"`
		} `json:"current"`
	}

	u := fmt.Sprintf("%s/current.json?%s", p.baseURL, values.Encode())
	if err := p.client.GetJSON(ctx, u, &payload); err != nil {
		return weather.Reading{}, err
	}

	c := payload.Current
	ts := time.Now().UTC()
	if c.LastUpdatedEpoch > 0 {
		ts = time.Unix(c.LastUpdatedEpoch, 0).UTC()
	} else if payload.Location.LocaltimeEpoch > 0 {
		ts = time.Unix(payload.Location.LocaltimeEpoch, 0).UTC()
	}

	temp, feels := c.TempF, c.FeelsLikeF
	if unit == weather.UnitCelsius {
		temp, feels = c.TempC, c.FeelsLikeC
	}

	cond := mapWeatherAPICondition(c.Condition.Text)
	code := wmoFromCondition(cond, c.Condition.Text)

	rain := 0.0
	if cond == weather.ConditionRain || cond == weather.ConditionStorm {
		rain = c.PrecipIn
	}

	return weather.Reading{
		ProviderName:  p.Name(),
		Timestamp:     ts,
		Location:      loc,
		Unit:          unit,
		Timezone:      payload.Location.TzID,
		Temperature:   temp,
		FeelsLike:     feels,
		Humidity:      c.Humidity,
		Precipitation: c.PrecipIn,
		Rain:          rain,
		CloudCover:    c.Cloud,
		WindSpeed:     c.WindMph,
		WindDirection: c.WindDegree,
		WindGusts:     c.GustMph,
		IsDay:         c.IsDay == 1,
		WeatherCode:   code,
		Description:   common.FirstNonEmpty(c.Condition.Text, weather.Describe(code)),
		Condition:     cond,
	}, nil
}

func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case common.HasAny(text, "thunder", "storm"):
		return weather.ConditionStorm
	case common.HasAny(text, "snow", "sleet", "blizzard", "ice pellets"):
		return weather.ConditionSnow
	case common.HasAny(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case common.HasAny(text, "mist", "fog"):
		return weather.ConditionMist
	case common.HasAny(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case common.HasAny(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}

// wmoFromCondition approximates a WMO code from WeatherAPI's condition text.
func wmoFromCondition(cond weather.Condition, text string) int {
	heavy := common.HasAny(text, "heavy", "torrential")
	switch cond {
	case weather.ConditionStorm:
		if common.HasAny(text, "hail") {
			return 99
		}
		return 95
	case weather.ConditionSnow:
		if heavy {
			return 75
		}
		return 71
	case weather.ConditionRain:
		switch {
		case common.HasAny(text, "freezing") && heavy:
			return 67
		case common.HasAny(text, "shower") && heavy:
			return 82
		case heavy:
			return 65
		case common.HasAny(text, "drizzle"):
			return 53
		default:
			return 61
		}
	case weather.ConditionMist:
		return 45
	case weather.ConditionCloudy:
		if common.HasAny(text, "overcast") {
			return 3
		}
		return 2
	case weather.ConditionClear:
		return 0
	default:
		return 3
	}
}
