package weather

import "context"

// Provider abstracts a source of current conditions (e.g. Open-Meteo,
// OpenWeatherMap, WeatherAPI).
type Provider interface {
	Name() string
	Current(ctx context.Context, loc Location, unit Unit) (Reading, error)
}

// ForecastProvider is implemented by providers that also serve forecasts.
type ForecastProvider interface {
	Daily(ctx context.Context, loc Location, days int, unit Unit) (Forecast, error)
	Hourly(ctx context.Context, loc Location, hours int, unit Unit) (HourlyOutlook, error)
}
