package weather

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/weather-assistant/internal/common"
)

// Service answers weather queries for a coordinate pair. Current conditions are
// served by the first provider that answers; forecasts come from the forecast
// provider.
type Service struct {
	providers []Provider
	forecast  ForecastProvider
	logger    logrus.FieldLogger
}

// NewService creates a new Service. Providers are tried in order.
func NewService(providers []Provider, forecast ForecastProvider, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		providers: providers,
		forecast:  forecast,
		logger:    logger.WithField("component", "weather"),
	}
}

// Current returns current conditions for loc.
func (s *Service) Current(ctx context.Context, loc Location, unit Unit) (Reading, error) {
	if !loc.Valid() {
		return Reading{}, fmt.Errorf("%w: coordinates out of range", common.ErrInvalidLocation)
	}
	if len(s.providers) == 0 {
		return Reading{}, fmt.Errorf("%w: no weather providers configured", common.ErrUpstreamUnavailable)
	}

	var lastErr error
	for _, p := range s.providers {
		r, err := p.Current(ctx, loc, unit)
		if err == nil {
			return r, nil
		}
		if errors.Is(err, common.ErrInvalidQuery) || errors.Is(err, common.ErrInvalidLocation) || ctx.Err() != nil {
			return Reading{}, err
		}
		// Log and fall through to the next provider.
		s.logger.WithFields(logrus.Fields{
			"provider": p.Name(),
			"location": loc.Key(),
		}).WithError(err).Warn("current weather fetch failed")
		lastErr = err
	}

	return Reading{}, upstreamErr(lastErr)
}

// Forecast returns a daily forecast of the given number of days.
func (s *Service) Forecast(ctx context.Context, loc Location, days int, unit Unit) (Forecast, error) {
	if days < 1 || days > MaxForecastDays {
		return Forecast{}, fmt.Errorf("%w: days must be between 1 and %d", common.ErrInvalidQuery, MaxForecastDays)
	}
	if !loc.Valid() {
		return Forecast{}, fmt.Errorf("%w: coordinates out of range", common.ErrInvalidLocation)
	}
	if s.forecast == nil {
		return Forecast{}, fmt.Errorf("%w: no forecast provider configured", common.ErrUpstreamUnavailable)
	}

	f, err := s.forecast.Daily(ctx, loc, days, unit)
	if err != nil {
		return Forecast{}, upstreamErr(err)
	}
	return f, nil
}

// Hourly returns an hourly forecast of the given number of hours.
func (s *Service) Hourly(ctx context.Context, loc Location, hours int, unit Unit) (HourlyOutlook, error) {
	if hours < 1 || hours > MaxForecastHours {
		return HourlyOutlook{}, fmt.Errorf("%w: hours must be between 1 and %d", common.ErrInvalidQuery, MaxForecastHours)
	}
	if !loc.Valid() {
		return HourlyOutlook{}, fmt.Errorf("%w: coordinates out of range", common.ErrInvalidLocation)
	}
	if s.forecast == nil {
		return HourlyOutlook{}, fmt.Errorf("%w: no forecast provider configured", common.ErrUpstreamUnavailable)
	}

	h, err := s.forecast.Hourly(ctx, loc, hours, unit)
	if err != nil {
		return HourlyOutlook{}, upstreamErr(err)
	}
	return h, nil
}

// Observe returns the current reading together with the peak precipitation
// probability over the next RainLookaheadHours. A failed hourly lookup leaves
// the probability unset instead of failing the observation.
func (s *Service) Observe(ctx context.Context, loc Location, unit Unit) (Observation, error) {
	current, err := s.Current(ctx, loc, unit)
	if err != nil {
		return Observation{}, err
	}

	obs := Observation{Reading: current}
	if s.forecast == nil {
		return obs, nil
	}

	outlook, err := s.forecast.Hourly(ctx, loc, RainLookaheadHours, unit)
	if err != nil {
		s.logger.WithField("location", loc.Key()).WithError(err).
			Debug("hourly lookup failed; precipitation probability unavailable")
		return obs, nil
	}

	obs.PrecipitationProbability = PeakPrecipitationProbability(outlook.Hours, RainLookaheadHours)
	return obs, nil
}

// PeakPrecipitationProbability returns the highest known probability among the
// first n slots, or nil when none carry one.
func PeakPrecipitationProbability(hours []HourlyForecast, n int) *float64 {
	if n > len(hours) {
		n = len(hours)
	}
	var peak *float64
	for _, h := range hours[:n] {
		if h.PrecipitationProbability == nil {
			continue
		}
		if peak == nil || *h.PrecipitationProbability > *peak {
			peak = Float(*h.PrecipitationProbability)
		}
	}
	return peak
}

func upstreamErr(err error) error {
	if err == nil {
		return common.ErrUpstreamUnavailable
	}
	if errors.Is(err, common.ErrInvalidQuery) || errors.Is(err, common.ErrInvalidLocation) || errors.Is(err, common.ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrUpstreamUnavailable, err)
}
