package alerts

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/i474232898/weather-assistant/internal/weather"
)

var eventNamespace = uuid.MustParse("6f0c1b8e-4d1a-4c3e-9a57-2b1f5d0e7c42")

// Evaluate tests every rule of sub against obs, in declared order, and returns
// one Event per rule that fired. It is a pure function of its inputs: the
// event id is derived from the user, rule and observation time, so the same
// reading always yields the same events. rainAmount is the precipitation (in
// inches) a rain-expected rule needs when no probability is known.
func Evaluate(sub Subscription, obs weather.Observation, rainAmount float64) []Event {
	var events []Event
	for _, r := range sub.Rules {
		ev, ok := evaluateRule(r, sub, obs, rainAmount)
		if !ok {
			continue
		}
		ev.ID = uuid.NewSHA1(eventNamespace, []byte(fmt.Sprintf("%s|%s|%d", sub.UserID, r.Kind, obs.Timestamp.Unix()))).String()
		ev.UserID = sub.UserID
		ev.Kind = r.Kind
		ev.Location = locationLabel(sub.Location)
		ev.Threshold = r.Threshold
		ev.Timestamp = obs.Timestamp
		events = append(events, ev)
	}
	return events
}

func evaluateRule(r Rule, sub Subscription, obs weather.Observation, rainAmount float64) (Event, bool) {
	deg := degreeSymbol(sub.Unit)

	switch r.Kind {
	case RuleRainExpected:
		if p := obs.PrecipitationProbability; p != nil {
			// Rain already falling is not "expected".
			if obs.Precipitation > 0 || *p <= r.Threshold {
				return Event{}, false
			}
			return Event{
				Severity: SeverityInfo,
				Value:    *p,
				Message:  fmt.Sprintf("Rain expected in the next %d hours (%.0f%% chance). Consider bringing an umbrella!", weather.RainLookaheadHours, *p),
			}, true
		}
		if obs.Precipitation <= rainAmount {
			return Event{}, false
		}
		return Event{
			Severity: SeverityInfo,
			Value:    obs.Precipitation,
			Message:  fmt.Sprintf("Precipitation detected (%.2f in). Consider bringing an umbrella!", obs.Precipitation),
		}, true

	case RuleTemperatureHigh:
		if obs.Temperature < r.Threshold {
			return Event{}, false
		}
		return Event{
			Severity: SeverityWarning,
			Value:    obs.Temperature,
			Message:  fmt.Sprintf("High temperature alert: %.0f%s. Stay hydrated and limit outdoor activity!", obs.Temperature, deg),
		}, true

	case RuleTemperatureLow:
		if obs.Temperature > r.Threshold {
			return Event{}, false
		}
		return Event{
			Severity: SeverityWarning,
			Value:    obs.Temperature,
			Message:  fmt.Sprintf("Low temperature alert: %.0f%s. Bundle up and watch for ice!", obs.Temperature, deg),
		}, true

	case RuleSevereWeather:
		if !weather.IsSevere(obs.WeatherCode) {
			return Event{}, false
		}
		return Event{
			Severity: SeveritySevere,
			Value:    float64(obs.WeatherCode),
			Message:  fmt.Sprintf("Severe weather alert: %s. Take precautions!", weather.Describe(obs.WeatherCode)),
		}, true

	case RuleHighWind:
		gusts := r.Threshold
		if gusts == 0 {
			gusts = DefaultWindGustThreshold
		}
		if obs.WindGusts <= gusts && obs.WindSpeed <= SustainedWindThreshold {
			return Event{}, false
		}
		return Event{
			Severity: SeverityWarning,
			Value:    obs.WindGusts,
			Message:  fmt.Sprintf("High wind warning: gusts up to %.0f mph, sustained %.0f mph", obs.WindGusts, obs.WindSpeed),
		}, true
	}

	return Event{}, false
}

func locationLabel(loc weather.Location) string {
	if loc.Name != "" {
		return loc.Name
	}
	return loc.Key()
}

func degreeSymbol(u weather.Unit) string {
	if u == weather.UnitCelsius {
		return "°C"
	}
	return "°F"
}
