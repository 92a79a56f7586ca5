package alerts

import (
	"fmt"
	"time"

	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/weather"
)

// ErrInvalidLocation is returned by Subscribe for out-of-range coordinates.
var ErrInvalidLocation = common.ErrInvalidLocation

// RuleKind names the weather attribute a rule watches.
type RuleKind string

const (
	RuleRainExpected    RuleKind = "rain-expected"
	RuleTemperatureHigh RuleKind = "temperature-extreme-high"
	RuleTemperatureLow  RuleKind = "temperature-extreme-low"
	RuleSevereWeather   RuleKind = "severe-weather"
	RuleHighWind        RuleKind = "high-wind"
)

// Severity is a presentation hint only; it never changes delivery.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeveritySevere  Severity = "severe"
)

const (
	// DefaultWindGustThreshold is used by high-wind rules with no threshold.
	DefaultWindGustThreshold = 50.0
	// SustainedWindThreshold fires high-wind rules regardless of gusts.
	SustainedWindThreshold = 35.0
)

// Rule is a condition over one weather attribute. Thresholds are percent for
// rain-expected, degrees in the subscription's unit for temperature rules and
// mph for high-wind. severe-weather ignores its threshold.
type Rule struct {
	Kind      RuleKind `json:"kind"`
	Threshold float64  `json:"threshold"`
}

// DefaultRules is the rule set given to subscriptions created without rules.
func DefaultRules(unit weather.Unit) []Rule {
	high, low := 95.0, 32.0
	if unit == weather.UnitCelsius {
		high, low = 35, 0
	}
	return []Rule{
		{Kind: RuleRainExpected, Threshold: 60},
		{Kind: RuleTemperatureHigh, Threshold: high},
		{Kind: RuleTemperatureLow, Threshold: low},
		{Kind: RuleSevereWeather},
		{Kind: RuleHighWind, Threshold: DefaultWindGustThreshold},
	}
}

// ValidateRules rejects unknown kinds, duplicate kinds and out-of-range thresholds.
func ValidateRules(rules []Rule) error {
	seen := make(map[RuleKind]bool, len(rules))
	for _, r := range rules {
		if seen[r.Kind] {
			return fmt.Errorf("%w: duplicate rule %q", common.ErrInvalidQuery, r.Kind)
		}
		seen[r.Kind] = true

		switch r.Kind {
		case RuleRainExpected:
			if r.Threshold < 0 || r.Threshold > 100 {
				return fmt.Errorf("%w: rain-expected threshold must be a percentage", common.ErrInvalidQuery)
			}
		case RuleHighWind:
			if r.Threshold < 0 {
				return fmt.Errorf("%w: high-wind threshold must not be negative", common.ErrInvalidQuery)
			}
		case RuleTemperatureHigh, RuleTemperatureLow, RuleSevereWeather:
		default:
			return fmt.Errorf("%w: unknown rule kind %q", common.ErrInvalidQuery, r.Kind)
		}
	}
	return nil
}

// Subscription is one user's alert opt-in. Users hold at most one.
type Subscription struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Location  weather.Location `json:"location"`
	Unit      weather.Unit     `json:"temperature_unit"`
	Rules     []Rule           `json:"rules"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Clone returns a copy that shares no memory with s.
func (s Subscription) Clone() Subscription {
	out := s
	out.Rules = append([]Rule(nil), s.Rules...)
	return out
}

// Event is the outcome of one rule firing against one observation.
type Event struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      RuleKind  `json:"kind"`
	Location  string    `json:"location"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// CooldownKey identifies repeated firings of the same rule for the same user.
func (e Event) CooldownKey() string {
	return e.UserID + ":" + string(e.Kind)
}
