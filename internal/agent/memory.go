package agent

import (
	"fmt"
	"strings"

	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/weather"
)

// Persona is the agent's persona memory block.
const Persona = `You are a friendly Weather Intelligence Assistant that helps people with weather questions and planning.

You can:
- report current conditions for any location
- give daily and hourly forecasts
- suggest activities and times that suit the weather
- check the user's calendar and propose weather-appropriate slots
- remember preferences such as temperature unit and favorite places
- warn about weather changes that affect the user's plans

Style:
- conversational and concise, most relevant information first
- concrete temperatures and conditions, then practical advice (what to wear, what to do)
- emojis only occasionally
- always answer in the user's preferred temperature unit

Always call the weather, location and calendar tools for real data. Never invent weather information.`

// DefaultHuman is the human memory block of a freshly created agent.
const DefaultHuman = `About the user:
- Name: Not yet known (ask if needed for personalization)
- Preferred temperature unit: Fahrenheit (update when user specifies)
- Home location: Not yet set
- Favorite locations: None saved yet
- Regular activities: None tracked yet`

// SavedLocation is a named place the user cares about.
type SavedLocation struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l SavedLocation) String() string {
	if l.Name != "" {
		return fmt.Sprintf("%s (%.4f, %.4f)", l.Name, l.Latitude, l.Longitude)
	}
	return fmt.Sprintf("%.4f, %.4f", l.Latitude, l.Longitude)
}

// Preferences are the user facts kept in the agent's human memory block.
type Preferences struct {
	Name                string          `json:"name,omitempty"`
	TemperatureUnit     string          `json:"temperature_unit,omitempty"`
	HomeLocation        *SavedLocation  `json:"home_location,omitempty"`
	FavoriteLocations   []SavedLocation `json:"favorite_locations,omitempty"`
	Activities          []string        `json:"activities,omitempty"`
	NotificationEnabled *bool           `json:"notification_enabled,omitempty"`
}

// Validate checks the unit and every coordinate pair.
func (p Preferences) Validate() error {
	if _, err := weather.ParseUnit(p.TemperatureUnit); err != nil {
		return err
	}
	if p.HomeLocation != nil && !weather.ValidCoordinates(p.HomeLocation.Latitude, p.HomeLocation.Longitude) {
		return fmt.Errorf("%w: home location coordinates out of range", common.ErrInvalidLocation)
	}
	for _, l := range p.FavoriteLocations {
		if !weather.ValidCoordinates(l.Latitude, l.Longitude) {
			return fmt.Errorf("%w: favorite location %q coordinates out of range", common.ErrInvalidLocation, l.Name)
		}
	}
	return nil
}

// HumanBlock renders p as the agent's human memory block.
func HumanBlock(p Preferences) string {
	unit, _ := weather.ParseUnit(p.TemperatureUnit)

	var b strings.Builder
	b.WriteString("About the user:\n")
	fmt.Fprintf(&b, "- Name: %s\n", orDefault(p.Name, "Not yet known (ask if needed for personalization)"))
	fmt.Fprintf(&b, "- Preferred temperature unit: %s\n", unitLabel[unit])

	home := "Not yet set"
	if p.HomeLocation != nil {
		home = p.HomeLocation.String()
	}
	fmt.Fprintf(&b, "- Home location: %s\n", home)

	favorites := make([]string, 0, len(p.FavoriteLocations))
	for _, l := range p.FavoriteLocations {
		favorites = append(favorites, l.String())
	}
	fmt.Fprintf(&b, "- Favorite locations: %s\n", orDefault(strings.Join(favorites, "; "), "None saved yet"))
	fmt.Fprintf(&b, "- Regular activities: %s", orDefault(strings.Join(p.Activities, ", "), "None tracked yet"))

	if p.NotificationEnabled != nil {
		state := "enabled"
		if !*p.NotificationEnabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "\n- Weather notifications: %s", state)
	}
	return b.String()
}

var unitLabel = map[weather.Unit]string{
	weather.UnitFahrenheit: "Fahrenheit",
	weather.UnitCelsius:    "Celsius",
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
