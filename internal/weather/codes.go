package weather

import "fmt"

var wmoDescriptions = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Foggy",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	56: "Light freezing drizzle",
	57: "Dense freezing drizzle",
	61: "Slight rain",
	63: "Moderate rain",
	65: "Heavy rain",
	66: "Light freezing rain",
	67: "Heavy freezing rain",
	71: "Slight snowfall",
	73: "Moderate snowfall",
	75: "Heavy snowfall",
	77: "Snow grains",
	80: "Slight rain showers",
	81: "Moderate rain showers",
	82: "Violent rain showers",
	85: "Slight snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with slight hail",
	99: "Thunderstorm with heavy hail",
}

// severeCodes are WMO codes for thunderstorms and heavy precipitation.
var severeCodes = map[int]bool{
	65: true, 67: true, 75: true, 82: true, 86: true, 95: true, 96: true, 99: true,
}

// Describe converts a WMO weather code to a human-readable description.
func Describe(code int) string {
	if d, ok := wmoDescriptions[code]; ok {
		return d
	}
	return fmt.Sprintf("Unknown (%d)", code)
}

// IsSevere reports whether a WMO code denotes severe weather.
func IsSevere(code int) bool {
	return severeCodes[code]
}

// ConditionFromCode maps a WMO code onto a coarse Condition.
func ConditionFromCode(code int) Condition {
	switch {
	case code == 0:
		return ConditionClear
	case code >= 1 && code <= 3:
		return ConditionCloudy
	case code == 45 || code == 48:
		return ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return ConditionSnow
	case code >= 95:
		return ConditionStorm
	default:
		return ConditionUnknown
	}
}

// Unit conversions used to normalize provider payloads.

func MetersPerSecondToMPH(v float64) float64 { return v * 2.236936 }

func KilometersPerHourToMPH(v float64) float64 { return v / 1.609344 }

func MillimetersToInches(v float64) float64 { return v / 25.4 }
