package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Port         string
	RealtimePort string
	HTTPTimeout  time.Duration
	CORSOrigins  string

	LogLevel  string
	LogFormat string

	OpenMeteoBaseURL     string
	NominatimBaseURL     string
	NominatimUserAgent   string
	OpenWeatherAPIKey    string
	WeatherAPIKey        string
	GoogleGeocoderAPIKey string

	UpstreamMaxRetries     int
	UpstreamBackoffInitial time.Duration
	UpstreamBackoffMax     time.Duration

	// Alert evaluation.
	AlertCheckInterval       time.Duration
	AlertConcurrency         int
	AlertCooldown            time.Duration // 0 disables suppression
	AlertPassTimeout         time.Duration
	AlertRainAmountThreshold float64

	StoreDriver string // memory, postgres or mysql
	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers    []string
	KafkaAlertTopic string
	AMQPURL         string
	AMQPAlertQueue  string

	FirebaseCredentialsFile string

	LettaBaseURL   string
	LettaAPIKey    string
	LettaModel     string
	LettaEmbedding string

	CalendarCredentialsFile string
	CalendarTokenFile       string

	JWTSecret string
}

var defaults = map[string]interface{}{
	"PORT":                        "8080",
	"REALTIME_PORT":               "8081",
	"HTTP_TIMEOUT":                "10s",
	"CORS_ORIGINS":                "*",
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "text",
	"OPEN_METEO_BASE_URL":         "https://api.open-meteo.com/v1",
	"NOMINATIM_BASE_URL":          "https://nominatim.openstreetmap.org",
	"NOMINATIM_USER_AGENT":        "WeatherAssistant/1.0",
	"UPSTREAM_MAX_RETRIES":        0,
	"UPSTREAM_BACKOFF_INITIAL":    "500ms",
	"UPSTREAM_BACKOFF_MAX":        "5s",
	"ALERT_CHECK_INTERVAL":        "30m",
	"ALERT_CONCURRENCY":           4,
	"ALERT_COOLDOWN":              "0s",
	"ALERT_PASS_TIMEOUT":          "5m",
	"ALERT_RAIN_AMOUNT_THRESHOLD": 0.0,
	"STORE_DRIVER":                "memory",
	"REDIS_DB":                    0,
	"KAFKA_ALERT_TOPIC":           "weather-alerts",
	"AMQP_ALERT_QUEUE":            "weather-alerts",
}

// Load reads configuration from .env, an optional config.yaml in the working
// directory and the environment. Environment variables win over the file.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Info("no .env file loaded")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*AppConfig, error) {
	v.AutomaticEnv()
	for k, def := range defaults {
		v.SetDefault(k, def)
	}

	cfg := &AppConfig{
		Port:                     v.GetString("PORT"),
		RealtimePort:             v.GetString("REALTIME_PORT"),
		CORSOrigins:              v.GetString("CORS_ORIGINS"),
		LogLevel:                 v.GetString("LOG_LEVEL"),
		LogFormat:                v.GetString("LOG_FORMAT"),
		OpenMeteoBaseURL:         v.GetString("OPEN_METEO_BASE_URL"),
		NominatimBaseURL:         v.GetString("NOMINATIM_BASE_URL"),
		NominatimUserAgent:       v.GetString("NOMINATIM_USER_AGENT"),
		OpenWeatherAPIKey:        v.GetString("OPENWEATHER_API_KEY"),
		WeatherAPIKey:            v.GetString("WEATHERAPI_API_KEY"),
		GoogleGeocoderAPIKey:     v.GetString("GOOGLE_GEOCODER_API_KEY"),
		StoreDriver:              strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		DatabaseDSN:              v.GetString("DATABASE_DSN"),
		RedisAddr:                v.GetString("REDIS_ADDR"),
		RedisPassword:            v.GetString("REDIS_PASSWORD"),
		KafkaBrokers:             splitList(v.GetString("KAFKA_BROKERS")),
		KafkaAlertTopic:          v.GetString("KAFKA_ALERT_TOPIC"),
		AMQPURL:                  v.GetString("AMQP_URL"),
		AMQPAlertQueue:           v.GetString("AMQP_ALERT_QUEUE"),
		FirebaseCredentialsFile:  v.GetString("FIREBASE_CREDENTIALS_FILE"),
		LettaBaseURL:             v.GetString("LETTA_BASE_URL"),
		LettaAPIKey:              v.GetString("LETTA_API_KEY"),
		LettaModel:               v.GetString("LETTA_MODEL"),
		LettaEmbedding:           v.GetString("LETTA_EMBEDDING"),
		CalendarCredentialsFile:  v.GetString("GOOGLE_CALENDAR_CREDENTIALS_FILE"),
		CalendarTokenFile:        v.GetString("GOOGLE_CALENDAR_TOKEN_FILE"),
		JWTSecret:                v.GetString("JWT_SECRET"),
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"UPSTREAM_MAX_RETRIES", &cfg.UpstreamMaxRetries},
		{"ALERT_CONCURRENCY", &cfg.AlertConcurrency},
		{"REDIS_DB", &cfg.RedisDB},
	}
	for _, i := range ints {
		parsed, err := cast.ToIntE(v.Get(i.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", i.key, err)
		}
		*i.dst = parsed
	}

	threshold, err := cast.ToFloat64E(v.Get("ALERT_RAIN_AMOUNT_THRESHOLD"))
	if err != nil {
		return nil, fmt.Errorf("invalid ALERT_RAIN_AMOUNT_THRESHOLD: %w", err)
	}
	cfg.AlertRainAmountThreshold = threshold

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"UPSTREAM_BACKOFF_INITIAL", &cfg.UpstreamBackoffInitial},
		{"UPSTREAM_BACKOFF_MAX", &cfg.UpstreamBackoffMax},
		{"ALERT_CHECK_INTERVAL", &cfg.AlertCheckInterval},
		{"ALERT_COOLDOWN", &cfg.AlertCooldown},
		{"ALERT_PASS_TIMEOUT", &cfg.AlertPassTimeout},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if parsed < 0 {
			return nil, fmt.Errorf("invalid %s: must not be negative", d.key)
		}
		*d.dst = parsed
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.StoreDriver {
	case "memory":
	case "postgres", "mysql":
		if c.DatabaseDSN == "" {
			return fmt.Errorf("STORE_DRIVER %s requires DATABASE_DSN", c.StoreDriver)
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q (want memory, postgres or mysql)", c.StoreDriver)
	}
	if c.AlertCheckInterval <= 0 {
		return fmt.Errorf("invalid ALERT_CHECK_INTERVAL: must be positive")
	}
	if c.AlertConcurrency < 1 {
		return fmt.Errorf("invalid ALERT_CONCURRENCY %d: must be at least 1", c.AlertConcurrency)
	}
	if c.UpstreamMaxRetries < 0 {
		return fmt.Errorf("invalid UPSTREAM_MAX_RETRIES %d: must not be negative", c.UpstreamMaxRetries)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
