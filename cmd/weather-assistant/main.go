package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/weather-assistant/internal/agent"
	"github.com/i474232898/weather-assistant/internal/alerts"
	httpapi "github.com/i474232898/weather-assistant/internal/api/http"
	"github.com/i474232898/weather-assistant/internal/auth"
	"github.com/i474232898/weather-assistant/internal/calendar"
	"github.com/i474232898/weather-assistant/internal/config"
	"github.com/i474232898/weather-assistant/internal/geocoding"
	"github.com/i474232898/weather-assistant/internal/logging"
	"github.com/i474232898/weather-assistant/internal/notify"
	"github.com/i474232898/weather-assistant/internal/realtime"
	"github.com/i474232898/weather-assistant/internal/scheduler"
	"github.com/i474232898/weather-assistant/internal/store"
	"github.com/i474232898/weather-assistant/internal/upstream"
	"github.com/i474232898/weather-assistant/internal/weather"
	"github.com/i474232898/weather-assistant/internal/weather/providers"
)

// stores groups the persistence backends chosen by STORE_DRIVER.
type stores struct {
	subscriptions alerts.SubscriptionStore
	devices       notify.DeviceStore
	agents        agent.Directory
	close         func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.WithError(err).Error("weather-assistant stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AppConfig, log *logrus.Logger) error {
	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	upstreamCfg := upstream.Config{
		Client: httpClient,
		Backoff: upstream.BackoffConfig{
			MaxRetries:      cfg.UpstreamMaxRetries,
			InitialInterval: cfg.UpstreamBackoffInitial,
			MaxInterval:     cfg.UpstreamBackoffMax,
		},
	}

	st, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			log.WithError(err).Warn("error closing store")
		}
	}()

	// Weather: Open-Meteo first, keyed providers as fallbacks.
	openMeteo := providers.NewOpenMeteoProvider(cfg.OpenMeteoBaseURL, upstreamCfg)
	provs := []weather.Provider{openMeteo}
	if cfg.OpenWeatherAPIKey != "" {
		provs = append(provs, providers.NewOpenWeatherProvider("", cfg.OpenWeatherAPIKey, upstreamCfg))
	}
	if cfg.WeatherAPIKey != "" {
		provs = append(provs, providers.NewWeatherAPIProvider("", cfg.WeatherAPIKey, upstreamCfg))
	}
	weatherSvc := weather.NewService(provs, openMeteo, log)

	geoCfg := upstreamCfg
	geoCfg.UserAgent = cfg.NominatimUserAgent
	geocoders := []geocoding.Geocoder{geocoding.NewNominatim(cfg.NominatimBaseURL, geoCfg)}
	if cfg.GoogleGeocoderAPIKey != "" {
		geocoders = append(geocoders, geocoding.NewGoogleGeocoder(cfg.GoogleGeocoderAPIKey, cfg.HTTPTimeout))
	}
	geoSvc := geocoding.NewService(log, geocoders...)

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		verifier = auth.NewVerifier(cfg.JWTSecret)
	}

	hub := realtime.NewHub(log)
	defer hub.Close()

	sender, pushEnabled, err := newSender(ctx, cfg, log)
	if err != nil {
		return err
	}
	sinks, err := newSinks(cfg)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(st.devices, sender, hub, sinks, log)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.WithError(err).Warn("error closing event sinks")
		}
	}()

	cooldown, closeCooldown, err := newCooldown(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCooldown()

	evaluator := alerts.NewEvaluator(st.subscriptions, weatherSvc, dispatcher, cooldown, alerts.EvaluatorConfig{
		Concurrency:         cfg.AlertConcurrency,
		Cooldown:            cfg.AlertCooldown,
		RainAmountThreshold: cfg.AlertRainAmountThreshold,
	}, log)
	alertSvc := alerts.NewService(st.subscriptions, evaluator)

	var backend agent.Backend
	if cfg.LettaBaseURL != "" {
		backend = agent.NewLettaClient(cfg.LettaBaseURL, cfg.LettaAPIKey, cfg.LettaModel, cfg.LettaEmbedding, upstreamCfg)
	} else {
		log.Info("LETTA_BASE_URL not set; chat and agent endpoints disabled")
	}

	cal, err := calendar.New(ctx, cfg.CalendarCredentialsFile, cfg.CalendarTokenFile)
	if err != nil {
		return err
	}
	tools := agent.NewToolRegistry(weatherSvc, geoSvc, cal)
	bridge := agent.NewBridge(backend, st.agents, tools, log)

	sched := scheduler.New(evaluator, cfg.AlertCheckInterval, cfg.AlertPassTimeout, log)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-assistant",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          60 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))

	httpapi.RegisterRoutes(app, httpapi.Dependencies{
		Weather:   weatherSvc,
		Geocoding: geoSvc,
		Alerts:    alertSvc,
		Notify:    dispatcher,
		Agent:     bridge,
		Tools:     tools,
		Calendar:  cal,
		Verifier:  verifier,
		Health: httpapi.HealthInfo{
			StoreDriver: cfg.StoreDriver,
			PushEnabled: pushEnabled,
			Realtime:    hub,
		},
	})

	rtServer := &http.Server{
		Addr:              ":" + cfg.RealtimePort,
		Handler:           realtime.NewRouter(hub, verifier),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.WithField("port", cfg.Port).Info("api server listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		log.WithField("port", cfg.RealtimePort).Info("realtime server listening")
		if err := rtServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("realtime server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Warn("error during api shutdown")
	}
	if err := rtServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("error during realtime shutdown")
	}
	return runErr
}

func openStores(cfg *config.AppConfig, log logrus.FieldLogger) (stores, error) {
	if cfg.StoreDriver == "memory" {
		return stores{
			subscriptions: store.NewMemorySubscriptionStore(),
			devices:       store.NewMemoryDeviceStore(),
			agents:        store.NewMemoryAgentDirectory(),
			close:         func() error { return nil },
		}, nil
	}

	sqlStore, err := store.OpenSQL(cfg.StoreDriver, cfg.DatabaseDSN, log)
	if err != nil {
		return stores{}, err
	}
	log.WithField("driver", cfg.StoreDriver).Info("using sql store")
	return stores{
		subscriptions: sqlStore,
		devices:       sqlStore,
		agents:        sqlStore,
		close:         sqlStore.Close,
	}, nil
}

// newSender returns FCM when credentials are configured and a log-only sender
// otherwise. The bool reports whether real push delivery is available.
func newSender(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger) (notify.Sender, bool, error) {
	if cfg.FirebaseCredentialsFile == "" {
		log.Info("FIREBASE_CREDENTIALS_FILE not set; push notifications are logged only")
		return notify.NewLogSender(log), false, nil
	}
	fcm, err := notify.NewFCMSender(ctx, cfg.FirebaseCredentialsFile)
	if err != nil {
		return nil, false, err
	}
	return fcm, true, nil
}

func newSinks(cfg *config.AppConfig) ([]notify.EventSink, error) {
	var sinks []notify.EventSink
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAlertTopic))
	}
	if cfg.AMQPURL != "" {
		sink, err := notify.NewAMQPSink(cfg.AMQPURL, cfg.AMQPAlertQueue)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// newCooldown picks redis when REDIS_ADDR is set and process memory otherwise.
// A zero ALERT_COOLDOWN disables suppression entirely.
func newCooldown(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger) (alerts.Cooldown, func(), error) {
	noop := func() {}
	if cfg.AlertCooldown <= 0 {
		return nil, noop, nil
	}
	if cfg.RedisAddr == "" {
		return store.NewMemoryCooldown(), noop, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, noop, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	log.WithField("addr", cfg.RedisAddr).Info("using redis alert cooldown")
	return store.NewRedisCooldown(client), func() { _ = client.Close() }, nil
}
