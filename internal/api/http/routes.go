package httpapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-assistant/internal/agent"
	"github.com/i474232898/weather-assistant/internal/alerts"
	"github.com/i474232898/weather-assistant/internal/auth"
	"github.com/i474232898/weather-assistant/internal/calendar"
	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/geocoding"
	"github.com/i474232898/weather-assistant/internal/notify"
	"github.com/i474232898/weather-assistant/internal/weather"
)

// Dependencies are the services behind the HTTP API.
type Dependencies struct {
	Weather   *weather.Service
	Geocoding *geocoding.Service
	Alerts    *alerts.Service
	Notify    *notify.Dispatcher
	Agent     *agent.Bridge
	Tools     *agent.ToolRegistry
	Calendar  *calendar.Client
	// Verifier enables bearer-token auth on /api/v1 when non-nil.
	Verifier *auth.Verifier
	Health   HealthInfo
}

// HealthInfo describes deployment facts reported by the health endpoints.
type HealthInfo struct {
	StoreDriver string
	PushEnabled bool
	Realtime    interface{ Connections() int }
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Dependencies) {
	health := healthHandler(deps)
	app.Get("/health", health)

	v1 := app.Group("/api/v1")
	v1.Get("/health", health)

	if deps.Verifier != nil {
		v1.Use(requireToken(deps.Verifier))
	}

	registerWeatherRoutes(v1, deps)
	registerCalendarRoutes(v1, deps)
	registerAgentRoutes(v1, deps)
	registerNotificationRoutes(v1, deps)
	registerAlertRoutes(v1, deps)
}

func registerWeatherRoutes(v1 fiber.Router, deps Dependencies) {
	v1.Post("/weather/current", func(c *fiber.Ctx) error {
		var req locationRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		unit, err := weather.ParseUnit(c.Query("temperature_unit"))
		if err != nil {
			return err
		}

		reading, err := deps.Weather.Current(c.UserContext(), req.toLocation(), unit)
		if err != nil {
			return err
		}
		return c.JSON(reading)
	})

	v1.Post("/weather/forecast", func(c *fiber.Ctx) error {
		var req locationRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		unit, err := weather.ParseUnit(c.Query("temperature_unit"))
		if err != nil {
			return err
		}
		days, err := queryInt(c, "days", 7)
		if err != nil {
			return err
		}

		forecast, err := deps.Weather.Forecast(c.UserContext(), req.toLocation(), days, unit)
		if err != nil {
			return err
		}
		return c.JSON(forecast)
	})

	v1.Post("/weather/hourly", func(c *fiber.Ctx) error {
		var req locationRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		unit, err := weather.ParseUnit(c.Query("temperature_unit"))
		if err != nil {
			return err
		}
		hours, err := queryInt(c, "hours", 24)
		if err != nil {
			return err
		}

		outlook, err := deps.Weather.Hourly(c.UserContext(), req.toLocation(), hours, unit)
		if err != nil {
			return err
		}
		return c.JSON(outlook)
	})

	v1.Post("/geocode", func(c *fiber.Ctx) error {
		var req geocodeRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		places, err := deps.Geocoding.Geocode(c.UserContext(), req.Query, req.Limit)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"locations": places})
	})

	v1.Get("/geocode/suggest", func(c *fiber.Ctx) error {
		limit, err := queryInt(c, "limit", geocoding.SuggestionLimit)
		if err != nil {
			return err
		}
		places, err := deps.Geocoding.Suggest(c.UserContext(), c.Query("q"), limit)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"suggestions": places})
	})

	v1.Post("/reverse-geocode", func(c *fiber.Ctx) error {
		var req locationRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		place, err := deps.Geocoding.Reverse(c.UserContext(), *req.Latitude, *req.Longitude)
		if err != nil {
			return err
		}
		return c.JSON(place)
	})
}

func registerCalendarRoutes(v1 fiber.Router, deps Dependencies) {
	v1.Get("/calendar/events", func(c *fiber.Ctx) error {
		days, err := queryInt(c, "days_ahead", calendar.DefaultDaysAhead)
		if err != nil {
			return err
		}
		maxResults, err := queryInt(c, "max_results", calendar.DefaultMaxResults)
		if err != nil {
			return err
		}

		events, err := deps.Calendar.UpcomingEvents(c.UserContext(), days, maxResults)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"events": events})
	})

	v1.Post("/calendar/reminder", func(c *fiber.Ctx) error {
		var req reminderRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		if req.UserID != "" {
			if err := authorizeUser(c, req.UserID); err != nil {
				return err
			}
		}
		at, err := agent.ParseEventTime(req.EventTime)
		if err != nil {
			return err
		}

		ev, err := deps.Calendar.CreateReminder(c.UserContext(), req.Title, at, req.WeatherNote)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(ev)
	})
}

func registerAgentRoutes(v1 fiber.Router, deps Dependencies) {
	v1.Post("/chat", func(c *fiber.Ctx) error {
		var req chatRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		if err := authorizeUser(c, req.UserID); err != nil {
			return err
		}

		resp, err := deps.Agent.Chat(c.UserContext(), req.UserID, req.Message)
		if err != nil {
			return err
		}
		return c.JSON(resp)
	})

	v1.Post("/agent/create", func(c *fiber.Ctx) error {
		var req agentRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		if err := authorizeUser(c, req.UserID); err != nil {
			return err
		}

		rec, err := deps.Agent.Create(c.UserContext(), req.UserID)
		if err != nil {
			return err
		}
		return c.JSON(agentResponse(rec.AgentID, rec.UserID))
	})

	v1.Get("/agent/:user_id", func(c *fiber.Ctx) error {
		userID := c.Params("user_id")
		if err := authorizeUser(c, userID); err != nil {
			return err
		}

		rec, err := deps.Agent.Get(c.UserContext(), userID)
		if err != nil {
			return err
		}
		return c.JSON(agentResponse(rec.AgentID, rec.UserID))
	})

	v1.Delete("/agent/:user_id", func(c *fiber.Ctx) error {
		userID := c.Params("user_id")
		if err := authorizeUser(c, userID); err != nil {
			return err
		}

		if err := deps.Agent.Delete(c.UserContext(), userID); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"status": "deleted", "user_id": userID})
	})

	v1.Put("/agent/:user_id/preferences", func(c *fiber.Ctx) error {
		userID := c.Params("user_id")
		if err := authorizeUser(c, userID); err != nil {
			return err
		}
		var prefs agent.Preferences
		if err := c.BodyParser(&prefs); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed request: "+err.Error())
		}

		if err := deps.Agent.UpdatePreferences(c.UserContext(), userID, prefs); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"status": "updated", "user_id": userID})
	})

	v1.Get("/tools", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"tools": deps.Tools.Definitions()})
	})

	v1.Post("/tools/:name", func(c *fiber.Ctx) error {
		name := c.Params("name")
		result, err := deps.Tools.Invoke(c.UserContext(), name, json.RawMessage(c.Body()))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"tool": name, "result": result})
	})
}

func registerNotificationRoutes(v1 fiber.Router, deps Dependencies) {
	v1.Post("/notifications/register", func(c *fiber.Ctx) error {
		var req registerDeviceRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		if err := authorizeUser(c, req.UserID); err != nil {
			return err
		}

		if err := deps.Notify.Register(c.UserContext(), req.UserID, req.DeviceToken, req.Platform); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"status": "registered", "user_id": req.UserID})
	})

	v1.Delete("/notifications/unregister/:user_id", func(c *fiber.Ctx) error {
		userID := c.Params("user_id")
		if err := authorizeUser(c, userID); err != nil {
			return err
		}

		if err := deps.Notify.Unregister(c.UserContext(), userID); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"status": "unregistered", "user_id": userID})
	})

	v1.Post("/notifications/test", func(c *fiber.Ctx) error {
		var req testNotificationRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		if err := authorizeUser(c, req.UserID); err != nil {
			return err
		}

		var err error
		if req.Body != "" {
			err = deps.Notify.Push(c.UserContext(), req.UserID, notify.Message{
				Title:    common.FirstNonEmpty(req.Title, "Weather Assistant"),
				Body:     req.Body,
				Severity: alerts.SeverityInfo,
				Data:     map[string]string{"type": "test"},
			})
		} else {
			err = deps.Notify.SendTest(c.UserContext(), req.UserID)
		}
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"status": "sent", "user_id": req.UserID})
	})

	v1.Post("/notifications/schedule-reminder", func(c *fiber.Ctx) error {
		var req scheduleReminderRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		if err := authorizeUser(c, req.UserID); err != nil {
			return err
		}

		if err := deps.Notify.SendScheduleReminder(c.UserContext(), req.UserID, req.EventName, req.WeatherInfo, req.Recommendation); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"status": "sent", "user_id": req.UserID})
	})
}

func registerAlertRoutes(v1 fiber.Router, deps Dependencies) {
	v1.Post("/alerts/subscribe", func(c *fiber.Ctx) error {
		var req subscribeRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		if err := authorizeUser(c, req.UserID); err != nil {
			return err
		}
		unit, err := weather.ParseUnit(req.TemperatureUnit)
		if err != nil {
			return err
		}
		rules := req.rules(unit)
		if len(rules) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "at least one alert category must be enabled")
		}

		sub, err := deps.Alerts.Subscribe(c.UserContext(), alerts.SubscribeRequest{
			UserID:       req.UserID,
			Latitude:     *req.Latitude,
			Longitude:    *req.Longitude,
			LocationName: req.LocationName,
			Unit:         unit,
			Rules:        rules,
		})
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"status": "subscribed", "user_id": sub.UserID, "subscription": sub})
	})

	v1.Delete("/alerts/unsubscribe/:user_id", func(c *fiber.Ctx) error {
		userID := c.Params("user_id")
		if err := authorizeUser(c, userID); err != nil {
			return err
		}

		if err := deps.Alerts.Unsubscribe(c.UserContext(), userID); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"status": "unsubscribed", "user_id": userID})
	})

	v1.Get("/alerts/subscriptions", func(c *fiber.Ctx) error {
		subs, err := deps.Alerts.List(c.UserContext())
		if err != nil {
			return err
		}
		if caller, ok := c.Locals(userIDKey).(string); ok {
			own := subs[:0]
			for _, s := range subs {
				if s.UserID == caller {
					own = append(own, s)
				}
			}
			subs = own
		}
		return c.JSON(fiber.Map{"subscriptions": subs, "count": len(subs)})
	})

	v1.Get("/alerts/subscriptions/:user_id", func(c *fiber.Ctx) error {
		userID := c.Params("user_id")
		if err := authorizeUser(c, userID); err != nil {
			return err
		}

		sub, err := deps.Alerts.Get(c.UserContext(), userID)
		if err != nil {
			return err
		}
		return c.JSON(sub)
	})

	v1.Post("/alerts/check/:user_id", func(c *fiber.Ctx) error {
		userID := c.Params("user_id")
		if err := authorizeUser(c, userID); err != nil {
			return err
		}

		events, err := deps.Alerts.Check(c.UserContext(), userID)
		if err != nil {
			return err
		}
		if events == nil {
			events = []alerts.Event{}
		}
		return c.JSON(fiber.Map{"user_id": userID, "alerts": events, "count": len(events)})
	})
}

func healthHandler(deps Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		services := fiber.Map{
			"weather_api":   "available",
			"geocoding":     "available",
			"calendar":      deps.Calendar.Configured(),
			"notifications": deps.Health.PushEnabled,
			"agent":         deps.Agent.Configured(),
			"store":         deps.Health.StoreDriver,
			"push_backend":  deps.Notify.SenderName(),
		}
		if n, err := deps.Notify.RegisteredDevices(c.UserContext()); err == nil {
			services["registered_devices"] = n
		}
		if deps.Health.Realtime != nil {
			services["realtime_connections"] = deps.Health.Realtime.Connections()
		}
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"service":   "weather-assistant",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"services":  services,
		})
	}
}

func agentResponse(agentID, userID string) fiber.Map {
	return fiber.Map{"agent_id": agentID, "user_id": userID, "status": "active"}
}

// queryInt reads an integer query parameter, falling back to def when absent.
func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", common.ErrInvalidQuery, key)
	}
	return n, nil
}
