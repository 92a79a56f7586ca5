package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/weather-assistant/internal/alerts"
	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/store"
)

// ErrDeliveryUnavailable is returned when a user has no registered device.
// It is reported, never retried.
var ErrDeliveryUnavailable = errors.New("delivery unavailable")

// Message is a rendered notification.
type Message struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Severity alerts.Severity   `json:"severity,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// Sender delivers a message to one device token.
type Sender interface {
	Name() string
	Send(ctx context.Context, token string, msg Message) error
}

// DeviceStore owns device registrations.
type DeviceStore interface {
	PutDevice(ctx context.Context, reg store.DeviceRegistration) error
	GetDevice(ctx context.Context, userID string) (store.DeviceRegistration, error)
	DeleteDevice(ctx context.Context, userID string) error
	CountDevices(ctx context.Context) (int, error)
}

// Foreground renders a message inside a live app session. It returns the
// number of sessions that received it.
type Foreground interface {
	SendToUser(userID, kind string, payload interface{}) int
}

// EventSink receives a copy of every dispatched alert.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, ev alerts.Event) error
	Close() error
}

// Dispatcher implements alerts.Dispatcher. Every delivery needs a registered
// device and goes out as a push; a live app session additionally renders it
// in the foreground.
type Dispatcher struct {
	devices    DeviceStore
	sender     Sender
	foreground Foreground
	sinks      []EventSink
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewDispatcher builds a Dispatcher. foreground may be nil.
func NewDispatcher(devices DeviceStore, sender Sender, foreground Foreground, sinks []EventSink, logger logrus.FieldLogger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		devices:    devices,
		sender:     sender,
		foreground: foreground,
		sinks:      sinks,
		logger:     logger.WithField("component", "notify"),
		now:        time.Now,
	}
}

// SenderName reports which push backend is in use.
func (d *Dispatcher) SenderName() string {
	return d.sender.Name()
}

// RegisteredDevices counts device registrations.
func (d *Dispatcher) RegisteredDevices(ctx context.Context) (int, error) {
	return d.devices.CountDevices(ctx)
}

// Register creates or replaces the user's device registration.
func (d *Dispatcher) Register(ctx context.Context, userID, token, platform string) error {
	userID, token = strings.TrimSpace(userID), strings.TrimSpace(token)
	if userID == "" || token == "" {
		return fmt.Errorf("%w: user id and device token are required", common.ErrInvalidQuery)
	}
	return d.devices.PutDevice(ctx, store.DeviceRegistration{
		UserID:       userID,
		Token:        token,
		Platform:     platform,
		RegisteredAt: d.now().UTC(),
	})
}

// Unregister removes the user's registration; store.ErrNotFound if none.
func (d *Dispatcher) Unregister(ctx context.Context, userID string) error {
	return d.devices.DeleteDevice(ctx, userID)
}

// Dispatch delivers ev to userID and then publishes it to every sink.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, ev alerts.Event) error {
	if err := d.deliver(ctx, userID, AlertMessage(ev), "alert", ev); err != nil {
		return err
	}

	for _, s := range d.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			d.logger.WithFields(logrus.Fields{"sink": s.Name(), "event_id": ev.ID}).WithError(err).Warn("event sink publish failed")
		}
	}
	return nil
}

// Push sends an arbitrary notification to the user's device.
func (d *Dispatcher) Push(ctx context.Context, userID string, msg Message) error {
	return d.deliver(ctx, userID, msg, "notification", msg)
}

// SendTest pushes a fixed test notification.
func (d *Dispatcher) SendTest(ctx context.Context, userID string) error {
	return d.Push(ctx, userID, Message{
		Title:    "🌤️ Test Notification",
		Body:     "Notifications are working. You'll receive weather alerts here.",
		Severity: alerts.SeverityInfo,
		Data:     map[string]string{"type": "test", "timestamp": d.now().UTC().Format(time.RFC3339)},
	})
}

// SendScheduleReminder pushes a weather note about an upcoming calendar event.
func (d *Dispatcher) SendScheduleReminder(ctx context.Context, userID, eventName, weatherInfo, recommendation string) error {
	return d.Push(ctx, userID, Message{
		Title: fmt.Sprintf("📅 %s - Weather Update", eventName),
		Body:  fmt.Sprintf("%s. %s", weatherInfo, recommendation),
		Data: map[string]string{
			"type":      "schedule_reminder",
			"event":     eventName,
			"timestamp": d.now().UTC().Format(time.RFC3339),
		},
	})
}

// deliver pushes msg to the user's registered device and mirrors payload to
// any live app session.
func (d *Dispatcher) deliver(ctx context.Context, userID string, msg Message, kind string, payload interface{}) error {
	reg, err := d.devices.GetDevice(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: no device registered for user %s", ErrDeliveryUnavailable, userID)
	}
	if err != nil {
		return fmt.Errorf("lookup device: %w", err)
	}

	if d.foreground != nil && d.foreground.SendToUser(userID, kind, payload) > 0 {
		d.logger.WithFields(logrus.Fields{"user_id": userID, "kind": kind}).Debug("rendered in foreground")
	}
	if err := d.sender.Send(ctx, reg.Token, msg); err != nil {
		return fmt.Errorf("%s send: %w", d.sender.Name(), err)
	}
	return nil
}

// Close closes every sink.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var severityIcons = map[alerts.Severity]string{
	alerts.SeverityInfo:    "ℹ️",
	alerts.SeverityWarning: "⚠️",
	alerts.SeveritySevere:  "🚨",
}

// AlertMessage renders ev as a push notification. Severity only picks the icon.
func AlertMessage(ev alerts.Event) Message {
	icon, ok := severityIcons[ev.Severity]
	if !ok {
		icon = "🌤️"
	}
	return Message{
		Title:    fmt.Sprintf("%s Weather Alert - %s", icon, ev.Location),
		Body:     ev.Message,
		Severity: ev.Severity,
		Data: map[string]string{
			"type":       "weather_alert",
			"alert_type": string(ev.Kind),
			"location":   ev.Location,
			"severity":   string(ev.Severity),
			"event_id":   ev.ID,
			"timestamp":  ev.Timestamp.UTC().Format(time.RFC3339),
		},
	}
}
