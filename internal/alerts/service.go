package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/weather"
)

// SubscribeRequest carries the input of Subscribe. Empty Rules means DefaultRules.
type SubscribeRequest struct {
	UserID       string
	Latitude     float64
	Longitude    float64
	LocationName string
	Unit         weather.Unit
	Rules        []Rule
}

// Service is the request-path entry point to alert subscriptions.
type Service struct {
	store     SubscriptionStore
	evaluator *Evaluator
	now       func() time.Time
}

func NewService(store SubscriptionStore, evaluator *Evaluator) *Service {
	return &Service{store: store, evaluator: evaluator, now: time.Now}
}

// Subscribe creates or replaces the subscription of req.UserID.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return Subscription{}, fmt.Errorf("%w: user id is required", common.ErrInvalidQuery)
	}
	if !weather.ValidCoordinates(req.Latitude, req.Longitude) {
		return Subscription{}, fmt.Errorf("%w: latitude %v, longitude %v", ErrInvalidLocation, req.Latitude, req.Longitude)
	}

	unit := req.Unit
	if unit == "" {
		unit = weather.UnitFahrenheit
	}
	if _, err := weather.ParseUnit(string(unit)); err != nil {
		return Subscription{}, err
	}

	rules := append([]Rule(nil), req.Rules...)
	if len(rules) == 0 {
		rules = DefaultRules(unit)
	}
	if err := ValidateRules(rules); err != nil {
		return Subscription{}, err
	}

	now := s.now().UTC()
	sub := Subscription{
		ID:     uuid.NewString(),
		UserID: userID,
		Location: weather.Location{
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Name:      strings.TrimSpace(req.LocationName),
		},
		Unit:      unit,
		Rules:     rules,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.store.Put(ctx, sub)
}

// Unsubscribe removes the user's subscription. Missing users are a no-op.
func (s *Service) Unsubscribe(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, userID)
}

func (s *Service) Get(ctx context.Context, userID string) (Subscription, error) {
	return s.store.Get(ctx, userID)
}

func (s *Service) List(ctx context.Context) ([]Subscription, error) {
	return s.store.List(ctx)
}

// Check evaluates the user's subscription immediately.
func (s *Service) Check(ctx context.Context, userID string) ([]Event, error) {
	sub, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.evaluator.Check(ctx, sub)
}
