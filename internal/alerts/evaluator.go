package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/weather-assistant/internal/weather"
)

// SubscriptionStore holds subscriptions keyed by user id. Put replaces any
// existing subscription for the user and keeps its ID and CreatedAt. Delete
// of a missing user is not an error. List returns a snapshot.
type SubscriptionStore interface {
	Put(ctx context.Context, sub Subscription) (Subscription, error)
	Get(ctx context.Context, userID string) (Subscription, error)
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]Subscription, error)
}

// WeatherSource supplies the observation rules are evaluated against.
type WeatherSource interface {
	Observe(ctx context.Context, loc weather.Location, unit weather.Unit) (weather.Observation, error)
}

// Dispatcher hands a fired event to the user.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, ev Event) error
}

// Cooldown suppresses repeated firings. Allow reports whether key may fire
// now and, if so, starts its window. Reset ends a window early.
type Cooldown interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
	Reset(ctx context.Context, key string) error
}

// EvaluatorConfig tunes an evaluation pass.
type EvaluatorConfig struct {
	// Concurrency bounds in-flight weather fetches. Values below 1 mean 1.
	Concurrency int
	// Cooldown of zero disables repeat suppression.
	Cooldown time.Duration
	// RainAmountThreshold in inches, used when no probability is known.
	RainAmountThreshold float64
}

// PassResult summarises one evaluation pass.
type PassResult struct {
	Subscriptions int64 `json:"subscriptions"`
	Checked       int64 `json:"checked"`
	Skipped       int64 `json:"skipped"`
	Fired         int64 `json:"fired"`
	Dispatched    int64 `json:"dispatched"`
	Suppressed    int64 `json:"suppressed"`
	Failed        int64 `json:"failed"`
}

type passCounters struct {
	checked, skipped, fired, dispatched, suppressed, failed atomic.Int64
}

// Evaluator checks subscriptions against fresh weather and dispatches alerts.
type Evaluator struct {
	store      SubscriptionStore
	source     WeatherSource
	dispatcher Dispatcher
	cooldown   Cooldown
	cfg        EvaluatorConfig
	logger     logrus.FieldLogger
}

// NewEvaluator builds an Evaluator. cooldown may be nil when cfg.Cooldown is zero.
func NewEvaluator(store SubscriptionStore, source WeatherSource, dispatcher Dispatcher, cooldown Cooldown, cfg EvaluatorConfig, logger logrus.FieldLogger) *Evaluator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Evaluator{
		store:      store,
		source:     source,
		dispatcher: dispatcher,
		cooldown:   cooldown,
		cfg:        cfg,
		logger:     logger.WithField("component", "alerts"),
	}
}

// RunPass evaluates every active subscription once. Fetches run concurrently
// up to cfg.Concurrency. A failed fetch skips only that subscription. When
// ctx is cancelled no further fetches are started; dispatched alerts stand.
func (e *Evaluator) RunPass(ctx context.Context) (PassResult, error) {
	start := time.Now()

	subs, err := e.store.List(ctx)
	if err != nil {
		return PassResult{}, err
	}

	var c passCounters
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)

	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		sub := sub
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			e.check(ctx, sub, &c)
			return nil
		})
	}
	_ = g.Wait()

	res := PassResult{
		Subscriptions: int64(len(subs)),
		Checked:       c.checked.Load(),
		Skipped:       c.skipped.Load(),
		Fired:         c.fired.Load(),
		Dispatched:    c.dispatched.Load(),
		Suppressed:    c.suppressed.Load(),
		Failed:        c.failed.Load(),
	}

	e.logger.WithFields(logrus.Fields{
		"subscriptions": res.Subscriptions,
		"checked":       res.Checked,
		"skipped":       res.Skipped,
		"fired":         res.Fired,
		"dispatched":    res.Dispatched,
		"suppressed":    res.Suppressed,
		"failed":        res.Failed,
		"duration":      time.Since(start).String(),
	}).Info("alert pass finished")

	return res, ctx.Err()
}

// Check evaluates a single subscription now, dispatches what fired and
// returns every fired event, including ones held back by the cooldown.
func (e *Evaluator) Check(ctx context.Context, sub Subscription) ([]Event, error) {
	var c passCounters
	events, err := e.evaluate(ctx, sub)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		e.deliver(ctx, ev, &c)
	}
	return events, nil
}

func (e *Evaluator) check(ctx context.Context, sub Subscription, c *passCounters) {
	events, err := e.evaluate(ctx, sub)
	if err != nil {
		c.skipped.Inc()
		e.logger.WithFields(logrus.Fields{
			"user_id":  sub.UserID,
			"location": sub.Location.Key(),
		}).WithError(err).Warn("skipping subscription: weather fetch failed")
		return
	}

	c.checked.Inc()
	c.fired.Add(int64(len(events)))
	for _, ev := range events {
		e.deliver(ctx, ev, c)
	}
}

func (e *Evaluator) evaluate(ctx context.Context, sub Subscription) ([]Event, error) {
	obs, err := e.source.Observe(ctx, sub.Location, sub.Unit)
	if err != nil {
		return nil, err
	}
	return Evaluate(sub, obs, e.cfg.RainAmountThreshold), nil
}

func (e *Evaluator) deliver(ctx context.Context, ev Event, c *passCounters) {
	log := e.logger.WithFields(logrus.Fields{
		"user_id":  ev.UserID,
		"kind":     ev.Kind,
		"event_id": ev.ID,
	})

	useCooldown := e.cfg.Cooldown > 0 && e.cooldown != nil
	if useCooldown {
		ok, err := e.cooldown.Allow(ctx, ev.CooldownKey(), e.cfg.Cooldown)
		if err != nil {
			// Fail open.
			log.WithError(err).Warn("cooldown check failed")
		} else if !ok {
			c.suppressed.Inc()
			log.Debug("alert suppressed by cooldown")
			return
		}
	}

	if err := e.dispatcher.Dispatch(ctx, ev.UserID, ev); err != nil {
		c.failed.Inc()
		if useCooldown {
			if rerr := e.cooldown.Reset(ctx, ev.CooldownKey()); rerr != nil {
				log.WithError(rerr).Warn("cooldown reset failed")
			}
		}
		if errors.Is(err, context.Canceled) {
			log.WithError(err).Debug("dispatch cancelled")
			return
		}
		log.WithError(err).Warn("alert dispatch failed")
		return
	}

	c.dispatched.Inc()
	log.Info("alert dispatched")
}
