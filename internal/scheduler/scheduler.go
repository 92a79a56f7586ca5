package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/weather-assistant/internal/alerts"
)

// Runner performs one alert evaluation pass.
type Runner interface {
	RunPass(ctx context.Context) (alerts.PassResult, error)
}

// Scheduler runs periodic alert passes. A pass still running when the next
// tick arrives makes that tick a no-op.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
	timeout   time.Duration
	logger    logrus.FieldLogger

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates a new Scheduler. A non-positive interval defaults to 30 minutes;
// a non-positive timeout leaves passes unbounded.
func New(runner Runner, interval, timeout time.Duration, logger logrus.FieldLogger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.WithField("component", "scheduler"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start schedules the periodic pass and starts the underlying scheduler. The
// first pass runs immediately.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).Do(s.runPass)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.WithField("interval", s.interval.String()).Info("alert scheduler started")
	return nil
}

func (s *Scheduler) runPass() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Debug("running alert pass")
	if _, err := s.runner.RunPass(ctx); err != nil {
		entry := s.logger.WithError(err)
		if errors.Is(err, context.Canceled) {
			entry.Info("alert pass cancelled")
			return
		}
		entry.Warn("alert pass ended early")
	}
}

// Stop cancels a running pass, waits for it to return and stops future ticks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.wg.Wait()
}
