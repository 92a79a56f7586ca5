package alerts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/weather-assistant/internal/logging"
	"github.com/i474232898/weather-assistant/internal/weather"
)

type memStore struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[string]Subscription)}
}

func (m *memStore) Put(ctx context.Context, sub Subscription) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.subs[sub.UserID]; ok {
		sub.ID = old.ID
		sub.CreatedAt = old.CreatedAt
	}
	m.subs[sub.UserID] = sub.Clone()
	return sub, nil
}

func (m *memStore) Get(ctx context.Context, userID string) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[userID]
	if !ok {
		return Subscription{}, errors.New("not found")
	}
	return sub.Clone(), nil
}

func (m *memStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, userID)
	return nil
}

func (m *memStore) List(ctx context.Context) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s.Clone())
	}
	return out, nil
}

type fakeSource struct {
	mu       sync.Mutex
	readings map[string]weather.Observation
	fail     map[string]bool
	calls    int
	inFlight int
	maxSeen  int
	delay    time.Duration
	onFetch  func(call int)
}

func (f *fakeSource) Observe(ctx context.Context, loc weather.Location, unit weather.Unit) (weather.Observation, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	if f.onFetch != nil {
		f.onFetch(call)
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.fail[loc.Name] {
		return weather.Observation{}, errors.New("upstream down")
	}
	return f.readings[loc.Name], nil
}

type dispatched struct {
	userID string
	event  Event
}

type fakeDispatcher struct {
	mu     sync.Mutex
	sent   []dispatched
	failOn map[string]error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, userID string, ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failOn[userID]; err != nil {
		return err
	}
	d.sent = append(d.sent, dispatched{userID: userID, event: ev})
	return nil
}

type fakeCooldown struct {
	mu     sync.Mutex
	keys   map[string]bool
	resets int
}

func (c *fakeCooldown) Allow(ctx context.Context, key string, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *fakeCooldown) Reset(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	c.resets++
	return nil
}

func hot(temp float64) weather.Observation {
	return weather.Observation{
		Reading:                  weather.Reading{Temperature: temp, Timestamp: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)},
		PrecipitationProbability: weather.Float(0),
	}
}

func TestNewYorkScenario(t *testing.T) {
	store := newMemStore()
	source := &fakeSource{readings: map[string]weather.Observation{"New York": hot(96)}}
	disp := &fakeDispatcher{}
	ev := NewEvaluator(store, source, disp, nil, EvaluatorConfig{Concurrency: 2}, logging.Discard())
	svc := NewService(store, ev)

	_, err := svc.Subscribe(context.Background(), SubscribeRequest{
		UserID:       "u1",
		Latitude:     40.7128,
		Longitude:    -74.0060,
		LocationName: "New York",
		Rules:        []Rule{{Kind: RuleTemperatureHigh, Threshold: 95}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := ev.RunPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Dispatched != 1 {
		t.Fatalf("expected 1 dispatched alert, got %d", res.Dispatched)
	}
	if len(disp.sent) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(disp.sent))
	}
	got := disp.sent[0]
	if got.userID != "u1" || got.event.Kind != RuleTemperatureHigh || got.event.Severity != SeverityWarning || got.event.Location != "New York" {
		t.Fatalf("unexpected dispatch: %+v", got)
	}
}

func TestRunPassIsolatesFetchFailures(t *testing.T) {
	store := newMemStore()
	store.Put(context.Background(), subscription(Rule{Kind: RuleTemperatureHigh, Threshold: 90}))
	b := subscription(Rule{Kind: RuleTemperatureHigh, Threshold: 90})
	b.UserID = "u2"
	b.Location.Name = "Phoenix"
	store.Put(context.Background(), b)

	source := &fakeSource{
		readings: map[string]weather.Observation{"Phoenix": hot(110)},
		fail:     map[string]bool{"New York": true},
	}
	disp := &fakeDispatcher{}
	ev := NewEvaluator(store, source, disp, nil, EvaluatorConfig{Concurrency: 4}, logging.Discard())

	res, err := ev.RunPass(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != 1 || res.Checked != 1 {
		t.Fatalf("expected one skipped and one checked, got %+v", res)
	}
	if len(disp.sent) != 1 || disp.sent[0].userID != "u2" {
		t.Fatalf("expected u2's alert to be dispatched, got %+v", disp.sent)
	}
}

func TestRunPassBoundsConcurrency(t *testing.T) {
	store := newMemStore()
	readings := map[string]weather.Observation{}
	for i := 0; i < 8; i++ {
		sub := subscription()
		sub.UserID = string(rune('a' + i))
		sub.Location.Name = sub.UserID
		store.Put(context.Background(), sub)
		readings[sub.UserID] = hot(70)
	}

	source := &fakeSource{readings: readings, delay: 10 * time.Millisecond}
	ev := NewEvaluator(store, source, &fakeDispatcher{}, nil, EvaluatorConfig{Concurrency: 2}, logging.Discard())

	if _, err := ev.RunPass(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.calls != 8 {
		t.Fatalf("expected 8 fetches, got %d", source.calls)
	}
	if source.maxSeen > 2 {
		t.Fatalf("expected at most 2 in-flight fetches, saw %d", source.maxSeen)
	}
}

func TestRunPassStopsWhenCancelled(t *testing.T) {
	store := newMemStore()
	store.Put(context.Background(), subscription(Rule{Kind: RuleTemperatureHigh, Threshold: 90}))
	source := &fakeSource{readings: map[string]weather.Observation{"New York": hot(100)}}
	disp := &fakeDispatcher{}
	ev := NewEvaluator(store, source, disp, nil, EvaluatorConfig{}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ev.RunPass(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if source.calls != 0 || len(disp.sent) != 0 {
		t.Fatalf("expected no fetches or dispatches after cancel, got %d/%d", source.calls, len(disp.sent))
	}
}

func TestRunPassCancelledMidway(t *testing.T) {
	store := newMemStore()
	readings := map[string]weather.Observation{}
	for i := 0; i < 5; i++ {
		sub := subscription(Rule{Kind: RuleTemperatureHigh, Threshold: 90})
		sub.UserID = fmt.Sprintf("user-%d", i)
		sub.Location.Name = sub.UserID
		store.Put(context.Background(), sub)
		readings[sub.UserID] = hot(100)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := &fakeSource{readings: readings, delay: 10 * time.Millisecond}
	source.onFetch = func(call int) {
		if call == 1 {
			cancel()
		}
	}
	disp := &fakeDispatcher{}
	ev := NewEvaluator(store, source, disp, nil, EvaluatorConfig{Concurrency: 1}, logging.Discard())

	res, err := ev.RunPass(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected no fetch after cancel, got %d fetches", source.calls)
	}
	if len(disp.sent) != 1 || res.Dispatched != 1 {
		t.Fatalf("expected the in-flight alert to stand, got %d sent (%+v)", len(disp.sent), res)
	}
}

func TestCooldownSuppressesRepeatAlerts(t *testing.T) {
	store := newMemStore()
	store.Put(context.Background(), subscription(Rule{Kind: RuleTemperatureHigh, Threshold: 90}))
	source := &fakeSource{readings: map[string]weather.Observation{"New York": hot(100)}}
	disp := &fakeDispatcher{}
	cd := &fakeCooldown{keys: map[string]bool{}}
	ev := NewEvaluator(store, source, disp, cd, EvaluatorConfig{Cooldown: time.Hour}, logging.Discard())

	first, _ := ev.RunPass(context.Background())
	second, _ := ev.RunPass(context.Background())

	if first.Dispatched != 1 || second.Dispatched != 0 || second.Suppressed != 1 {
		t.Fatalf("expected second pass to be suppressed, got %+v then %+v", first, second)
	}
}

func TestFailedDispatchResetsCooldown(t *testing.T) {
	store := newMemStore()
	store.Put(context.Background(), subscription(Rule{Kind: RuleTemperatureHigh, Threshold: 90}))
	source := &fakeSource{readings: map[string]weather.Observation{"New York": hot(100)}}
	disp := &fakeDispatcher{failOn: map[string]error{"u1": errors.New("no device")}}
	cd := &fakeCooldown{keys: map[string]bool{}}
	ev := NewEvaluator(store, source, disp, cd, EvaluatorConfig{Cooldown: time.Hour}, logging.Discard())

	res, _ := ev.RunPass(context.Background())
	if res.Failed != 1 {
		t.Fatalf("expected one failed dispatch, got %+v", res)
	}
	if cd.resets != 1 || len(cd.keys) != 0 {
		t.Fatalf("expected cooldown window to be released after failure")
	}
}

func TestSubscribeReplacesExisting(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	first, err := svc.Subscribe(ctx, SubscribeRequest{UserID: "u1", Latitude: 10, Longitude: 10, LocationName: "A"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Subscribe(ctx, SubscribeRequest{UserID: "u1", Latitude: 20, Longitude: 20, LocationName: "B"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	subs, _ := svc.List(ctx)
	if len(subs) != 1 {
		t.Fatalf("expected exactly one subscription, got %d", len(subs))
	}
	if subs[0].Location.Name != "B" || second.ID != first.ID {
		t.Fatalf("expected replacement keeping the id, got %+v", subs[0])
	}
	if len(subs[0].Rules) != len(DefaultRules(weather.UnitFahrenheit)) {
		t.Fatalf("expected default rules, got %+v", subs[0].Rules)
	}
}

func TestSubscribeRejectsInvalidLocation(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	cases := [][2]float64{{91, 0}, {-90.5, 0}, {0, 180.1}, {0, -181}}
	for _, c := range cases {
		_, err := svc.Subscribe(context.Background(), SubscribeRequest{UserID: "u1", Latitude: c[0], Longitude: c[1]})
		if !errors.Is(err, ErrInvalidLocation) {
			t.Fatalf("expected ErrInvalidLocation for %v, got %v", c, err)
		}
	}
}

func TestSubscribeAcceptsBoundaryCoordinates(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	cases := [][2]float64{{90, 180}, {-90, -180}, {90, -180}, {-90, 180}, {0, 0}}
	for i, c := range cases {
		user := fmt.Sprintf("u%d", i)
		sub, err := svc.Subscribe(context.Background(), SubscribeRequest{UserID: user, Latitude: c[0], Longitude: c[1]})
		if err != nil {
			t.Fatalf("expected %v to be accepted, got %v", c, err)
		}
		if sub.Location.Latitude != c[0] || sub.Location.Longitude != c[1] {
			t.Fatalf("expected stored location %v, got %+v", c, sub.Location)
		}
	}
}

func TestUnsubscribeMissingIsNoop(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	if err := svc.Unsubscribe(context.Background(), "nobody"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCheckReturnsFiredEvents(t *testing.T) {
	store := newMemStore()
	source := &fakeSource{readings: map[string]weather.Observation{"New York": hot(20)}}
	disp := &fakeDispatcher{}
	svc := NewService(store, NewEvaluator(store, source, disp, nil, EvaluatorConfig{}, logging.Discard()))

	_, err := svc.Subscribe(context.Background(), SubscribeRequest{UserID: "u1", Latitude: 40.7, Longitude: -74, LocationName: "New York"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := svc.Check(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	kinds := make([]string, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, string(e.Kind))
	}
	sort.Strings(kinds)
	if len(kinds) != 1 || kinds[0] != string(RuleTemperatureLow) {
		t.Fatalf("expected only the low temperature rule to fire, got %v", kinds)
	}
	if len(disp.sent) != 1 {
		t.Fatalf("expected check to dispatch, got %d", len(disp.sent))
	}
}
