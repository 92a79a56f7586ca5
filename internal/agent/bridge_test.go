package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/store"
)

type toolReturn struct {
	call   ToolCall
	result string
	failed bool
}

type fakeBackend struct {
	mu          sync.Mutex
	agents      map[string]string // name -> id
	created     int
	deleted     []string
	blocks      map[string]string
	reply       Reply
	sendErr     error
	lastText    string
	tools       []string
	lastSpec    AgentSpec
	returns     []toolReturn
	toolReplies []Reply
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{agents: make(map[string]string), blocks: make(map[string]string)}
}

func (f *fakeBackend) CreateAgent(_ context.Context, spec AgentSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	f.lastSpec = spec
	id := "agent-" + spec.Name
	f.agents[spec.Name] = id
	return id, nil
}

func (f *fakeBackend) FindAgent(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.agents[name]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

func (f *fakeBackend) DeleteAgent(_ context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, agentID)
	for name, id := range f.agents {
		if id == agentID {
			delete(f.agents, name)
		}
	}
	return nil
}

func (f *fakeBackend) SendMessage(_ context.Context, _ string, text string) (Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastText = text
	return f.reply, f.sendErr
}

func (f *fakeBackend) SendToolReturn(_ context.Context, _ string, call ToolCall, result string, failed bool) (Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.returns = append(f.returns, toolReturn{call: call, result: result, failed: failed})
	if len(f.toolReplies) == 0 {
		return Reply{}, nil
	}
	next := f.toolReplies[0]
	f.toolReplies = f.toolReplies[1:]
	return next, nil
}

func (f *fakeBackend) UpsertTool(_ context.Context, t Tool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = append(f.tools, t.Name)
	return "tool-" + t.Name, nil
}

func (f *fakeBackend) UpdateMemoryBlock(_ context.Context, agentID, label, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[agentID+"/"+label] = value
	return nil
}

func TestBridgeNotConfigured(t *testing.T) {
	b := NewBridge(nil, nil, nil, nil)
	if b.Configured() {
		t.Fatalf("expected unconfigured bridge")
	}
	if _, err := b.Chat(context.Background(), "u1", "hi"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestBridgeCreateIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	b := NewBridge(backend, store.NewMemoryAgentDirectory(), nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Create(context.Background(), "u1"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := b.Create(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.created != 1 {
		t.Fatalf("expected 1 agent created, got %d", backend.created)
	}
	if rec.Name != "weather_agent_u1" || rec.AgentID != "agent-weather_agent_u1" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestBridgeGetAdoptsExistingServerAgent(t *testing.T) {
	backend := newFakeBackend()
	backend.agents["weather_agent_u2"] = "existing"
	dir := store.NewMemoryAgentDirectory()
	b := NewBridge(backend, dir, nil, nil)

	rec, err := b.Get(context.Background(), "u2")
	if err != nil || rec.AgentID != "existing" {
		t.Fatalf("expected existing agent, got %+v (err %v)", rec, err)
	}
	if _, err := dir.GetAgent(context.Background(), "u2"); err != nil {
		t.Fatalf("expected directory entry, got %v", err)
	}
	if _, err := b.Get(context.Background(), "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBridgeChatCreatesAgentAndDefaultsReply(t *testing.T) {
	backend := newFakeBackend()
	b := NewBridge(backend, nil, nil, nil)

	resp, err := b.Chat(context.Background(), "u1", "What's the weather?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Response != defaultReply || resp.AgentID == "" || resp.ToolCalls == nil {
		t.Fatalf("unexpected response %+v", resp)
	}

	backend.reply = Reply{Messages: []string{"Sunny.", "75°F."}, ToolCalls: []ToolCall{{Name: "get_current_weather"}}}
	resp, err = b.Chat(context.Background(), "u1", "And now?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Response != "Sunny. 75°F." || len(resp.ToolCalls) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if backend.created != 1 {
		t.Fatalf("expected agent reuse, got %d creations", backend.created)
	}
}

func newTestRegistry() (*ToolRegistry, *stubWeather) {
	w := &stubWeather{}
	return NewToolRegistry(w, &stubGeocoder{}, &stubCalendar{}), w
}

func TestBridgeCreateAttachesTools(t *testing.T) {
	backend := newFakeBackend()
	registry, _ := newTestRegistry()
	b := NewBridge(backend, nil, registry, nil)

	if _, err := b.Create(context.Background(), "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defs := registry.Definitions()
	if len(backend.tools) != len(defs) {
		t.Fatalf("expected %d tools registered, got %v", len(defs), backend.tools)
	}
	if len(backend.lastSpec.ToolIDs) != len(defs) || backend.lastSpec.ToolIDs[0] != "tool-get_current_weather" {
		t.Fatalf("expected tool ids attached to the agent, got %v", backend.lastSpec.ToolIDs)
	}
}

func TestBridgeChatReturnsToolResultsToAgent(t *testing.T) {
	backend := newFakeBackend()
	registry, w := newTestRegistry()
	b := NewBridge(backend, nil, registry, nil)

	call := ToolCall{ID: "call-1", Name: "get_current_weather", Arguments: `{"latitude":40.7,"longitude":-74}`}
	backend.reply = Reply{ToolCalls: []ToolCall{call}, Pending: []ToolCall{call}}
	backend.toolReplies = []Reply{{Messages: []string{"It is sunny in New York."}}}

	resp, err := b.Chat(context.Background(), "u1", "Weather in New York?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.loc.Latitude != 40.7 || w.loc.Longitude != -74 {
		t.Fatalf("expected tool to run with the agent's arguments, got %+v", w.loc)
	}
	if len(backend.returns) != 1 || backend.returns[0].call.ID != "call-1" || backend.returns[0].failed {
		t.Fatalf("expected one successful tool return for call-1, got %+v", backend.returns)
	}
	if !strings.Contains(backend.returns[0].result, "stub") {
		t.Fatalf("expected encoded reading in tool return, got %q", backend.returns[0].result)
	}
	if resp.Response != "It is sunny in New York." || len(resp.ToolCalls) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestBridgeChatReportsFailedToolCalls(t *testing.T) {
	backend := newFakeBackend()
	registry, _ := newTestRegistry()
	b := NewBridge(backend, nil, registry, nil)

	call := ToolCall{ID: "call-9", Name: "launch_rocket", Arguments: `{}`}
	backend.reply = Reply{ToolCalls: []ToolCall{call}, Pending: []ToolCall{call}}

	if _, err := b.Chat(context.Background(), "u1", "Do something odd"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backend.returns) != 1 || !backend.returns[0].failed || !strings.Contains(backend.returns[0].result, "unknown tool") {
		t.Fatalf("expected failed tool return, got %+v", backend.returns)
	}
}

func TestBridgeChatBoundsToolRounds(t *testing.T) {
	backend := newFakeBackend()
	registry, _ := newTestRegistry()
	b := NewBridge(backend, nil, registry, nil)

	call := ToolCall{ID: "loop", Name: "get_current_weather", Arguments: `{"latitude":1,"longitude":1}`}
	backend.reply = Reply{Pending: []ToolCall{call}}
	for i := 0; i < maxToolRounds+3; i++ {
		backend.toolReplies = append(backend.toolReplies, Reply{Pending: []ToolCall{call}})
	}

	if _, err := b.Chat(context.Background(), "u1", "again"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backend.returns) != maxToolRounds {
		t.Fatalf("expected %d tool returns, got %d", maxToolRounds, len(backend.returns))
	}
}

func TestBridgeChatValidates(t *testing.T) {
	b := NewBridge(newFakeBackend(), nil, nil, nil)
	if _, err := b.Chat(context.Background(), "", "hi"); !errors.Is(err, common.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for empty user, got %v", err)
	}
	if _, err := b.Chat(context.Background(), "u1", "   "); !errors.Is(err, common.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for empty message, got %v", err)
	}
}

func TestBridgeDelete(t *testing.T) {
	backend := newFakeBackend()
	b := NewBridge(backend, nil, nil, nil)
	if _, err := b.Create(context.Background(), "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Delete(context.Background(), "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(backend.deleted) != 1 {
		t.Fatalf("expected one server delete, got %v", backend.deleted)
	}
	if err := b.Delete(context.Background(), "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestBridgeUpdatePreferences(t *testing.T) {
	backend := newFakeBackend()
	b := NewBridge(backend, nil, nil, nil)

	prefs := Preferences{Name: "Sam", TemperatureUnit: "celsius", HomeLocation: &SavedLocation{Name: "Berlin", Latitude: 52.52, Longitude: 13.405}}
	if err := b.UpdatePreferences(context.Background(), "u1", prefs); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound without an agent, got %v", err)
	}

	rec, _ := b.Create(context.Background(), "u1")
	if err := b.UpdatePreferences(context.Background(), "u1", prefs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	block := backend.blocks[rec.AgentID+"/human"]
	for _, want := range []string{"Name: Sam", "Preferred temperature unit: Celsius", "Home location: Berlin"} {
		if !strings.Contains(block, want) {
			t.Fatalf("expected block to contain %q, got %q", want, block)
		}
	}

	if err := b.UpdatePreferences(context.Background(), "u1", Preferences{TemperatureUnit: "kelvin"}); !errors.Is(err, common.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for bad unit, got %v", err)
	}
	bad := Preferences{HomeLocation: &SavedLocation{Latitude: 200}}
	if err := b.UpdatePreferences(context.Background(), "u1", bad); !errors.Is(err, common.ErrInvalidLocation) {
		t.Fatalf("expected ErrInvalidLocation, got %v", err)
	}
}

func TestHumanBlockDefaults(t *testing.T) {
	block := HumanBlock(Preferences{})
	for _, want := range []string{"Not yet known", "Fahrenheit", "Not yet set", "None saved yet", "None tracked yet"} {
		if !strings.Contains(block, want) {
			t.Fatalf("expected default block to contain %q, got %q", want, block)
		}
	}
}
