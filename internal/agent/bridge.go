package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/weather-assistant/internal/common"
	"github.com/i474232898/weather-assistant/internal/store"
)

var (
	// ErrNotConfigured is returned when no agent server is configured.
	ErrNotConfigured = errors.New("agent service not configured")
	// ErrUnknownTool is returned for tool names the registry does not serve.
	ErrUnknownTool = errors.New("unknown tool")
)

const (
	defaultReply = "I processed your request."
	// maxToolRounds bounds the tool call/return exchanges of one chat message.
	maxToolRounds = 5
)

// Backend is the stateful agent server.
type Backend interface {
	CreateAgent(ctx context.Context, spec AgentSpec) (string, error)
	FindAgent(ctx context.Context, name string) (string, error)
	DeleteAgent(ctx context.Context, agentID string) error
	SendMessage(ctx context.Context, agentID, text string) (Reply, error)
	SendToolReturn(ctx context.Context, agentID string, call ToolCall, result string, failed bool) (Reply, error)
	UpdateMemoryBlock(ctx context.Context, agentID, label, value string) error
	UpsertTool(ctx context.Context, t Tool) (string, error)
}

// Directory remembers which agent belongs to which user.
type Directory interface {
	PutAgent(ctx context.Context, rec store.AgentRecord) error
	GetAgent(ctx context.Context, userID string) (store.AgentRecord, error)
	DeleteAgent(ctx context.Context, userID string) error
}

// ChatResponse is the answer to one chat message.
type ChatResponse struct {
	Response  string     `json:"response"`
	ToolCalls []ToolCall `json:"tool_calls"`
	AgentID   string     `json:"agent_id"`
}

// Bridge forwards chat traffic to one agent per user, creating agents on
// first use. Tool calls the agent makes are executed against the registry and
// their results returned to the agent.
type Bridge struct {
	backend Backend
	dir     Directory
	tools   *ToolRegistry
	logger  logrus.FieldLogger
	now     func() time.Time
	create  singleflight.Group
}

// NewBridge creates a Bridge. A nil backend yields a bridge whose operations
// fail with ErrNotConfigured. A nil registry gives agents no tools.
func NewBridge(backend Backend, dir Directory, tools *ToolRegistry, logger logrus.FieldLogger) *Bridge {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if dir == nil {
		dir = store.NewMemoryAgentDirectory()
	}
	return &Bridge{
		backend: backend,
		dir:     dir,
		tools:   tools,
		logger:  logger.WithField("component", "agent"),
		now:     time.Now,
	}
}

func (b *Bridge) Configured() bool {
	return b.backend != nil
}

// AgentName is the server-side name of a user's agent.
func AgentName(userID string) string {
	return "weather_agent_" + userID
}

// Get returns the user's agent, consulting the server when the directory has
// no entry. It returns store.ErrNotFound if the user has no agent.
func (b *Bridge) Get(ctx context.Context, userID string) (store.AgentRecord, error) {
	if err := b.check(userID); err != nil {
		return store.AgentRecord{}, err
	}

	rec, err := b.dir.GetAgent(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.AgentRecord{}, fmt.Errorf("lookup agent: %w", err)
	}

	name := AgentName(userID)
	id, err := b.backend.FindAgent(ctx, name)
	if err != nil {
		return store.AgentRecord{}, err
	}
	rec = store.AgentRecord{UserID: userID, AgentID: id, Name: name, CreatedAt: b.now().UTC()}
	if err := b.dir.PutAgent(ctx, rec); err != nil {
		b.logger.WithField("user_id", userID).WithError(err).Warn("failed to remember agent")
	}
	return rec, nil
}

// Create returns the user's agent, creating it when none exists. Concurrent
// calls for the same user share one creation.
func (b *Bridge) Create(ctx context.Context, userID string) (store.AgentRecord, error) {
	if err := b.check(userID); err != nil {
		return store.AgentRecord{}, err
	}

	v, err, _ := b.create.Do(userID, func() (interface{}, error) {
		rec, err := b.Get(ctx, userID)
		if err == nil || !errors.Is(err, store.ErrNotFound) {
			return rec, err
		}

		name := AgentName(userID)
		id, err := b.backend.CreateAgent(ctx, AgentSpec{
			Name: name,
			MemoryBlocks: []MemoryBlock{
				{Label: "persona", Value: Persona},
				{Label: "human", Value: DefaultHuman},
			},
			Tags:    []string{"weather", "user:" + userID},
			ToolIDs: b.registerTools(ctx, userID),
		})
		if err != nil {
			return store.AgentRecord{}, err
		}

		rec = store.AgentRecord{UserID: userID, AgentID: id, Name: name, CreatedAt: b.now().UTC()}
		if err := b.dir.PutAgent(ctx, rec); err != nil {
			return store.AgentRecord{}, fmt.Errorf("save agent: %w", err)
		}
		b.logger.WithFields(logrus.Fields{"user_id": userID, "agent_id": id}).Info("agent created")
		return rec, nil
	})
	if err != nil {
		return store.AgentRecord{}, err
	}
	return v.(store.AgentRecord), nil
}

// registerTools upserts every registry tool on the server and returns the ids
// to attach. A tool that fails to register is left out.
func (b *Bridge) registerTools(ctx context.Context, userID string) []string {
	if b.tools == nil {
		return nil
	}
	var ids []string
	for _, t := range b.tools.Definitions() {
		id, err := b.backend.UpsertTool(ctx, t)
		if err != nil {
			b.logger.WithFields(logrus.Fields{"user_id": userID, "tool": t.Name}).WithError(err).Warn("failed to register tool")
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Delete removes the user's agent from the server and the directory.
func (b *Bridge) Delete(ctx context.Context, userID string) error {
	rec, err := b.Get(ctx, userID)
	if err != nil {
		return err
	}
	// The server answering 404 means the agent is already gone.
	if err := b.backend.DeleteAgent(ctx, rec.AgentID); err != nil && !errors.Is(err, common.ErrInvalidQuery) {
		return err
	}
	if err := b.dir.DeleteAgent(ctx, userID); err != nil {
		return fmt.Errorf("forget agent: %w", err)
	}
	return nil
}

// UpdatePreferences rewrites the human memory block of an existing agent.
func (b *Bridge) UpdatePreferences(ctx context.Context, userID string, prefs Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}
	rec, err := b.Get(ctx, userID)
	if err != nil {
		return err
	}
	return b.backend.UpdateMemoryBlock(ctx, rec.AgentID, "human", HumanBlock(prefs))
}

// Chat sends message to the user's agent, creating the agent if needed.
func (b *Bridge) Chat(ctx context.Context, userID, message string) (ChatResponse, error) {
	if err := b.check(userID); err != nil {
		return ChatResponse{}, err
	}
	if strings.TrimSpace(message) == "" {
		return ChatResponse{}, fmt.Errorf("%w: message is required", common.ErrInvalidQuery)
	}

	rec, err := b.Create(ctx, userID)
	if err != nil {
		return ChatResponse{}, err
	}

	reply, err := b.backend.SendMessage(ctx, rec.AgentID, message)
	if err != nil {
		return ChatResponse{}, err
	}

	messages := reply.Messages
	resp := ChatResponse{ToolCalls: reply.ToolCalls, AgentID: rec.AgentID}
	pending := reply.Pending
	for round := 0; len(pending) > 0 && b.tools != nil; round++ {
		if round == maxToolRounds {
			b.logger.WithField("user_id", userID).Warn("tool call limit reached")
			break
		}
		var next []ToolCall
		for _, call := range pending {
			result, failed := b.runTool(ctx, call)
			r, err := b.backend.SendToolReturn(ctx, rec.AgentID, call, result, failed)
			if err != nil {
				return ChatResponse{}, err
			}
			messages = append(messages, r.Messages...)
			resp.ToolCalls = append(resp.ToolCalls, r.ToolCalls...)
			next = append(next, r.Pending...)
		}
		pending = next
	}

	resp.Response = strings.Join(messages, " ")
	if resp.Response == "" {
		resp.Response = defaultReply
	}
	if resp.ToolCalls == nil {
		resp.ToolCalls = []ToolCall{}
	}
	return resp, nil
}

// runTool executes one call and encodes its result, or its error, for the
// agent.
func (b *Bridge) runTool(ctx context.Context, call ToolCall) (string, bool) {
	log := b.logger.WithField("tool", call.Name)
	out, err := b.tools.Invoke(ctx, call.Name, json.RawMessage(call.Arguments))
	if err != nil {
		log.WithError(err).Info("tool call failed")
		return err.Error(), true
	}
	data, err := json.Marshal(out)
	if err != nil {
		log.WithError(err).Warn("encode tool result")
		return err.Error(), true
	}
	return string(data), false
}

func (b *Bridge) check(userID string) error {
	if b.backend == nil {
		return ErrNotConfigured
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", common.ErrInvalidQuery)
	}
	return nil
}
