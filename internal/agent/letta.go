package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/i474232898/weather-assistant/internal/store"
	"github.com/i474232898/weather-assistant/internal/upstream"
)

const (
	DefaultModel     = "openai/gpt-4o-mini"
	DefaultEmbedding = "openai/text-embedding-ada-002"
)

// MemoryBlock is one labelled core-memory section of an agent.
type MemoryBlock struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// AgentSpec describes an agent to create.
type AgentSpec struct {
	Name         string
	MemoryBlocks []MemoryBlock
	Tags         []string
	ToolIDs      []string
}

// ToolCall is a function call the agent made while answering.
type ToolCall struct {
	ID        string `json:"tool_call_id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Reply is the agent's answer to one user message. Pending holds the calls
// the server is waiting for the client to execute.
type Reply struct {
	Messages  []string
	ToolCalls []ToolCall
	Pending   []ToolCall
}

// LettaClient talks to a Letta server's REST API.
type LettaClient struct {
	baseURL   string
	apiKey    string
	model     string
	embedding string
	http      *upstream.Client
}

// NewLettaClient creates a client for the server at baseURL. Empty model and
// embedding fall back to the defaults.
func NewLettaClient(baseURL, apiKey, model, embedding string, cfg upstream.Config) *LettaClient {
	if model == "" {
		model = DefaultModel
	}
	if embedding == "" {
		embedding = DefaultEmbedding
	}
	return &LettaClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		embedding: embedding,
		http:      upstream.New("letta", cfg),
	}
}

type lettaAgent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *LettaClient) CreateAgent(ctx context.Context, spec AgentSpec) (string, error) {
	body := map[string]interface{}{
		"name":          spec.Name,
		"memory_blocks": spec.MemoryBlocks,
		"model":         c.model,
		"embedding":     c.embedding,
	}
	if len(spec.Tags) > 0 {
		body["tags"] = spec.Tags
	}
	if len(spec.ToolIDs) > 0 {
		body["tool_ids"] = spec.ToolIDs
	}

	var created lettaAgent
	if err := c.http.SendJSON(ctx, http.MethodPost, c.baseURL+"/v1/agents/", c.header(), body, &created); err != nil {
		return "", fmt.Errorf("create agent %s: %w", spec.Name, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create agent %s: empty agent id in response", spec.Name)
	}
	return created.ID, nil
}

// FindAgent returns the id of the agent with the exact name, or
// store.ErrNotFound.
func (c *LettaClient) FindAgent(ctx context.Context, name string) (string, error) {
	q := url.Values{}
	q.Set("name", name)

	var agents []lettaAgent
	if err := c.http.SendJSON(ctx, http.MethodGet, c.baseURL+"/v1/agents/?"+q.Encode(), c.header(), nil, &agents); err != nil {
		return "", fmt.Errorf("list agents: %w", err)
	}
	for _, a := range agents {
		if a.Name == name {
			return a.ID, nil
		}
	}
	return "", store.ErrNotFound
}

func (c *LettaClient) DeleteAgent(ctx context.Context, agentID string) error {
	if err := c.http.SendJSON(ctx, http.MethodDelete, c.agentURL(agentID), c.header(), nil, nil); err != nil {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	return nil
}

type lettaTool struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UpsertTool registers a schema-only tool that the client executes, and
// returns its server id.
func (c *LettaClient) UpsertTool(ctx context.Context, t Tool) (string, error) {
	body := map[string]interface{}{
		"json_schema":               t,
		"description":               t.Description,
		"source_type":               "json",
		"tags":                      []string{"weather", "client"},
		"default_requires_approval": true,
	}

	var saved lettaTool
	if err := c.http.SendJSON(ctx, http.MethodPut, c.baseURL+"/v1/tools/", c.header(), body, &saved); err != nil {
		return "", fmt.Errorf("register tool %s: %w", t.Name, err)
	}
	if saved.ID == "" {
		return "", fmt.Errorf("register tool %s: empty tool id in response", t.Name)
	}
	return saved.ID, nil
}

type lettaMessage struct {
	MessageType string          `json:"message_type"`
	Content     json.RawMessage `json:"content"`
	ToolCall    *ToolCall       `json:"tool_call"`
	ToolCallID  string          `json:"tool_call_id"`
}

// SendMessage posts a user message and collects assistant text and tool calls
// from the response.
func (c *LettaClient) SendMessage(ctx context.Context, agentID, text string) (Reply, error) {
	body := map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": text}},
	}
	return c.postMessages(ctx, agentID, body)
}

// SendToolReturn hands the result of a client-executed tool call back to the
// agent and returns what the agent said next.
func (c *LettaClient) SendToolReturn(ctx context.Context, agentID string, call ToolCall, result string, failed bool) (Reply, error) {
	status := "success"
	if failed {
		status = "error"
	}
	body := map[string]interface{}{
		"messages": []map[string]interface{}{{
			"type": "approval",
			"approvals": []map[string]string{{
				"type":         "tool",
				"tool_call_id": call.ID,
				"tool_return":  result,
				"status":       status,
			}},
		}},
	}
	return c.postMessages(ctx, agentID, body)
}

func (c *LettaClient) postMessages(ctx context.Context, agentID string, body interface{}) (Reply, error) {
	var resp struct {
		Messages []lettaMessage `json:"messages"`
	}
	if err := c.http.SendJSON(ctx, http.MethodPost, c.agentURL(agentID)+"/messages", c.header(), body, &resp); err != nil {
		return Reply{}, fmt.Errorf("send message to agent %s: %w", agentID, err)
	}
	return parseReply(resp.Messages), nil
}

func parseReply(msgs []lettaMessage) Reply {
	var (
		reply    Reply
		calls    []ToolCall
		returned = make(map[string]bool)
	)
	for _, m := range msgs {
		switch m.MessageType {
		case "assistant_message":
			if s := messageText(m.Content); s != "" {
				reply.Messages = append(reply.Messages, s)
			}
		case "tool_call_message", "approval_request_message":
			if m.ToolCall != nil {
				reply.ToolCalls = append(reply.ToolCalls, *m.ToolCall)
				calls = append(calls, *m.ToolCall)
			}
		case "tool_return_message":
			returned[m.ToolCallID] = true
		}
	}
	for _, call := range calls {
		if !returned[call.ID] {
			reply.Pending = append(reply.Pending, call)
		}
	}
	return reply
}

// UpdateMemoryBlock replaces the value of a core-memory block.
func (c *LettaClient) UpdateMemoryBlock(ctx context.Context, agentID, label, value string) error {
	u := c.agentURL(agentID) + "/core-memory/blocks/" + url.PathEscape(label)
	if err := c.http.SendJSON(ctx, http.MethodPatch, u, c.header(), map[string]string{"value": value}, nil); err != nil {
		return fmt.Errorf("update %s block of agent %s: %w", label, agentID, err)
	}
	return nil
}

func (c *LettaClient) agentURL(agentID string) string {
	return c.baseURL + "/v1/agents/" + url.PathEscape(agentID)
}

func (c *LettaClient) header() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
	return h
}

// messageText accepts content as a plain string or as a list of text parts.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}
