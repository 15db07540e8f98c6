// Package mcpbroker implements archflow's MCP Broker:
// it exposes registered workflows, resources, and prompts over the
// Model-Context-Protocol wire format. Grounded on the
// internal/mcp/server (server.go's NewServer/AddTool/ServeStdio,
// operations.go's request-argument extraction idiom), generalized from
// a fixed Conductor tool set (conductor_validate, conductor_run, ...)
// into a broker that enumerates registered workflows as MCP tools
// dynamically.
package mcpbroker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/archflow/archflow/pkg/flow"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Logger is the minimal structured-logging surface the broker needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Runner invokes a workflow by id, re-entering the Flow Engine
// ("the MCP Broker (K) wraps workflow executions as
// tools, re-entering at (J)").
type Runner interface {
	RunWorkflow(ctx context.Context, workflowID string, inputs map[string]any) (flow.FlowResult, error)
}

// WorkflowSource lists the workflows currently available to expose as
// tools (typically backed by pkg/registry).
type WorkflowSource interface {
	ListWorkflows() []WorkflowInfo
}

type resourceEntry struct {
	resource Resource
	provider ResourceProvider
	lastHash string
}

type promptEntry struct {
	prompt Prompt
	handler PromptHandler
}

// Broker exposes workflows/tools/resources/prompts over MCP (// §4.K). It wraps a *server.MCPServer for the tool-calling wire path
// while keeping resources/prompts/subscriptions as broker-level state,
// since mcp-go's tool registration is the only piece the
// internal/mcp/server exercises directly.
type Broker struct {
	name string
	version string
	runner Runner
	source WorkflowSource
	logger Logger
	mcp *server.MCPServer

	mu sync.RWMutex
	resources map[string]*resourceEntry
	subs map[string]bool
	prompts map[string]*promptEntry
	updates chan string
}

// New constructs a Broker and registers every workflow currently known
// to source as an MCP tool.
func New(name, version string, runner Runner, source WorkflowSource, logger Logger) *Broker {
	if logger == nil {
		logger = noopLogger{}
	}
	b := &Broker{
		name: name,
		version: version,
		runner: runner,
		source: source,
		logger: logger,
		mcp: server.NewMCPServer(name, version),
		resources: make(map[string]*resourceEntry),
		subs: make(map[string]bool),
		prompts: make(map[string]*promptEntry),
		updates: make(chan string, 64),
	}
	b.RefreshTools()
	return b
}

// RefreshTools re-registers every workflow in source as an MCP tool,
// picking up additions since New or the previous refresh.
func (b *Broker) RefreshTools() {
	for _, wf := range b.source.ListWorkflows() {
		wf := wf
		b.mcp.AddTool(mcp.Tool{
			Name: wf.ToolName(),
			Description: wf.Description,
			InputSchema: mcpInputSchema(schemaFromParams(wf.Parameters)),
		}, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			result, err := b.CallTool(ctx, wf.ToolName(), req.GetArguments())
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if result.IsError {
				return mcp.NewToolResultError(textOf(result)), nil
			}
			return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(textOf(result))}}, nil
		})
	}
}

func mcpInputSchema(s ToolSchema) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{Type: s.Type, Properties: s.Properties, Required: s.Required}
}

func textOf(r McpToolResult) string {
	if len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

// ServeStdio runs the broker over the stdio transport (// "pluggable McpTransport (stdio or WebSocket)", default stdio),
// grounded on Server.Run.
func (b *Broker) ServeStdio(ctx context.Context) error {
	b.logger.Debug("starting mcp broker", "name", b.name, "version", b.version)
	if err := server.ServeStdio(b.mcp); err != nil {
		return fmt.Errorf("mcpbroker: stdio transport: %w", err)
	}
	return nil
}

// InitializeResult is the broker's reply to the "initialize" method.
type InitializeResult struct {
	Name string
	Version string
	ProtocolVersion string
	ResourceStreaming bool
}

// Initialize handles the MCP "initialize" method.
func (b *Broker) Initialize(ctx context.Context) (InitializeResult, error) {
	return InitializeResult{Name: b.name, Version: b.version, ProtocolVersion: "2024-11-05", ResourceStreaming: true}, nil
}

// Initialized handles the "notifications/initialized" notification.
// Notifications are not answered.
func (b *Broker) Initialized(ctx context.Context) {
	b.logger.Debug("client initialized")
}

// ListTools handles the "listTools" method.
func (b *Broker) ListTools(ctx context.Context) []Tool {
	workflows := b.source.ListWorkflows()
	tools := make([]Tool, 0, len(workflows))
	for _, wf := range workflows {
		tools = append(tools, Tool{
			Name: wf.ToolName(),
			Description: wf.Description,
			InputSchema: schemaFromParams(wf.Parameters),
		})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// CallTool handles the "callTool" method: it invokes the Flow Engine
// and translates the FlowResult into an McpToolResult.
func (b *Broker) CallTool(ctx context.Context, name string, args map[string]any) (McpToolResult, error) {
	workflowID := name
	for _, wf := range b.source.ListWorkflows() {
		if wf.ToolName() == name {
			workflowID = wf.ID
			break
		}
	}

	result, err := b.runner.RunWorkflow(ctx, workflowID, args)
	if err != nil {
		return textResult(err.Error(), true), nil
	}

	switch result.Status {
	case flow.FlowCompleted:
		return textResult(fmt.Sprintf("%v", result.Output), false), nil
	case flow.FlowSuspended:
		return textResult(fmt.Sprintf("workflow suspended; resume token %q", result.ResumeToken), false), nil
	default:
		msg := fmt.Sprintf("workflow %s ended with status %s", workflowID, result.Status)
		if len(result.Errors) > 0 {
			msg = result.Errors[len(result.Errors)-1].Err.Error()
		}
		return textResult(msg, true), nil
	}
}

// RegisterResource adds a resource whose content is fetched on demand
// from provider.
func (b *Broker) RegisterResource(res Resource, provider ResourceProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resources[res.URI] = &resourceEntry{resource: res, provider: provider}
}

// ListResources handles the "listResources" method.
func (b *Broker) ListResources(ctx context.Context) []Resource {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Resource, 0, len(b.resources))
	for _, e := range b.resources {
		out = append(out, e.resource)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// ReadResource handles the "readResource" method, also refreshing the
// tracked content hash for any subscribed URI.
func (b *Broker) ReadResource(ctx context.Context, uri string) (ResourceContents, error) {
	b.mu.RLock()
	entry, ok := b.resources[uri]
	b.mu.RUnlock()
	if !ok {
		return ResourceContents{}, fmt.Errorf("mcpbroker: unknown resource %q", uri)
	}

	text, err := entry.provider()
	if err != nil {
		return ResourceContents{}, err
	}

	b.noteContent(uri, text)
	return ResourceContents{URI: uri, MimeType: entry.resource.MimeType, Text: text}, nil
}

// SubscribeToResource handles the "subscribeToResource" method: it
// marks uri as subscribed and primes its content hash, so a later
// ReadResource (or RefreshResource) call can detect a change and fire
// a resource/updated event (Open Question 2 — the
// self-referential read that silently drops the URI from the original
// source is not reproduced here).
func (b *Broker) SubscribeToResource(ctx context.Context, uri string) error {
	b.mu.Lock()
	_, ok := b.resources[uri]
	if ok {
		b.subs[uri] = true
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("mcpbroker: unknown resource %q", uri)
	}

	if _, err := b.ReadResource(ctx, uri); err != nil {
		return err
	}
	return nil
}

// RefreshResource re-fetches uri's content and, if it changed and the
// URI is subscribed, enqueues a "resource/updated" notification
// readable from Updates.
func (b *Broker) RefreshResource(ctx context.Context, uri string) error {
	_, err := b.ReadResource(ctx, uri)
	return err
}

func (b *Broker) noteContent(uri, text string) {
	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])

	b.mu.Lock()
	entry := b.resources[uri]
	subscribed := b.subs[uri]
	changed := entry.lastHash != "" && entry.lastHash != hash
	entry.lastHash = hash
	b.mu.Unlock()

	if changed && subscribed {
		select {
		case b.updates <- uri:
		default:
			b.logger.Warn("resource update notification dropped, channel full", "uri", uri)
		}
	}
}

// Updates returns the channel of resource URIs that changed while
// subscribed, for a transport loop to forward as "resource/updated"
// notifications.
func (b *Broker) Updates() <-chan string {
	return b.updates
}

// RegisterPrompt adds a named prompt template.
func (b *Broker) RegisterPrompt(p Prompt, handler PromptHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts[p.Name] = &promptEntry{prompt: p, handler: handler}
}

// ListPrompts handles the "listPrompts" method.
func (b *Broker) ListPrompts(ctx context.Context) []Prompt {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Prompt, 0, len(b.prompts))
	for _, e := range b.prompts {
		out = append(out, e.prompt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetPrompt handles the "getPrompt" method.
func (b *Broker) GetPrompt(ctx context.Context, name string, args map[string]string) ([]PromptMessage, error) {
	b.mu.RLock()
	entry, ok := b.prompts[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcpbroker: unknown prompt %q", name)
	}
	return entry.handler(args)
}

// Dispatch routes a raw MCP method name to the matching broker
// operation. Notifications ("notifications/initialized",
// "notifications/cancelled") are acknowledged with a nil result and
// are never answered. An unrecognized method returns
// MethodNotFoundError.
func (b *Broker) Dispatch(ctx context.Context, method string, call func() (any, error)) (any, error) {
	switch method {
	case "notifications/initialized", "notifications/cancelled":
		return nil, nil
	case "initialize", "listTools", "callTool", "listResources", "readResource",
		"subscribeToResource", "listPrompts", "getPrompt":
		return call()
	default:
		return nil, &MethodNotFoundError{Method: method}
	}
}
