package expertloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/martinemde/conductor/modelclient"
)

// ToolResult is the structured outcome of a tool execution. Executors
// never return Go errors to the loop; failures are carried in the result
// so the model can observe and correct them.
type ToolResult struct {
	CallID   string
	Tool     string
	Success  bool
	Output   string
	TimedOut bool

	// Optional classifications for event emission.
	FileOp  *FileOperationEvent
	Command *TerminalCommandEvent
}

func failure(format string, args ...any) ToolResult {
	return ToolResult{Success: false, Output: fmt.Sprintf(format, args...)}
}

// ToolExecutor runs one tool call against a session workspace. Arguments
// arrive as the raw JSON the model produced.
type ToolExecutor func(ctx context.Context, args json.RawMessage, ws *Workspace) ToolResult

// Tool pairs a model-facing definition with its executor.
type Tool struct {
	Definition modelclient.ToolDefinition
	Execute    ToolExecutor
}

// ToolRegistry holds the tools available to experts. Registration
// happens at engine construction; lookups happen per turn.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Definition.Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get looks up a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the model-facing definitions for the named tools,
// preserving registration order. Unknown names are skipped.
func (r *ToolRegistry) Definitions(names []string) []modelclient.ToolDefinition {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]modelclient.ToolDefinition, 0, len(names))
	for _, name := range r.order {
		if _, ok := allowed[name]; ok {
			defs = append(defs, r.tools[name].Definition)
		}
	}
	return defs
}

// Execute runs a tool call and always returns a structured result. A
// missing tool, a panicking executor, or malformed arguments become
// failed results rather than errors, and the output is truncated to the
// per-tool budget before it reaches history.
func (r *ToolRegistry) Execute(ctx context.Context, call modelclient.ToolCall, ws *Workspace) (result ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = failure("tool %s panicked: %v", call.Name, rec)
		}
		result.CallID = call.ID
		result.Tool = call.Name
		result.Output = TruncateToolOutput(call.Name, result.Output)
	}()

	tool, ok := r.Get(call.Name)
	if !ok {
		return failure("unknown tool %q", call.Name)
	}
	return tool.Execute(ctx, call.Arguments, ws)
}

// parseArgs unmarshals tool arguments into a typed struct.
func parseArgs[T any](raw json.RawMessage) (T, error) {
	var parsed T
	if len(raw) == 0 {
		return parsed, fmt.Errorf("missing arguments")
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsed, fmt.Errorf("invalid arguments: %w", err)
	}
	return parsed, nil
}
