package expertloop

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/conductor/modelclient"
)

// StepEventKind identifies the type of a streamed step event.
type StepEventKind string

const (
	EventRouting         StepEventKind = "routing"
	EventModelMessage    StepEventKind = "model-message"
	EventToolInvoked     StepEventKind = "tool-invoked"
	EventToolResult      StepEventKind = "tool-result"
	EventFileOperation   StepEventKind = "file-operation"
	EventTerminalCommand StepEventKind = "terminal-command"
	EventError           StepEventKind = "error"
	EventEnd             StepEventKind = "end"
)

// FileOpKind classifies a file mutation for display purposes.
type FileOpKind string

const (
	FileCreated    FileOpKind = "created"
	FileEditedFull FileOpKind = "edited-full"
	FileEditedDiff FileOpKind = "edited-diff"
)

// StepEvent is a tagged union streamed to consumers while a turn runs.
// Kind selects which payload pointer is set; End events carry no payload.
type StepEvent struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Kind      StepEventKind `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`

	Routing         *RoutingEvent         `json:"routing,omitempty"`
	ModelMessage    *ModelMessageEvent    `json:"model_message,omitempty"`
	ToolInvoked     *ToolInvokedEvent     `json:"tool_invoked,omitempty"`
	ToolResult      *ToolResultEvent      `json:"tool_result,omitempty"`
	FileOperation   *FileOperationEvent   `json:"file_operation,omitempty"`
	TerminalCommand *TerminalCommandEvent `json:"terminal_command,omitempty"`
	Error           *ErrorEvent           `json:"error,omitempty"`
}

// RoutingEvent announces which expert was selected for the turn.
type RoutingEvent struct {
	Expert    string `json:"expert"`
	Rationale string `json:"rationale,omitempty"`
}

// ModelMessageEvent carries assistant-visible text from the active expert.
type ModelMessageEvent struct {
	Expert  string `json:"expert"`
	Content string `json:"content"`
}

// ToolInvokedEvent records a tool call the model requested, including a
// snapshot of the prompt that produced it.
type ToolInvokedEvent struct {
	Tool      string                `json:"tool"`
	Arguments json.RawMessage       `json:"arguments"`
	Prompt    []modelclient.Message `json:"prompt,omitempty"`
}

// ToolResultEvent reports the outcome of a tool execution.
type ToolResultEvent struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// FileOperationEvent describes a sandbox file mutation. Path is relative
// to the sandbox root. Additions and Deletions are line counts for edits.
type FileOperationEvent struct {
	Op        FileOpKind `json:"op"`
	Path      string     `json:"path"`
	Success   bool       `json:"success"`
	Additions int        `json:"additions,omitempty"`
	Deletions int        `json:"deletions,omitempty"`
}

// TerminalCommandEvent reports a command run inside the sandbox.
type TerminalCommandEvent struct {
	Command string `json:"command"`
	Output  string `json:"output"`
	Success bool   `json:"success"`
}

// ErrorEvent is the terminal event for a failed turn.
type ErrorEvent struct {
	Message      string `json:"message"`
	NonRetryable bool   `json:"non_retryable"`
}

// ErrBridgeClosed is returned by Emit after a terminal event has been
// delivered.
var ErrBridgeClosed = errors.New("event bridge closed")

// Bridge connects a turn worker (producer) to exactly one consumer via a
// bounded queue. Unlike a fire-and-forget emitter, Emit blocks when the
// queue is full so a slow consumer throttles the producer instead of
// losing events. The bridge delivers exactly one terminal event (end or
// error) and then closes its channel.
type Bridge struct {
	sessionID string
	ch        chan StepEvent

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// DefaultEventBuffer is the queue capacity used when none is configured.
const DefaultEventBuffer = 64

// NewBridge creates a bridge for one turn of the given session.
func NewBridge(sessionID string, buffer int) *Bridge {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Bridge{sessionID: sessionID, ch: make(chan StepEvent, buffer)}
}

// Events returns the consumer side of the bridge. The channel is closed
// after the terminal event.
func (b *Bridge) Events() <-chan StepEvent {
	return b.ch
}

// Emit enqueues an event, blocking while the queue is full. It returns
// ctx.Err() if the context is cancelled while blocked and ErrBridgeClosed
// after a terminal event has been sent. Emitting an end or error event
// marks the bridge terminal and closes the channel.
func (b *Bridge) Emit(ctx context.Context, ev StepEvent) error {
	ev.ID = uuid.NewString()
	ev.SessionID = b.sessionID
	ev.Timestamp = time.Now()

	terminal := ev.Kind == EventEnd || ev.Kind == EventError

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBridgeClosed
	}
	if terminal {
		b.closed = true
	}
	b.mu.Unlock()

	select {
	case b.ch <- ev:
	case <-ctx.Done():
		if terminal {
			b.closeOnce.Do(func() { close(b.ch) })
		}
		return ctx.Err()
	}
	if terminal {
		b.closeOnce.Do(func() { close(b.ch) })
	}
	return nil
}

// Close shuts the bridge without a terminal event. It is used when the
// consumer has gone away before the turn finished.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.closeOnce.Do(func() { close(b.ch) })
}

// EmitRouting is a convenience wrapper for a routing event.
func (b *Bridge) EmitRouting(ctx context.Context, expert, rationale string) error {
	return b.Emit(ctx, StepEvent{Kind: EventRouting, Routing: &RoutingEvent{Expert: expert, Rationale: rationale}})
}

// EmitError sends the terminal error event.
func (b *Bridge) EmitError(ctx context.Context, message string, nonRetryable bool) error {
	return b.Emit(ctx, StepEvent{Kind: EventError, Error: &ErrorEvent{Message: message, NonRetryable: nonRetryable}})
}

// EmitEnd sends the terminal end event.
func (b *Bridge) EmitEnd(ctx context.Context) error {
	return b.Emit(ctx, StepEvent{Kind: EventEnd})
}
