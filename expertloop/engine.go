package expertloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/martinemde/conductor/modelclient"
)

// ErrEmptyMessage is returned for a blank user message.
var ErrEmptyMessage = errors.New("message must not be empty")

// EngineConfig carries the knobs an Engine needs at construction.
type EngineConfig struct {
	Model              string
	WorkspaceRoot      string
	EventBuffer        int
	CommandTimeout     time.Duration
	SafeCommandTimeout time.Duration
	Retry              modelclient.RetryPolicy
	Experts            *ExpertRegistry
	Logger             *slog.Logger
}

// Engine is the top-level entry point: it owns the session store, the
// expert registry, the tool registry, and the coordinator, and runs one
// streamed turn per Stream call.
type Engine struct {
	store       *SessionStore
	experts     *ExpertRegistry
	tools       *ToolRegistry
	coordinator *Coordinator
	completer   modelclient.Completer
	model       string
	eventBuffer int
	retry       modelclient.RetryPolicy
	logger      *slog.Logger
}

// NewEngine builds an engine. Zero-value config fields fall back to
// defaults; WorkspaceRoot is required.
func NewEngine(completer modelclient.Completer, cfg EngineConfig) (*Engine, error) {
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if cfg.WorkspaceRoot == "" {
		return nil, errors.New("workspace root is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	experts := cfg.Experts
	if experts == nil {
		experts = DefaultExperts()
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.BaseDelay == 0 {
		retry = modelclient.DefaultRetryPolicy()
	}
	commandTimeout := cfg.CommandTimeout
	if commandTimeout <= 0 {
		commandTimeout = DefaultCommandTimeout
	}
	safeTimeout := cfg.SafeCommandTimeout
	if safeTimeout <= 0 {
		safeTimeout = 30 * time.Second
	}

	tools := NewToolRegistry()
	RegisterCoreTools(tools, commandTimeout, safeTimeout)

	return &Engine{
		store:       NewSessionStore(cfg.WorkspaceRoot),
		experts:     experts,
		tools:       tools,
		coordinator: NewCoordinator(completer, cfg.Model, experts, retry, logger),
		completer:   completer,
		model:       cfg.Model,
		eventBuffer: cfg.EventBuffer,
		retry:       retry,
		logger:      logger,
	}, nil
}

// Sessions exposes the session store for maintenance tasks such as idle
// eviction.
func (e *Engine) Sessions() *SessionStore {
	return e.store
}

// Experts returns the expert registry for catalog display.
func (e *Engine) Experts() *ExpertRegistry {
	return e.experts
}

// Stream starts one turn: it routes the message, runs the expert loop in
// a background worker, and returns the session id plus the event channel.
// The channel always ends with exactly one terminal event (end or error)
// unless the context is cancelled first. A second Stream call for the
// same session while a turn is in flight fails with ErrTurnActive.
func (e *Engine) Stream(ctx context.Context, sessionID, message string) (string, <-chan StepEvent, error) {
	if strings.TrimSpace(message) == "" {
		return "", nil, ErrEmptyMessage
	}
	session, err := e.store.GetOrCreate(sessionID)
	if err != nil {
		return "", nil, err
	}
	release, ok := session.TryAcquireTurn()
	if !ok {
		return session.ID(), nil, fmt.Errorf("session %s: %w", session.ID(), ErrTurnActive)
	}

	bridge := NewBridge(session.ID(), e.eventBuffer)
	go e.runTurn(ctx, session, bridge, message, release)
	return session.ID(), bridge.Events(), nil
}

func (e *Engine) runTurn(ctx context.Context, session *Session, bridge *Bridge, message string, release func()) {
	defer release()
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("turn panicked", "session", session.ID(), "panic", rec)
			// The emit must not hold the turn latch indefinitely when
			// the consumer is gone and the queue is full.
			emitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := bridge.EmitError(emitCtx, fmt.Sprintf("internal error: %v", rec), true); err != nil {
				bridge.Close()
			}
		}
	}()

	history := session.History()
	session.Append(NewUserTurn(message))

	decision, err := e.coordinator.Route(ctx, message, history)
	if err != nil {
		e.failTurn(ctx, bridge, session, err)
		return
	}
	if err := bridge.EmitRouting(ctx, decision.Expert.ID, decision.Rationale); err != nil {
		bridge.Close()
		return
	}
	e.logger.Info("turn routed", "session", session.ID(), "expert", decision.Expert.ID)

	workspace := NewWorkspace(session.Sandbox())
	loop := NewExpertLoop(decision.Expert, e.completer, e.model, e.tools, workspace, bridge, session, e.retry, e.logger)
	outcome, err := loop.Run(ctx)
	if err != nil {
		e.failTurn(ctx, bridge, session, err)
		return
	}
	e.logger.Info("turn finished",
		"session", session.ID(),
		"expert", decision.Expert.ID,
		"state", outcome.State,
		"model_calls", outcome.ModelCalls,
		"tool_calls", outcome.ToolCalls)
	if err := bridge.EmitEnd(ctx); err != nil {
		bridge.Close()
	}
}

// failTurn emits the terminal error event. Cancellation means the
// consumer is gone, so the bridge is simply closed.
func (e *Engine) failTurn(ctx context.Context, bridge *Bridge, session *Session, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		e.logger.Info("turn cancelled", "session", session.ID())
		bridge.Close()
		return
	}
	e.logger.Error("turn failed", "session", session.ID(), "error", err)
	if emitErr := bridge.EmitError(ctx, err.Error(), !modelclient.IsRetryable(err)); emitErr != nil {
		bridge.Close()
	}
}

// ReadSessionFile returns the contents of a file inside a session's
// sandbox, for the file-view endpoint. The path goes through the same
// sandbox resolution as tool access.
func (e *Engine) ReadSessionFile(sessionID, path string) (string, error) {
	session, ok := e.store.Get(sessionID)
	if !ok {
		return "", fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return NewWorkspace(session.Sandbox()).ReadFile(path)
}

// ExpertSummary is the catalog row for one expert.
type ExpertSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tools       []string `json:"tools"`
}

// ExpertCatalog lists the registered experts for display.
func (e *Engine) ExpertCatalog() []ExpertSummary {
	defs := e.experts.All()
	out := make([]ExpertSummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, ExpertSummary{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Tools:       sortedTools(def),
		})
	}
	return out
}
