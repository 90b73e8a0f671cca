package expertloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/martinemde/conductor/modelclient"
)

// LoopState tracks where a turn is in its lifecycle. Terminal states are
// StateComplete, StateLoopDetected, StateIterationLimit, and
// StateProviderFailed.
type LoopState string

const (
	StateRouted         LoopState = "routed"
	StateAwaitingModel  LoopState = "awaiting_model"
	StateToolRequested  LoopState = "tool_requested"
	StateToolExecuting  LoopState = "tool_executing"
	StateComplete       LoopState = "complete"
	StateLoopDetected   LoopState = "loop_detected"
	StateIterationLimit LoopState = "iteration_limit"
	StateProviderFailed LoopState = "provider_failed"
)

// TurnOutcome summarizes a finished turn.
type TurnOutcome struct {
	State      LoopState
	FinalText  string
	ModelCalls int
	ToolCalls  int
	Usage      modelclient.Usage
}

// ExpertLoop runs one turn for one expert: call the model, execute the
// requested tool, append the results to history, repeat until the model
// answers in plain text or a limit trips. Every history mutation is an
// append; earlier turns are never rewritten.
type ExpertLoop struct {
	expert    ExpertDefinition
	completer modelclient.Completer
	model     string
	registry  *ToolRegistry
	workspace *Workspace
	guard     *LoopGuard
	bridge    *Bridge
	session   *Session
	retry     modelclient.RetryPolicy
	logger    *slog.Logger
}

// NewExpertLoop assembles a loop for a single turn.
func NewExpertLoop(expert ExpertDefinition, completer modelclient.Completer, model string, registry *ToolRegistry, workspace *Workspace, bridge *Bridge, session *Session, retry modelclient.RetryPolicy, logger *slog.Logger) *ExpertLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpertLoop{
		expert:    expert,
		completer: completer,
		model:     model,
		registry:  registry,
		workspace: workspace,
		guard:     NewLoopGuard(expert.LoopThreshold),
		bridge:    bridge,
		session:   session,
		retry:     retry,
		logger:    logger,
	}
}

// Run executes the loop until a terminal state. Provider failures are
// returned as errors; loop detection and the iteration limit end the
// turn with a best-effort summary instead of an error. The caller emits
// the terminal end event.
func (l *ExpertLoop) Run(ctx context.Context) (*TurnOutcome, error) {
	outcome := &TurnOutcome{State: StateRouted}
	toolDefs := l.registry.Definitions(l.expert.AllowedTools)
	correctiveIssued := false

	for {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		if outcome.ModelCalls >= l.expert.iterationLimit() {
			outcome.State = StateIterationLimit
			summary := l.limitSummary(outcome)
			l.session.Append(NewAssistantTurn(summary, nil))
			l.emitModelMessage(ctx, summary)
			outcome.FinalText = summary
			return outcome, nil
		}

		outcome.State = StateAwaitingModel
		messages := l.buildMessages()
		completion, err := modelclient.Retry(ctx, l.retry, func(ctx context.Context) (*modelclient.Completion, error) {
			return l.completer.Complete(ctx, modelclient.Request{
				Model:    l.model,
				Messages: messages,
				Tools:    toolDefs,
			})
		})
		if err != nil {
			outcome.State = StateProviderFailed
			return outcome, err
		}
		outcome.ModelCalls++
		outcome.Usage = outcome.Usage.Add(completion.Usage)

		if !completion.HasToolCalls() {
			outcome.State = StateComplete
			text := strings.TrimSpace(completion.Text)
			if text == "" {
				text = "Done."
			}
			l.session.Append(NewAssistantTurn(text, nil))
			l.emitModelMessage(ctx, text)
			outcome.FinalText = text
			return outcome, nil
		}

		// The model contract is one tool call per response; extras are
		// answered with a synthetic error result so history stays paired.
		call := completion.ToolCalls[0]
		outcome.State = StateToolRequested
		l.session.Append(NewAssistantTurn(completion.Text, completion.ToolCalls))
		l.emit(ctx, StepEvent{Kind: EventToolInvoked, ToolInvoked: &ToolInvokedEvent{
			Tool:      call.Name,
			Arguments: call.Arguments,
			Prompt:    messages,
		}})
		for _, extra := range completion.ToolCalls[1:] {
			msg := fmt.Sprintf("Error: only one tool call is allowed per response; %s was not executed.", extra.Name)
			l.session.Append(NewToolResultTurn(extra.ID, extra.Name, false, msg))
		}

		if !l.expert.Allows(call.Name) {
			msg := fmt.Sprintf("Error: tool %q is not available to the %s expert.", call.Name, l.expert.ID)
			l.recordToolFailure(ctx, call, msg)
			continue
		}

		signature := CallSignature(call.Name, call.Arguments)
		if !l.guard.Check(call.Name, signature) {
			if !correctiveIssued {
				correctiveIssued = true
				msg := fmt.Sprintf(
					"Error: this exact %s call has already been made %d times with identical arguments. Do not repeat it. Use the results you already have, try a different approach, or give your final answer.",
					call.Name, l.guard.Seen(signature))
				l.recordToolFailure(ctx, call, msg)
				continue
			}
			outcome.State = StateLoopDetected
			msg := fmt.Sprintf("Error: repeated %s call rejected again; stopping this turn.", call.Name)
			l.recordToolFailure(ctx, call, msg)
			summary := l.loopSummary(call.Name, outcome)
			l.session.Append(NewAssistantTurn(summary, nil))
			l.emitModelMessage(ctx, summary)
			outcome.FinalText = summary
			return outcome, nil
		}

		outcome.State = StateToolExecuting
		result := l.registry.Execute(ctx, call, l.workspace)
		outcome.ToolCalls++
		l.session.Append(NewToolResultTurn(result.CallID, result.Tool, result.Success, result.Output))
		l.emit(ctx, StepEvent{Kind: EventToolResult, ToolResult: &ToolResultEvent{
			Tool:    result.Tool,
			Success: result.Success,
			Output:  result.Output,
		}})
		if result.FileOp != nil {
			l.emit(ctx, StepEvent{Kind: EventFileOperation, FileOperation: result.FileOp})
		}
		if result.Command != nil {
			l.emit(ctx, StepEvent{Kind: EventTerminalCommand, TerminalCommand: result.Command})
		}
		if !result.Success {
			l.logger.Debug("tool failed", "session", l.session.ID(), "tool", result.Tool, "timed_out", result.TimedOut)
		}
	}
}

// buildMessages assembles the provider-ready prompt: expert instructions
// followed by the normalized session history.
func (l *ExpertLoop) buildMessages() []modelclient.Message {
	history := NormalizeHistory(ToMessages(l.session.History()))
	messages := make([]modelclient.Message, 0, len(history)+1)
	messages = append(messages, modelclient.SystemMessage(l.expert.Instructions))
	return append(messages, history...)
}

// recordToolFailure appends a synthetic failed tool result and mirrors
// it on the bridge.
func (l *ExpertLoop) recordToolFailure(ctx context.Context, call modelclient.ToolCall, msg string) {
	l.session.Append(NewToolResultTurn(call.ID, call.Name, false, msg))
	l.emit(ctx, StepEvent{Kind: EventToolResult, ToolResult: &ToolResultEvent{
		Tool:    call.Name,
		Success: false,
		Output:  msg,
	}})
}

func (l *ExpertLoop) emitModelMessage(ctx context.Context, content string) {
	l.emit(ctx, StepEvent{Kind: EventModelMessage, ModelMessage: &ModelMessageEvent{
		Expert:  l.expert.ID,
		Content: content,
	}})
}

func (l *ExpertLoop) emit(ctx context.Context, ev StepEvent) {
	if err := l.bridge.Emit(ctx, ev); err != nil {
		l.logger.Debug("event emit failed", "session", l.session.ID(), "kind", ev.Kind, "error", err)
	}
}

// loopSummary describes partial progress when a repeated call aborts the
// turn.
func (l *ExpertLoop) loopSummary(tool string, outcome *TurnOutcome) string {
	return fmt.Sprintf(
		"I stopped because I kept repeating the same %s call. Partial progress: %s. "+
			"The repeated call suggests I was stuck; please rephrase the request or narrow it down.",
		tool, l.progress(outcome))
}

// limitSummary describes partial progress when the iteration limit trips.
func (l *ExpertLoop) limitSummary(outcome *TurnOutcome) string {
	return fmt.Sprintf(
		"I reached the limit of %d model calls for a single turn before finishing. Partial progress: %s. "+
			"Please continue with a follow-up request.",
		l.expert.iterationLimit(), l.progress(outcome))
}

func (l *ExpertLoop) progress(outcome *TurnOutcome) string {
	calls := l.guard.Calls()
	if len(calls) == 0 {
		return "no tools were executed"
	}
	counts := make(map[string]int)
	var order []string
	for _, tool := range calls {
		if counts[tool] == 0 {
			order = append(order, tool)
		}
		counts[tool]++
	}
	parts := make([]string, 0, len(order))
	for _, tool := range order {
		parts = append(parts, fmt.Sprintf("%s x%d", tool, counts[tool]))
	}
	return fmt.Sprintf("%d tool call(s) executed (%s)", outcome.ToolCalls, strings.Join(parts, ", "))
}
