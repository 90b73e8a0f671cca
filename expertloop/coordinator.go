package expertloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/martinemde/conductor/modelclient"
)

// RoutingDecision names the expert chosen for a turn.
type RoutingDecision struct {
	Expert    ExpertDefinition
	Rationale string
}

// Coordinator selects an expert for each incoming user message using a
// constrained single-shot model call. It never partially executes a
// turn; failures surface before the expert loop starts.
type Coordinator struct {
	completer modelclient.Completer
	model     string
	experts   *ExpertRegistry
	retry     modelclient.RetryPolicy
	logger    *slog.Logger
}

// NewCoordinator builds a coordinator over the given expert registry.
func NewCoordinator(completer modelclient.Completer, model string, experts *ExpertRegistry, retry modelclient.RetryPolicy, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{completer: completer, model: model, experts: experts, retry: retry, logger: logger}
}

const routingInstructions = `You are a routing coordinator for a team of software experts. Given a
user request and recent conversation context, reply with the id of the
single best-suited expert. Reply with the expert id only, nothing else.`

// Route picks the expert for a user message. Recent history gives the
// router context for follow-up requests. Provider failures are returned
// unchanged so the caller can surface them before any tool runs.
func (c *Coordinator) Route(ctx context.Context, userMessage string, history []Turn) (RoutingDecision, error) {
	var prompt strings.Builder
	prompt.WriteString("Experts:\n")
	prompt.WriteString(c.experts.catalog())
	if recent := recentContext(history, 6); recent != "" {
		prompt.WriteString("\nRecent conversation:\n")
		prompt.WriteString(recent)
	}
	prompt.WriteString("\nUser request:\n")
	prompt.WriteString(userMessage)

	temperature := 0.0
	completion, err := modelclient.Retry(ctx, c.retry, func(ctx context.Context) (*modelclient.Completion, error) {
		return c.completer.Complete(ctx, modelclient.Request{
			Model: c.model,
			Messages: []modelclient.Message{
				modelclient.SystemMessage(routingInstructions),
				modelclient.UserMessage(prompt.String()),
			},
			Temperature: &temperature,
		})
	})
	if err != nil {
		return RoutingDecision{}, fmt.Errorf("routing: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(completion.Text))
	answer = strings.Trim(answer, "`\"' .")
	if def, ok := c.experts.Get(answer); ok {
		return RoutingDecision{Expert: def, Rationale: fmt.Sprintf("router selected %s", def.ID)}, nil
	}

	// An unrecognized answer falls back to the default expert rather
	// than failing the turn.
	def := c.experts.Default()
	c.logger.Warn("router returned unknown expert, using default",
		"answer", completion.Text, "default", def.ID)
	return RoutingDecision{
		Expert:    def,
		Rationale: fmt.Sprintf("router answer %q not recognized, defaulting to %s", strings.TrimSpace(completion.Text), def.ID),
	}, nil
}

// recentContext renders the last few turns for the routing prompt.
func recentContext(history []Turn, max int) string {
	if len(history) == 0 {
		return ""
	}
	start := len(history) - max
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, turn := range history[start:] {
		switch turn.Role {
		case TurnUser:
			fmt.Fprintf(&b, "user: %s\n", clip(turn.Content, 300))
		case TurnAssistant:
			if turn.Content != "" {
				fmt.Fprintf(&b, "assistant: %s\n", clip(turn.Content, 300))
			}
		}
	}
	return b.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
