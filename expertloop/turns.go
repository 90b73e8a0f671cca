package expertloop

import (
	"time"

	"github.com/martinemde/conductor/modelclient"
)

// TurnRole identifies who produced a turn in the session history.
type TurnRole string

const (
	TurnUser       TurnRole = "user"
	TurnAssistant  TurnRole = "assistant"
	TurnToolResult TurnRole = "tool_result"
)

// Turn is one entry in a session's append-only history. Exactly one of
// the role-specific fields is meaningful for each role: user turns carry
// Content, assistant turns carry Content and optionally ToolCalls, and
// tool-result turns carry Result.
type Turn struct {
	Role      TurnRole              `json:"role"`
	Content   string                `json:"content,omitempty"`
	ToolCalls []modelclient.ToolCall `json:"tool_calls,omitempty"`
	Result    *ToolResultPayload    `json:"result,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// ToolResultPayload records the outcome of a tool execution as stored in
// history. Output holds either the tool's payload or a structured error
// description when Success is false.
type ToolResultPayload struct {
	CallID  string `json:"call_id"`
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// NewUserTurn creates a user turn.
func NewUserTurn(content string) Turn {
	return Turn{Role: TurnUser, Content: content, CreatedAt: time.Now()}
}

// NewAssistantTurn creates an assistant turn. toolCalls may be nil for a
// plain text reply.
func NewAssistantTurn(content string, toolCalls []modelclient.ToolCall) Turn {
	return Turn{Role: TurnAssistant, Content: content, ToolCalls: toolCalls, CreatedAt: time.Now()}
}

// NewToolResultTurn creates a tool-result turn from an executed tool call.
func NewToolResultTurn(callID, tool string, success bool, output string) Turn {
	return Turn{
		Role:      TurnToolResult,
		Result:    &ToolResultPayload{CallID: callID, Tool: tool, Success: success, Output: output},
		CreatedAt: time.Now(),
	}
}

// ToMessages converts session history into the model collaborator's wire
// shape. The caller is expected to pass the result through
// NormalizeHistory before sending it to a provider.
func ToMessages(history []Turn) []modelclient.Message {
	messages := make([]modelclient.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case TurnUser:
			messages = append(messages, modelclient.UserMessage(turn.Content))
		case TurnAssistant:
			messages = append(messages, modelclient.AssistantMessage(turn.Content, turn.ToolCalls))
		case TurnToolResult:
			if turn.Result != nil {
				messages = append(messages, modelclient.ToolResultMessage(turn.Result.CallID, turn.Result.Output))
			}
		}
	}
	return messages
}
