package expertloop

import (
	"strings"

	"github.com/martinemde/conductor/modelclient"
)

// assistantPlaceholder stands in for empty assistant content. Some
// providers reject assistant messages with no text at all.
const assistantPlaceholder = "."

// NormalizeHistory returns a provider-ready copy of a message history.
// The input is never mutated. Two repairs are applied:
//
//   - assistant messages with blank content get a placeholder, and
//   - every tool call is paired with a tool result. Calls left dangling
//     by an interrupted turn receive a synthetic error result so strict
//     providers do not reject the transcript.
func NormalizeHistory(messages []modelclient.Message) []modelclient.Message {
	out := make([]modelclient.Message, 0, len(messages))
	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		if msg.Role == modelclient.RoleAssistant && strings.TrimSpace(msg.Content) == "" {
			msg.Content = assistantPlaceholder
		}
		out = append(out, msg)
		if msg.Role != modelclient.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}

		// Collect the tool results that immediately follow, then
		// synthesize results for any call left unanswered.
		answered := make(map[string]bool, len(msg.ToolCalls))
		j := i + 1
		for ; j < len(messages) && messages[j].Role == modelclient.RoleTool; j++ {
			answered[messages[j].ToolCallID] = true
			out = append(out, messages[j])
		}
		for _, call := range msg.ToolCalls {
			if !answered[call.ID] {
				out = append(out, modelclient.ToolResultMessage(call.ID, "Error: tool call was interrupted before a result was produced."))
			}
		}
		i = j - 1
	}
	return out
}
