package expertloop

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultLoopThreshold is how many times an identical tool call may run
// before the guard denies it.
const DefaultLoopThreshold = 2

// CallSignature produces a canonical fingerprint of a tool call: the tool
// name plus its arguments re-marshaled with sorted keys, so semantically
// identical calls match regardless of key order or whitespace. Arguments
// that are not a JSON object fall back to their raw text.
func CallSignature(tool string, args json.RawMessage) string {
	var decoded map[string]any
	if len(args) > 0 && json.Unmarshal(args, &decoded) == nil {
		if canonical, err := json.Marshal(decoded); err == nil {
			return fmt.Sprintf("%s:%s", tool, canonical)
		}
	}
	return fmt.Sprintf("%s:%s", tool, string(args))
}

type callRecord struct {
	Tool      string
	Signature string
	At        time.Time
}

// LoopGuard detects repeated identical tool calls within a single turn.
// It is not safe for concurrent use; each turn owns its own guard.
type LoopGuard struct {
	threshold int
	counts    map[string]int
	history   []callRecord
}

// NewLoopGuard creates a guard that denies a signature once it has
// already been recorded threshold times. A non-positive threshold uses
// DefaultLoopThreshold.
func NewLoopGuard(threshold int) *LoopGuard {
	if threshold <= 0 {
		threshold = DefaultLoopThreshold
	}
	return &LoopGuard{threshold: threshold, counts: make(map[string]int)}
}

// Check decides whether a call with the given signature may proceed.
// Allowed calls are recorded; denied calls leave the counts untouched so
// repeated denials keep denying.
func (g *LoopGuard) Check(tool string, signature string) bool {
	if g.counts[signature] >= g.threshold {
		return false
	}
	g.counts[signature]++
	g.history = append(g.history, callRecord{Tool: tool, Signature: signature, At: time.Now()})
	return true
}

// Seen reports how many times a signature has been recorded.
func (g *LoopGuard) Seen(signature string) int {
	return g.counts[signature]
}

// Calls returns the tools recorded so far, in order. Used for partial
// progress summaries.
func (g *LoopGuard) Calls() []string {
	tools := make([]string, len(g.history))
	for i, rec := range g.history {
		tools[i] = rec.Tool
	}
	return tools
}

// Reset clears all recorded calls.
func (g *LoopGuard) Reset() {
	g.counts = make(map[string]int)
	g.history = nil
}
