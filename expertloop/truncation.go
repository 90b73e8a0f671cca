package expertloop

import (
	"fmt"
	"strings"
)

// TruncationStrategy selects which part of oversized output survives.
type TruncationStrategy string

const (
	// TruncateHeadTail keeps both the beginning and the end.
	TruncateHeadTail TruncationStrategy = "head_tail"
	// TruncateTail keeps only the end.
	TruncateTail TruncationStrategy = "tail"
)

type truncationLimit struct {
	MaxChars  int
	MaxLines  int
	Strategy  TruncationStrategy
	LineWidth int
}

// toolTruncationLimits bounds what each tool can inject into history.
// Command output additionally has individual lines clipped so a single
// minified blob cannot blow the budget.
var toolTruncationLimits = map[string]truncationLimit{
	"read_file":                {MaxChars: 50000, Strategy: TruncateHeadTail},
	"write_file":               {MaxChars: 2000, Strategy: TruncateTail},
	"list_directory":           {MaxChars: 20000, Strategy: TruncateTail},
	"find_and_replace_in_file": {MaxChars: 10000, Strategy: TruncateTail},
	"execute_command":          {MaxChars: 30000, MaxLines: 400, Strategy: TruncateHeadTail, LineWidth: 256},
	"execute_safe_command":     {MaxChars: 10000, MaxLines: 200, Strategy: TruncateHeadTail, LineWidth: 256},
}

const defaultTruncationChars = 20000

// TruncateToolOutput applies the per-tool output budget.
func TruncateToolOutput(tool, output string) string {
	limit, ok := toolTruncationLimits[tool]
	if !ok {
		limit = truncationLimit{MaxChars: defaultTruncationChars, Strategy: TruncateHeadTail}
	}
	if limit.LineWidth > 0 || limit.MaxLines > 0 {
		output = TruncateLines(output, limit.MaxLines, limit.LineWidth)
	}
	return TruncateChars(output, limit.MaxChars, limit.Strategy)
}

// TruncateChars bounds output to maxChars using the given strategy,
// inserting an elision marker that names how much was removed.
func TruncateChars(output string, maxChars int, strategy TruncationStrategy) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars
	switch strategy {
	case TruncateTail:
		marker := fmt.Sprintf("[... %d characters truncated ...]\n", removed)
		return marker + output[len(output)-maxChars:]
	default:
		head := maxChars / 2
		tail := maxChars - head
		marker := fmt.Sprintf("\n[... %d characters truncated ...]\n", removed)
		return output[:head] + marker + output[len(output)-tail:]
	}
}

// TruncateLines clips output to maxLines (keeping head and tail halves)
// and clips each surviving line to lineWidth characters. Zero disables
// the corresponding clip.
func TruncateLines(output string, maxLines, lineWidth int) string {
	lines := strings.Split(output, "\n")
	if lineWidth > 0 {
		for i, line := range lines {
			if len(line) > lineWidth {
				lines[i] = line[:lineWidth] + " [... line clipped ...]"
			}
		}
	}
	if maxLines > 0 && len(lines) > maxLines {
		head := maxLines / 2
		tail := maxLines - head
		clipped := len(lines) - maxLines
		kept := make([]string, 0, maxLines+1)
		kept = append(kept, lines[:head]...)
		kept = append(kept, fmt.Sprintf("[... %d lines truncated ...]", clipped))
		kept = append(kept, lines[len(lines)-tail:]...)
		lines = kept
	}
	return strings.Join(lines, "\n")
}
