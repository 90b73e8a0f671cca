package expertloop

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultIterationLimit bounds the number of model calls in one turn.
const DefaultIterationLimit = 15

// ExpertDefinition describes one specialized agent: its instructions,
// the tools it may call, and its per-turn limits.
type ExpertDefinition struct {
	ID             string
	Name           string
	Description    string
	Instructions   string
	AllowedTools   []string
	IterationLimit int
	LoopThreshold  int
}

func (d ExpertDefinition) iterationLimit() int {
	if d.IterationLimit > 0 {
		return d.IterationLimit
	}
	return DefaultIterationLimit
}

// Allows reports whether the expert may call the named tool.
func (d ExpertDefinition) Allows(tool string) bool {
	for _, t := range d.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// ExpertRegistry is the catalog of experts available for routing. It is
// populated at startup and read-only afterwards.
type ExpertRegistry struct {
	experts   map[string]ExpertDefinition
	order     []string
	defaultID string
}

// NewExpertRegistry builds a registry. defaultID must name one of the
// given experts; it is used when routing cannot pick confidently.
func NewExpertRegistry(defaultID string, defs ...ExpertDefinition) (*ExpertRegistry, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("at least one expert is required")
	}
	reg := &ExpertRegistry{experts: make(map[string]ExpertDefinition, len(defs)), defaultID: defaultID}
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("expert must have an id")
		}
		if _, dup := reg.experts[def.ID]; dup {
			return nil, fmt.Errorf("duplicate expert id %q", def.ID)
		}
		reg.experts[def.ID] = def
		reg.order = append(reg.order, def.ID)
	}
	if _, ok := reg.experts[defaultID]; !ok {
		return nil, fmt.Errorf("default expert %q is not registered", defaultID)
	}
	return reg, nil
}

// Get looks up an expert by id.
func (r *ExpertRegistry) Get(id string) (ExpertDefinition, bool) {
	def, ok := r.experts[id]
	return def, ok
}

// Default returns the fallback expert.
func (r *ExpertRegistry) Default() ExpertDefinition {
	return r.experts[r.defaultID]
}

// IDs returns registered expert ids in registration order.
func (r *ExpertRegistry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns the definitions in registration order.
func (r *ExpertRegistry) All() []ExpertDefinition {
	out := make([]ExpertDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.experts[id])
	}
	return out
}

// catalog renders the registry for the routing prompt.
func (r *ExpertRegistry) catalog() string {
	var b strings.Builder
	for _, id := range r.order {
		def := r.experts[id]
		fmt.Fprintf(&b, "- %s: %s\n", id, def.Description)
	}
	return b.String()
}

const sharedGuidance = `You work inside a sandboxed workspace. All file paths are relative to
the workspace root; you cannot touch anything outside it. Call at most
one tool at a time and wait for its result. Do not repeat a tool call
whose result you already have. When the task is done, reply with a
plain text answer and no tool call.`

// DefaultExperts returns the built-in expert set: a planner for
// analysis, a code generator for implementation, and a code reviewer
// for verification and fixes.
func DefaultExperts() *ExpertRegistry {
	planner := ExpertDefinition{
		ID:          "planner",
		Name:        "Planner",
		Description: "Analyzes the request and the workspace, then produces a concrete implementation plan. Read-only.",
		Instructions: strings.Join([]string{
			"You are a senior software architect. Inspect the workspace with your",
			"read-only tools, then produce a numbered, actionable plan: which files",
			"to create or change, in what order, and how to verify the result.",
			"Do not write code yourself.",
			"",
			sharedGuidance,
		}, "\n"),
		AllowedTools: []string{"read_file", "list_directory", "execute_safe_command"},
	}
	generator := ExpertDefinition{
		ID:          "code_generator",
		Name:        "Code Generator",
		Description: "Writes and modifies code to implement the requested change.",
		Instructions: strings.Join([]string{
			"You are an expert software engineer. Implement the requested change",
			"directly in the workspace. Read the relevant files before editing,",
			"prefer find_and_replace_in_file for small edits and write_file for new",
			"files, and run commands to check your work when a build or test exists.",
			"",
			sharedGuidance,
		}, "\n"),
		AllowedTools: []string{"read_file", "write_file", "find_and_replace_in_file", "list_directory", "execute_command"},
	}
	reviewer := ExpertDefinition{
		ID:          "code_reviewer",
		Name:        "Code Reviewer",
		Description: "Reviews existing code for defects and applies targeted fixes.",
		Instructions: strings.Join([]string{
			"You are a meticulous code reviewer. Read the code under review, run",
			"any available checks, and report concrete findings with file and line",
			"references. Apply small, targeted fixes with find_and_replace_in_file",
			"when a defect is unambiguous.",
			"",
			sharedGuidance,
		}, "\n"),
		AllowedTools: []string{"read_file", "list_directory", "find_and_replace_in_file", "execute_command"},
	}

	reg, err := NewExpertRegistry("code_generator", planner, generator, reviewer)
	if err != nil {
		panic(err)
	}
	return reg
}

// sortedTools returns a copy of an expert's tool list in sorted order,
// for stable display in the catalog endpoint.
func sortedTools(def ExpertDefinition) []string {
	tools := make([]string, len(def.AllowedTools))
	copy(tools, def.AllowedTools)
	sort.Strings(tools)
	return tools
}
