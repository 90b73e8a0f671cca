package expertloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/conductor/modelclient"
)

// RegisterCoreTools installs the built-in tool set. Command timeouts are
// configured once at engine construction.
func RegisterCoreTools(r *ToolRegistry, commandTimeout, safeCommandTimeout time.Duration) {
	r.Register(readFileTool())
	r.Register(writeFileTool())
	r.Register(listDirectoryTool())
	r.Register(findAndReplaceTool())
	r.Register(executeCommandTool(commandTimeout))
	r.Register(executeSafeCommandTool(safeCommandTimeout))
}

func stringParam(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func objectSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func readFileTool() Tool {
	return Tool{
		Definition: modelclient.ToolDefinition{
			Name:        "read_file",
			Description: "Read the contents of a file inside the workspace.",
			Parameters: objectSchema([]string{"file_path"}, map[string]any{
				"file_path": stringParam("Path to the file, relative to the workspace root."),
			}),
		},
		Execute: func(ctx context.Context, raw json.RawMessage, ws *Workspace) ToolResult {
			args, err := parseArgs[struct {
				FilePath string `json:"file_path"`
			}](raw)
			if err != nil {
				return failure("read_file: %v", err)
			}
			content, err := ws.ReadFile(args.FilePath)
			if err != nil {
				return failure("read_file %s: %v", args.FilePath, err)
			}
			return ToolResult{Success: true, Output: content}
		},
	}
}

func writeFileTool() Tool {
	return Tool{
		Definition: modelclient.ToolDefinition{
			Name:        "write_file",
			Description: "Create or overwrite a file inside the workspace with the given content.",
			Parameters: objectSchema([]string{"file_path", "content"}, map[string]any{
				"file_path": stringParam("Path to the file, relative to the workspace root."),
				"content":   stringParam("Full content to write."),
			}),
		},
		Execute: func(ctx context.Context, raw json.RawMessage, ws *Workspace) ToolResult {
			args, err := parseArgs[struct {
				FilePath string `json:"file_path"`
				Content  string `json:"content"`
			}](raw)
			if err != nil {
				return failure("write_file: %v", err)
			}
			created, previous, err := ws.WriteFile(args.FilePath, args.Content)
			if err != nil {
				return failure("write_file %s: %v", args.FilePath, err)
			}
			abs, _ := ws.Sandbox().Resolve(args.FilePath)
			rel := ws.Sandbox().Rel(abs)
			op := &FileOperationEvent{Op: FileCreated, Path: rel, Success: true}
			if !created {
				op.Op = FileEditedFull
				op.Additions, op.Deletions = diffStats(previous, args.Content)
			}
			verb := "Created"
			if !created {
				verb = "Overwrote"
			}
			return ToolResult{
				Success: true,
				Output:  fmt.Sprintf("%s %s (%d bytes)", verb, rel, len(args.Content)),
				FileOp:  op,
			}
		},
	}
}

func listDirectoryTool() Tool {
	return Tool{
		Definition: modelclient.ToolDefinition{
			Name:        "list_directory",
			Description: "List the entries of a directory inside the workspace.",
			Parameters: objectSchema(nil, map[string]any{
				"dir_path": stringParam("Directory path relative to the workspace root. Defaults to the root."),
			}),
		},
		Execute: func(ctx context.Context, raw json.RawMessage, ws *Workspace) ToolResult {
			args := struct {
				DirPath string `json:"dir_path"`
			}{}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return failure("list_directory: invalid arguments: %v", err)
				}
			}
			entries, err := ws.ListDirectory(args.DirPath)
			if err != nil {
				return failure("list_directory %s: %v", args.DirPath, err)
			}
			if len(entries) == 0 {
				return ToolResult{Success: true, Output: "(empty directory)"}
			}
			var b strings.Builder
			for _, e := range entries {
				if e.IsDir {
					fmt.Fprintf(&b, "%s/\n", e.Name)
				} else {
					fmt.Fprintf(&b, "%s (%d bytes)\n", e.Name, e.Size)
				}
			}
			return ToolResult{Success: true, Output: strings.TrimRight(b.String(), "\n")}
		},
	}
}

func findAndReplaceTool() Tool {
	return Tool{
		Definition: modelclient.ToolDefinition{
			Name:        "find_and_replace_in_file",
			Description: "Replace an exact text fragment in a file. The fragment must appear exactly once unless replace_all is set.",
			Parameters: objectSchema([]string{"file_path", "find", "replace"}, map[string]any{
				"file_path":   stringParam("Path to the file, relative to the workspace root."),
				"find":        stringParam("Exact text to find."),
				"replace":     stringParam("Replacement text."),
				"replace_all": map[string]any{"type": "boolean", "description": "Replace every occurrence instead of requiring a unique match."},
			}),
		},
		Execute: func(ctx context.Context, raw json.RawMessage, ws *Workspace) ToolResult {
			args, err := parseArgs[struct {
				FilePath   string `json:"file_path"`
				Find       string `json:"find"`
				Replace    string `json:"replace"`
				ReplaceAll bool   `json:"replace_all"`
			}](raw)
			if err != nil {
				return failure("find_and_replace_in_file: %v", err)
			}
			if args.Find == "" {
				return failure("find_and_replace_in_file: find must not be empty")
			}
			content, err := ws.ReadFile(args.FilePath)
			if err != nil {
				return failure("find_and_replace_in_file %s: %v", args.FilePath, err)
			}
			count := strings.Count(content, args.Find)
			if count == 0 {
				return failure("find_and_replace_in_file %s: text not found", args.FilePath)
			}
			if count > 1 && !args.ReplaceAll {
				return failure("find_and_replace_in_file %s: text appears %d times; pass replace_all or a longer fragment", args.FilePath, count)
			}
			updated := strings.Replace(content, args.Find, args.Replace, -1)
			if !args.ReplaceAll {
				updated = strings.Replace(content, args.Find, args.Replace, 1)
			}
			if _, _, err := ws.WriteFile(args.FilePath, updated); err != nil {
				return failure("find_and_replace_in_file %s: %v", args.FilePath, err)
			}
			abs, _ := ws.Sandbox().Resolve(args.FilePath)
			rel := ws.Sandbox().Rel(abs)
			additions, deletions := diffStats(content, updated)
			replaced := 1
			if args.ReplaceAll {
				replaced = count
			}
			return ToolResult{
				Success: true,
				Output:  fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, rel),
				FileOp:  &FileOperationEvent{Op: FileEditedDiff, Path: rel, Success: true, Additions: additions, Deletions: deletions},
			}
		},
	}
}

func executeCommandTool(timeout time.Duration) Tool {
	return Tool{
		Definition: modelclient.ToolDefinition{
			Name:        "execute_command",
			Description: "Run a shell command inside the workspace. Use for builds, tests, and other mutating operations.",
			Parameters: objectSchema([]string{"command"}, map[string]any{
				"command":     stringParam("The shell command to run."),
				"working_dir": stringParam("Working directory relative to the workspace root. Defaults to the root."),
			}),
		},
		Execute: func(ctx context.Context, raw json.RawMessage, ws *Workspace) ToolResult {
			args, err := parseArgs[struct {
				Command    string `json:"command"`
				WorkingDir string `json:"working_dir"`
			}](raw)
			if err != nil {
				return failure("execute_command: %v", err)
			}
			return runCommand(ctx, ws, args.Command, args.WorkingDir, timeout)
		},
	}
}

func executeSafeCommandTool(timeout time.Duration) Tool {
	return Tool{
		Definition: modelclient.ToolDefinition{
			Name:        "execute_safe_command",
			Description: "Run a read-only inspection command (ls, grep, cat, git status, ...). Mutating commands are rejected.",
			Parameters: objectSchema([]string{"command"}, map[string]any{
				"command": stringParam("The inspection command to run."),
			}),
		},
		Execute: func(ctx context.Context, raw json.RawMessage, ws *Workspace) ToolResult {
			args, err := parseArgs[struct {
				Command string `json:"command"`
			}](raw)
			if err != nil {
				return failure("execute_safe_command: %v", err)
			}
			if err := ws.Sandbox().Authorize(args.Command); err != nil {
				return failure("execute_safe_command: %v", err)
			}
			return runCommand(ctx, ws, args.Command, "", timeout)
		},
	}
}

func runCommand(ctx context.Context, ws *Workspace, command, workingDir string, timeout time.Duration) ToolResult {
	res, err := ws.RunCommand(ctx, command, workingDir, timeout)
	if err != nil {
		return failure("command failed to start: %v", err)
	}
	output := res.Output
	if res.TimedOut {
		return ToolResult{
			Success:  false,
			TimedOut: true,
			Output:   fmt.Sprintf("command timed out after %s\n%s", timeout, output),
			Command:  &TerminalCommandEvent{Command: command, Output: output, Success: false},
		}
	}
	if output == "" {
		output = "(no output)"
	}
	body := output
	if res.ExitCode != 0 {
		body = fmt.Sprintf("exit code %d\n%s", res.ExitCode, output)
	}
	return ToolResult{
		Success: res.ExitCode == 0,
		Output:  body,
		Command: &TerminalCommandEvent{Command: command, Output: output, Success: res.ExitCode == 0},
	}
}
