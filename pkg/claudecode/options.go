package claudecode

import "strings"

// SpawnOptions configures how to spawn a Claude Code process.
type SpawnOptions struct {
	// WorkDir is the working directory for the process.
	WorkDir string

	// Resume identifies a prior conversation to continue.
	Resume string

	// Model selects the model (sonnet, opus, haiku).
	Model string

	// PermissionMode is the permission level (plan, default, etc).
	PermissionMode string

	// AllowedTools restricts which tools the agent can use.
	AllowedTools []string

	// SystemPrompt is appended to Claude's system prompt.
	SystemPrompt string
}

// Args builds the command-line arguments. Permission prompts are routed
// over the stream-json control channel so the wrapper can answer them.
func (o *SpawnOptions) Args() []string {
	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--permission-prompt-tool", "stdio",
	}

	if o.Resume != "" {
		args = append(args, "--resume", o.Resume)
	}
	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	if o.PermissionMode != "" {
		args = append(args, "--permission-mode", o.PermissionMode)
	}
	if len(o.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(o.AllowedTools, ","))
	}
	if o.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", o.SystemPrompt)
	}

	return args
}

// CommandString returns the command that would run, for logging.
func (o *SpawnOptions) CommandString() string {
	args := o.Args()
	quoted := make([]string, len(args))
	for i, arg := range args {
		if strings.ContainsAny(arg, " \n") {
			if len(arg) > 100 {
				arg = arg[:97] + "..."
			}
			quoted[i] = `"` + arg + `"`
		} else {
			quoted[i] = arg
		}
	}
	return "claude " + strings.Join(quoted, " ")
}
