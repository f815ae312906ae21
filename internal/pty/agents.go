package pty

// Agent names one of the interactive programs a terminal session can run.
type Agent string

const (
	AgentClaude Agent = "claude"
	AgentCodex  Agent = "codex"
	AgentGemini Agent = "gemini"
	AgentShell  Agent = "shell"
)

// ResolveCommand returns the argv used to spawn a session's PTY process for
// the given agent, plus an optional preflight command (e.g. a vendor CLI's
// self-update) to run once before it. shell, when non-empty, overrides the
// default "bash" used for AgentShell.
func ResolveCommand(agent Agent, shell string) (command []string, preflight []string) {
	switch agent {
	case AgentClaude:
		return []string{"claude"}, []string{"claude", "update"}
	case AgentCodex:
		return []string{"codex"}, []string{"codex", "--update"}
	case AgentGemini:
		return []string{"gemini"}, nil
	case AgentShell:
		fallthrough
	default:
		if shell == "" {
			shell = "bash"
		}
		return []string{shell}, nil
	}
}
