package agentproc

import (
	"fmt"

	"github.com/wordflowlab/agentdeck/pkg/appconfig"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

// TurnSpec describes one turn invocation of an agent CLI.
type TurnSpec struct {
	// Prompt is the user message for this turn.
	Prompt string

	// SessionID, when set, asks the CLI to resume its own prior session
	// instead of starting fresh.
	SessionID string

	// Workdir is the workspace file root the process runs in.
	Workdir string

	// ContextPath points at the generated permissions/context document for
	// the workspace; empty if none exists.
	ContextPath string
}

// Backend adapts one agent CLI family. The process itself stays a black box:
// a backend only knows how to build argv for a turn or a resume probe and how
// to decode one line of the CLI's stdout into normalized events.
type Backend interface {
	// Name is the model selector clients use ("claude", "gemini").
	Name() string

	// TurnArgs builds the argv (after the binary) for one turn.
	TurnArgs(spec TurnSpec) []string

	// ProbeArgs builds the argv for a lightweight session-resume probe.
	// Exit status 0 means the session is still resumable.
	ProbeArgs(sessionID string) []string

	// DecodeLine parses one stdout line into zero or more events. A nil
	// slice with nil error means the line is valid but carries nothing the
	// engine cares about.
	DecodeLine(line []byte) ([]types.AgentEvent, error)
}

// NewBackend instantiates the backend for a configured model name.
func NewBackend(cfg appconfig.BackendConfig) (Backend, error) {
	switch cfg.Name {
	case "claude":
		return &claudeBackend{cfg: cfg}, nil
	case "gemini":
		return &geminiBackend{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Name)
	}
}
