package agentproc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/wordflowlab/agentdeck/pkg/appconfig"
	"github.com/wordflowlab/agentdeck/pkg/logging"
)

// Process is one spawned agent CLI invocation. Stdout carries the CLI's
// newline-delimited event stream; stdin is the control channel the engine
// writes approval decisions to, so the CLI blocks on an explicit
// acknowledgment instead of relying on UI-side timing.
type Process struct {
	backend Backend
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser

	stdinMu sync.Mutex

	waitOnce sync.Once
	waitErr  error
}

// interruptGrace is how long an interrupted process gets to exit before it is
// killed outright.
const interruptGrace = 3 * time.Second

// StartProcess spawns the back-end CLI for one turn.
func StartProcess(ctx context.Context, cfg appconfig.BackendConfig, backend Backend, spec TurnSpec) (*Process, error) {
	args := backend.TurnArgs(spec)

	cmd := exec.CommandContext(ctx, cfg.Command, args...)
	cmd.Dir = spec.Workdir
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}

	// Give the CLI a chance to exit cleanly on cancellation before the
	// CommandContext kill lands.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGINT)
	}
	cmd.WaitDelay = interruptGrace

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("spawn %s: %w", cfg.Command, err)
	}

	logging.Debug(ctx, "agentproc.spawned", map[string]interface{}{
		"backend": backend.Name(),
		"pid":     cmd.Process.Pid,
		"workdir": spec.Workdir,
		"resume":  spec.SessionID != "",
	})

	return &Process{
		backend: backend,
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

// Stdout exposes the CLI's raw event stream.
func (p *Process) Stdout() io.Reader { return p.stdout }

// controlFrame is one JSON line written to the CLI's stdin.
type controlFrame struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Approved  bool   `json:"approved"`
}

// SendDecision writes an approval decision to the process control channel.
func (p *Process) SendDecision(toolUseID string, approved bool) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()

	frame, err := json.Marshal(controlFrame{
		Type:      "tool_approval",
		ToolUseID: toolUseID,
		Approved:  approved,
	})
	if err != nil {
		return fmt.Errorf("marshal control frame: %w", err)
	}
	frame = append(frame, '\n')

	if _, err := p.stdin.Write(frame); err != nil {
		return fmt.Errorf("write control frame: %w", err)
	}
	return nil
}

// Interrupt signals the process to stop. Best effort: the process may flush
// buffered output before exiting; Wait (via the context cancel path) enforces
// the kill after the grace period.
func (p *Process) Interrupt() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGINT)
	}
}

// Wait reaps the process. Safe to call more than once.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.stdin.Close()
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// probeTimeout bounds the resume probe so a hung CLI cannot stall reconnects.
const probeTimeout = 10 * time.Second

// RunProbe checks whether the CLI still knows the given session. Exit status
// zero means resumable.
func RunProbe(ctx context.Context, cfg appconfig.BackendConfig, backend Backend, sessionID, workdir string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cfg.Command, backend.ProbeArgs(sessionID)...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("probe session %s: %w", sessionID, err)
	}
	return nil
}
