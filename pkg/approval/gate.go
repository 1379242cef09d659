package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/wordflowlab/agentdeck/pkg/logging"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

// Decision is the outcome of one approval request.
type Decision struct {
	ToolUseID string
	Approved  bool

	// TimedOut marks the auto-deny path; logged informationally, never an
	// error.
	TimedOut bool
}

// ErrNoPending is returned when a resolve call finds no outstanding request.
var ErrNoPending = errors.New("no pending approval")

// defaultDangerousTools is the built-in mutating/execution-capable set.
var defaultDangerousTools = []string{
	"Write", "Edit", "MultiEdit", "NotebookEdit", "Bash", "KillShell",
	"write_file", "replace", "run_shell_command",
}

// Policy classifies tool invocations.
type Policy struct {
	dangerous        map[string]bool
	preApprovedGlobs []string
}

// NewPolicy builds a policy from the configured dangerous set (empty means the
// built-in set) and pre-approved path globs.
func NewPolicy(dangerousTools, preApprovedPaths []string) *Policy {
	if len(dangerousTools) == 0 {
		dangerousTools = defaultDangerousTools
	}
	m := make(map[string]bool, len(dangerousTools))
	for _, t := range dangerousTools {
		m[t] = true
	}
	return &Policy{dangerous: m, preApprovedGlobs: preApprovedPaths}
}

// RequiresApproval reports whether a tool invocation must pass the gate.
// File-targeting calls whose path matches a pre-approved glob skip it.
func (p *Policy) RequiresApproval(use types.ToolUse) bool {
	if !p.dangerous[use.Name] {
		return false
	}
	if path := toolTargetPath(use); path != "" {
		for _, glob := range p.preApprovedGlobs {
			if ok, err := doublestar.Match(glob, path); err == nil && ok {
				return false
			}
		}
	}
	return true
}

// IsMutating reports whether a tool's results should trigger a file-refresh
// side-channel event. Shell execution counts: it may touch anything.
func (p *Policy) IsMutating(toolName string) bool {
	return p.dangerous[toolName]
}

// toolTargetPath extracts the file path argument the common file tools use.
func toolTargetPath(use types.ToolUse) string {
	for _, k := range []string{"file_path", "path", "notebook_path"} {
		if v, ok := use.Input[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Gate is the per-agent approval state machine: Idle -> Pending -> Idle.
//
// Exactly one request may be outstanding. A second dangerous tool-use arriving
// while Pending is denied immediately without disturbing the first (depth-1
// queue). Pending resolves by explicit decision, by the configured timeout
// (auto-deny), or by force-clear on stream termination.
type Gate struct {
	mu      sync.Mutex
	timeout time.Duration

	pending *types.PendingApproval
	timer   *time.Timer
	waiter  chan Decision
}

// NewGate creates a gate with the canonical auto-deny window.
func NewGate(timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Gate{timeout: timeout}
}

// Request raises a pending approval and returns a channel that yields exactly
// one Decision. If a request is already outstanding the new one is denied
// synchronously and the returned channel carries that denial.
func (g *Gate) Request(ctx context.Context, req types.PendingApproval) <-chan Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch := make(chan Decision, 1)

	if g.pending != nil {
		// Depth-1 queue: never lose the first request, never surface a
		// second Pending.
		logging.Warn(ctx, "approval.concurrent_denied", map[string]interface{}{
			"tool_name":   req.ToolName,
			"tool_use_id": req.ToolUseID,
			"pending_id":  g.pending.ToolUseID,
		})
		ch <- Decision{ToolUseID: req.ToolUseID, Approved: false}
		return ch
	}

	pending := req
	g.pending = &pending
	g.waiter = ch

	toolUseID := req.ToolUseID
	g.timer = time.AfterFunc(g.timeout, func() {
		g.expire(toolUseID)
	})

	logging.Info(ctx, "approval.requested", map[string]interface{}{
		"tool_name":   req.ToolName,
		"tool_use_id": req.ToolUseID,
		"message_id":  req.MessageID,
	})
	return ch
}

// Resolve applies an explicit approve/deny. ErrNoPending if nothing is
// outstanding or the id does not match.
func (g *Gate) Resolve(ctx context.Context, toolUseID string, approved bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil || (toolUseID != "" && g.pending.ToolUseID != toolUseID) {
		return ErrNoPending
	}

	id := g.pending.ToolUseID
	g.deliverLocked(Decision{ToolUseID: id, Approved: approved})

	logging.Info(ctx, "approval.resolved", map[string]interface{}{
		"tool_use_id": id,
		"approved":    approved,
	})
	return nil
}

// Clear force-clears a pending request without issuing a decision, for stream
// termination (error, abort, completion). The waiter channel is closed so the
// adapter does not hang.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil {
		return
	}
	g.stopTimerLocked()
	close(g.waiter)
	g.pending = nil
	g.waiter = nil
}

// Pending returns the outstanding request, or nil.
func (g *Gate) Pending() *types.PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil {
		return nil
	}
	p := *g.pending
	return &p
}

// expire is the timeout path: auto-deny exactly once.
func (g *Gate) expire(toolUseID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil || g.pending.ToolUseID != toolUseID {
		return
	}

	logging.Info(context.Background(), "approval.timeout_denied", map[string]interface{}{
		"tool_use_id": toolUseID,
	})
	g.deliverLocked(Decision{ToolUseID: toolUseID, Approved: false, TimedOut: true})
}

func (g *Gate) deliverLocked(d Decision) {
	g.stopTimerLocked()
	g.waiter <- d
	close(g.waiter)
	g.pending = nil
	g.waiter = nil
}

func (g *Gate) stopTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
