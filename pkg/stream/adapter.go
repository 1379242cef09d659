package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/wordflowlab/agentdeck/pkg/approval"
	"github.com/wordflowlab/agentdeck/pkg/convstore"
	"github.com/wordflowlab/agentdeck/pkg/events"
	"github.com/wordflowlab/agentdeck/pkg/logging"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

// Sink receives one frame of the chunked HTTP turn stream. A sink error means
// the client is gone; the adapter stops forwarding but still flushes state.
type Sink func(types.StreamFrame) error

// ControlSender carries approval decisions back to the CLI process.
type ControlSender interface {
	SendDecision(toolUseID string, approved bool) error
}

// ErrTurnFailed wraps a CLI-reported or process-level turn failure after the
// adapter has already persisted the explanatory system message.
var ErrTurnFailed = errors.New("turn failed")

// Adapter drives one turn: it consumes the parsed event stream and performs
// the two side effects per event (emit a frame to the sink, update the
// persisted conversation state), plus the approval gate and file-refresh
// side channels.
type Adapter struct {
	Key    types.AgentKey
	Model  string
	Store  convstore.Store
	Gate   *approval.Gate
	Policy *approval.Policy
	Bus    *events.Bus

	// Incremental persistence cadence; bounds crash loss to one interval.
	PersistChunks   int
	PersistInterval time.Duration
}

// Run executes the turn loop and returns the final assistant message. The
// caller owns process lifecycle and emits the terminal complete/error frame
// after reaping the process; Run only reads the parsed stream.
//
// Returned errors: nil on clean EOF, context.Canceled when the client aborted
// (partial content is persisted, per the cancellation contract), or
// ErrTurnFailed after a terminal error frame has been emitted and a
// system-role explanation appended to the log.
func (a *Adapter) Run(ctx context.Context, parser *Parser, control ControlSender, sink Sink) (*types.ConversationMessage, error) {
	msg := &types.ConversationMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Role:      types.RoleAssistant,
		Content:   "",
		Metadata:  &types.MessageMetadata{Model: a.Model},
	}

	// Reserve the message's position and id before any output arrives, so a
	// crash mid-turn still leaves an anchored (if empty) entry.
	if err := a.Store.AppendMessage(ctx, a.Key, *msg); err != nil {
		return nil, err
	}

	forwarding := true
	emit := func(frame types.StreamFrame) {
		if !forwarding {
			return
		}
		frame.MessageID = msg.ID
		if err := sink(frame); err != nil {
			// Client is gone. Keep consuming so the store still gets the
			// remainder of whatever the process flushes.
			forwarding = false
		}
	}

	emit(types.StreamFrame{Type: types.FrameStart})

	chunksSinceFlush := 0
	lastFlush := time.Now()
	persistChunks := a.PersistChunks
	if persistChunks <= 0 {
		persistChunks = 5
	}
	persistInterval := a.PersistInterval
	if persistInterval <= 0 {
		persistInterval = 2 * time.Second
	}

	flush := func() {
		// Flush failures are transient-I/O class: logged, not fatal to the
		// turn; the next interval retries.
		if err := a.Store.UpdateLastMessage(ctx, a.Key, *msg); err != nil {
			logging.Warn(ctx, "stream.flush_failed", map[string]interface{}{
				"agent": a.Key.String(),
				"error": err.Error(),
			})
		}
		chunksSinceFlush = 0
		lastFlush = time.Now()
	}

	finalize := func(interrupted bool) {
		if interrupted {
			msg.Metadata.Interrupted = true
		}
		// Final persist uses a background context: an aborted request must
		// still flush partial content.
		if err := a.Store.UpdateLastMessage(context.Background(), a.Key, *msg); err != nil {
			logging.Error(ctx, "stream.finalize_failed", map[string]interface{}{
				"agent": a.Key.String(),
				"error": err.Error(),
			})
		}
		a.Gate.Clear()
	}

	for {
		ev, err := parser.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// User abort: stop forwarding immediately, keep the partial
				// content, report the expected cancellation.
				finalize(true)
				return msg, context.Canceled
			}
			if err == io.EOF {
				finalize(false)
				return msg, nil
			}
			// Transient read failure: treat the stream as ended.
			logging.Warn(ctx, "stream.read_ended", map[string]interface{}{
				"agent": a.Key.String(),
				"error": err.Error(),
			})
			finalize(false)
			return msg, nil
		}

		if ctx.Err() != nil {
			finalize(true)
			return msg, context.Canceled
		}

		switch ev.Type {
		case types.EventInit:
			if ev.Meta.Model != "" {
				msg.Metadata.Model = ev.Meta.Model
			}
			if ev.Meta.SessionID != "" {
				msg.Metadata.SessionID = ev.Meta.SessionID
			}
			emit(types.StreamFrame{Type: types.FrameMeta, Meta: ev.Meta})

		case types.EventText:
			msg.Content += ev.Text
			emit(types.StreamFrame{Type: types.FrameChunk, Content: ev.Text})
			chunksSinceFlush++
			if chunksSinceFlush >= persistChunks || time.Since(lastFlush) >= persistInterval {
				flush()
			}

		case types.EventThinking:
			msg.Metadata.Thinking = append(msg.Metadata.Thinking, ev.Text)
			emit(types.StreamFrame{Type: types.FrameThinking, Content: ev.Text})

		case types.EventNotice:
			logging.Info(ctx, "stream.backend_notice", map[string]interface{}{
				"agent":  a.Key.String(),
				"notice": ev.Text,
			})
			emit(types.StreamFrame{Type: types.FrameNotice, Content: ev.Text})

		case types.EventToolUse:
			msg.Metadata.ToolUses = append(msg.Metadata.ToolUses, *ev.ToolUse)
			emit(types.StreamFrame{Type: types.FrameToolUse, ToolUse: ev.ToolUse})
			if a.Policy.RequiresApproval(*ev.ToolUse) {
				if done := a.awaitApproval(ctx, msg, ev.ToolUse, control, emit); done {
					finalize(true)
					return msg, context.Canceled
				}
			}

		case types.EventToolResult:
			msg.Metadata.ToolResults = append(msg.Metadata.ToolResults, *ev.ToolResult)
			emit(types.StreamFrame{Type: types.FrameToolResult, ToolResult: ev.ToolResult})
			if name := a.toolNameFor(msg, ev.ToolResult.ToolUseID); name != "" && a.Policy.IsMutating(name) && !ev.ToolResult.IsError {
				a.Bus.PublishFileChange(events.FileChange{
					WorkspaceID: a.Key.WorkspaceID,
					ToolName:    name,
				})
			}
			flush()

		case types.EventUsage:
			msg.Metadata.Usage = ev.Usage
			emit(types.StreamFrame{Type: types.FrameUsage, Usage: ev.Usage})

		case types.EventResult:
			if msg.Metadata.Result == nil {
				msg.Metadata.Result = ev.Result
				emit(types.StreamFrame{Type: types.FrameResult, Result: ev.Result})
			}

		case types.EventError:
			finalize(false)
			a.appendErrorMessage(ctx, ev.Text)
			emit(types.StreamFrame{Type: types.FrameError, Error: ev.Text})
			return msg, ErrTurnFailed
		}
	}
}

// awaitApproval raises the gate, forwards the request to the client and
// blocks until a decision lands, the window expires, or the turn dies.
// Returns true when the turn was cancelled while waiting.
func (a *Adapter) awaitApproval(ctx context.Context, msg *types.ConversationMessage, use *types.ToolUse, control ControlSender, emit func(types.StreamFrame)) bool {
	pending := types.PendingApproval{
		ToolUseID:        use.ID,
		ToolName:         use.Name,
		OperationSummary: summarizeToolUse(use),
		MessageID:        msg.ID,
		RequestedAt:      time.Now().UTC(),
	}

	decisionCh := a.Gate.Request(ctx, pending)
	if p := a.Gate.Pending(); p != nil && p.ToolUseID == use.ID {
		// Only surface the request if it actually became the outstanding
		// one; a depth-1 collision is denied without a second Pending.
		emit(types.StreamFrame{Type: types.FrameApproval, Approval: &pending})
	}

	select {
	case decision, ok := <-decisionCh:
		if !ok {
			// Force-cleared by stream termination; no decision to send.
			return false
		}
		if err := control.SendDecision(decision.ToolUseID, decision.Approved); err != nil {
			logging.Warn(ctx, "approval.decision_send_failed", map[string]interface{}{
				"tool_use_id": decision.ToolUseID,
				"error":       err.Error(),
			})
		}
		return false
	case <-ctx.Done():
		a.Gate.Clear()
		return true
	}
}

func (a *Adapter) toolNameFor(msg *types.ConversationMessage, toolUseID string) string {
	for _, use := range msg.Metadata.ToolUses {
		if use.ID == toolUseID {
			return use.Name
		}
	}
	return ""
}

// appendErrorMessage records why the turn ended abnormally, so the transcript
// always explains the failure.
func (a *Adapter) appendErrorMessage(ctx context.Context, errText string) {
	sys := types.ConversationMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Role:      types.RoleSystem,
		Content:   "Turn failed: " + errText,
	}
	if err := a.Store.AppendMessage(context.Background(), a.Key, sys); err != nil {
		logging.Error(ctx, "stream.error_message_persist_failed", map[string]interface{}{
			"agent": a.Key.String(),
			"error": err.Error(),
		})
	}
}

func summarizeToolUse(use *types.ToolUse) string {
	if path, ok := use.Input["file_path"].(string); ok && path != "" {
		return use.Name + " " + path
	}
	if cmd, ok := use.Input["command"].(string); ok && cmd != "" {
		if len(cmd) > 80 {
			cmd = cmd[:80] + "..."
		}
		return use.Name + ": " + cmd
	}
	return use.Name
}
