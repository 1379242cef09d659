// Package client is the terminal-side controller for one deployed agent: it
// talks to the agentdeck HTTP API, keeps the local transcript mirror, and
// reassembles the turn frame stream back into conversation messages.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/wordflowlab/agentdeck/pkg/logging"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

// historyTimeout bounds the initial transcript fetch. A slow or unreachable
// server must not leave the terminal stuck in "loading": on expiry the
// controller marks itself loaded with an empty transcript and moves on.
const historyTimeout = 15 * time.Second

// Handlers are the UI callbacks a terminal wires in. All are optional.
type Handlers struct {
	// OnFrame observes every raw frame as it arrives.
	OnFrame func(types.StreamFrame)

	// OnApproval fires when the engine raises a pending tool approval.
	OnApproval func(types.PendingApproval)
}

// Controller owns the terminal state for one (workspace, agent) pair.
type Controller struct {
	baseURL string
	key     types.AgentKey
	http    *http.Client

	handlers Handlers

	mu         sync.Mutex
	messages   []types.ConversationMessage
	loaded     bool
	history    []string
	historyPos int
	pending    *types.PendingApproval
	processing bool
}

// New builds a controller against the given API base URL (e.g.
// "http://localhost:8080").
func New(baseURL string, key types.AgentKey, handlers Handlers) *Controller {
	return &Controller{
		baseURL:  strings.TrimRight(baseURL, "/"),
		key:      key,
		http:     &http.Client{},
		handlers: handlers,
	}
}

// envelope is the server's uniform response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *envelope) err() error {
	if e.Error != nil {
		return fmt.Errorf("%s: %s", e.Error.Code, e.Error.Message)
	}
	return errors.New("request failed")
}

// agentPath builds an agent-scoped API path.
func (c *Controller) agentPath(suffix string) string {
	return fmt.Sprintf("%s/api/v1/workspaces/%s/agents/%s%s",
		c.baseURL, url.PathEscape(c.key.WorkspaceID), url.PathEscape(c.key.AgentID), suffix)
}

func (c *Controller) doJSON(ctx context.Context, method, urlStr string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return env.err()
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

// LoadHistory fetches the persisted transcript. On timeout or failure the
// controller still marks itself loaded so the terminal becomes usable; the
// next successful fetch replaces the empty mirror.
func (c *Controller) LoadHistory(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	var data struct {
		Messages []types.ConversationMessage `json:"messages"`
	}
	err := c.doJSON(ctx, http.MethodGet, c.agentPath("/messages"), nil, &data)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = true
	if err != nil {
		logging.Warn(ctx, "client.history_unavailable", map[string]interface{}{
			"agent": c.key.String(),
			"error": err.Error(),
		})
		return nil
	}

	c.messages = data.Messages
	c.rebuildHistoryLocked()
	return nil
}

// Loaded reports whether the initial history fetch has settled.
func (c *Controller) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Messages snapshots the local transcript mirror.
func (c *Controller) Messages() []types.ConversationMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ConversationMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// PendingApproval returns the outstanding approval request seen on the
// stream, or nil.
func (c *Controller) PendingApproval() *types.PendingApproval {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	p := *c.pending
	return &p
}

// SendCommand runs one turn: the user message is echoed into the local mirror
// immediately, then the streaming POST reassembles the assistant message from
// frames as they arrive. Cancelling ctx aborts the turn; the partial
// assistant content stays in the mirror and no error is returned for the
// abort itself.
func (c *Controller) SendCommand(ctx context.Context, text, model string) (*types.ConversationMessage, error) {
	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return nil, errors.New("a turn is already in flight")
	}
	c.processing = true

	echo := types.ConversationMessage{
		Timestamp: time.Now().UTC(),
		Role:      types.RoleUser,
		Content:   text,
	}
	c.messages = append(c.messages, echo)
	c.pushHistoryLocked(text)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.processing = false
		c.pending = nil
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(map[string]string{"message": text, "model": model})
	if err != nil {
		return nil, fmt.Errorf("marshal turn request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.agentPath("/turn"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil // user abort, not an error
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var env envelope
		if derr := json.NewDecoder(resp.Body).Decode(&env); derr == nil && env.Error != nil {
			return nil, env.err()
		}
		return nil, fmt.Errorf("turn request failed: %s", resp.Status)
	}

	msg, err := c.consumeFrames(ctx, resp.Body)
	if err != nil && ctx.Err() != nil {
		return msg, nil
	}
	return msg, err
}

// consumeFrames reassembles the NDJSON frame stream into the assistant
// message, mirroring every update locally.
func (c *Controller) consumeFrames(ctx context.Context, body io.Reader) (*types.ConversationMessage, error) {
	asst := &types.ConversationMessage{
		Timestamp: time.Now().UTC(),
		Role:      types.RoleAssistant,
		Metadata:  &types.MessageMetadata{},
	}
	appended := false
	var turnErr error

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var frame types.StreamFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			logging.Warn(ctx, "client.frame_skipped", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		if c.handlers.OnFrame != nil {
			c.handlers.OnFrame(frame)
		}

		switch frame.Type {
		case types.FrameStart:
			asst.ID = frame.MessageID

		case types.FrameMeta:
			if frame.Meta != nil {
				if frame.Meta.Model != "" {
					asst.Metadata.Model = frame.Meta.Model
				}
				if frame.Meta.SessionID != "" {
					asst.Metadata.SessionID = frame.Meta.SessionID
				}
			}

		case types.FrameChunk:
			asst.Content += frame.Content

		case types.FrameThinking:
			asst.Metadata.Thinking = append(asst.Metadata.Thinking, frame.Content)

		case types.FrameToolUse:
			if frame.ToolUse != nil {
				asst.Metadata.ToolUses = append(asst.Metadata.ToolUses, *frame.ToolUse)
			}

		case types.FrameToolResult:
			if frame.ToolResult != nil {
				asst.Metadata.ToolResults = append(asst.Metadata.ToolResults, *frame.ToolResult)
			}

		case types.FrameApproval:
			if frame.Approval != nil {
				c.mu.Lock()
				p := *frame.Approval
				c.pending = &p
				c.mu.Unlock()
				if c.handlers.OnApproval != nil {
					c.handlers.OnApproval(*frame.Approval)
				}
			}

		case types.FrameUsage:
			asst.Metadata.Usage = frame.Usage

		case types.FrameResult:
			asst.Metadata.Result = frame.Result

		case types.FrameNotice:
			// Informational; surfaced via OnFrame only.

		case types.FrameComplete:
			c.mirror(asst, &appended)
			return asst, nil

		case types.FrameError:
			turnErr = fmt.Errorf("turn failed: %s", frame.Error)
		}

		c.mirror(asst, &appended)
	}

	if err := scanner.Err(); err != nil && turnErr == nil {
		turnErr = err
	}
	if turnErr != nil {
		return asst, turnErr
	}
	// Stream ended without a terminal frame: keep whatever arrived.
	return asst, nil
}

// mirror writes the in-progress assistant message into the local transcript.
func (c *Controller) mirror(asst *types.ConversationMessage, appended *bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !*appended {
		c.messages = append(c.messages, *asst)
		*appended = true
		return
	}
	if len(c.messages) > 0 {
		c.messages[len(c.messages)-1] = *asst
	}
}

// Interrupt asks the server to abort the in-flight turn.
func (c *Controller) Interrupt(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, c.agentPath("/interrupt"), nil, nil)
}

// AnswerApproval resolves the pending tool approval.
func (c *Controller) AnswerApproval(ctx context.Context, approved bool) error {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending == nil {
		return errors.New("no pending approval")
	}

	body := map[string]interface{}{
		"tool_use_id": pending.ToolUseID,
		"tool_name":   pending.ToolName,
		"message_id":  pending.MessageID,
		"approved":    approved,
	}
	if err := c.doJSON(ctx, http.MethodPost, c.agentPath("/approval"), body, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	return nil
}

// ResumeSession asks the engine to probe and adopt the most recent recorded
// CLI session. A false result is normal: the next turn starts fresh.
func (c *Controller) ResumeSession(ctx context.Context) (bool, error) {
	var data struct {
		Restored bool `json:"restored"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.agentPath("/session/restore"), nil, &data); err != nil {
		return false, err
	}
	return data.Restored, nil
}

// SaveCheckpoint snapshots the agent's current conversation server-side.
func (c *Controller) SaveCheckpoint(ctx context.Context, name, description string) (*types.Checkpoint, error) {
	body := map[string]string{
		"workspace_id": c.key.WorkspaceID,
		"agent_id":     c.key.AgentID,
		"name":         name,
		"description":  description,
	}
	var ckpt types.Checkpoint
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/v1/checkpoints", body, &ckpt); err != nil {
		return nil, err
	}
	return &ckpt, nil
}

// RestoreCheckpoint replaces the agent's conversation with a checkpoint and
// refreshes the local mirror.
func (c *Controller) RestoreCheckpoint(ctx context.Context, checkpointID string) error {
	urlStr := fmt.Sprintf("%s/api/v1/checkpoints/%s/restore?workspace=%s&agent=%s",
		c.baseURL, url.PathEscape(checkpointID),
		url.QueryEscape(c.key.WorkspaceID), url.QueryEscape(c.key.AgentID))
	if err := c.doJSON(ctx, http.MethodPost, urlStr, nil, nil); err != nil {
		return err
	}
	return c.LoadHistory(ctx)
}

// HistoryBack steps backwards through previously sent commands, newest first.
// Returns "" when the beginning is reached.
func (c *Controller) HistoryBack() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 || c.historyPos <= 0 {
		return ""
	}
	c.historyPos--
	return c.history[c.historyPos]
}

// HistoryForward steps forward again; "" means past the newest entry.
func (c *Controller) HistoryForward() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.historyPos >= len(c.history)-1 {
		c.historyPos = len(c.history)
		return ""
	}
	c.historyPos++
	return c.history[c.historyPos]
}

// rebuildHistoryLocked derives the command history from user messages.
func (c *Controller) rebuildHistoryLocked() {
	c.history = c.history[:0]
	for _, m := range c.messages {
		if m.Role == types.RoleUser && m.Content != "" {
			c.history = append(c.history, m.Content)
		}
	}
	c.historyPos = len(c.history)
}

func (c *Controller) pushHistoryLocked(text string) {
	if text == "" {
		return
	}
	if n := len(c.history); n > 0 && c.history[n-1] == text {
		c.historyPos = len(c.history)
		return
	}
	c.history = append(c.history, text)
	c.historyPos = len(c.history)
}
