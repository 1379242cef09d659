package types

// FrameType tags one frame of the chunked HTTP turn stream.
//
// The wire protocol is newline-delimited JSON. Every event class is a
// first-class frame so content and metadata are never string-matched out of a
// prose stream.
type FrameType string

const (
	// FrameStart opens a turn. Carries no content.
	FrameStart FrameType = "start"

	// FrameChunk carries a plain-text content delta.
	FrameChunk FrameType = "chunk"

	// FrameThinking carries a reasoning-trace fragment.
	FrameThinking FrameType = "thinking"

	// FrameToolUse announces a tool invocation.
	FrameToolUse FrameType = "tool_use"

	// FrameToolResult reports a tool outcome.
	FrameToolResult FrameType = "tool_result"

	// FrameApproval asks the client to approve a dangerous tool invocation.
	FrameApproval FrameType = "approval_request"

	// FrameMeta carries out-of-band session metadata (model, session id).
	FrameMeta FrameType = "meta"

	// FrameUsage carries token accounting.
	FrameUsage FrameType = "usage"

	// FrameResult carries the turn-level summary.
	FrameResult FrameType = "result"

	// FrameNotice carries an informational back-end notice, e.g. the gemini
	// CLI's mid-stream "switching model" message. Never an error.
	FrameNotice FrameType = "notice"

	// FrameComplete closes a turn normally.
	FrameComplete FrameType = "complete"

	// FrameError closes a turn abnormally.
	FrameError FrameType = "error"
)

// StreamFrame is one newline-delimited JSON frame on the turn stream.
type StreamFrame struct {
	Type FrameType `json:"type"`

	// MessageID anchors the frame to the assistant message being built.
	MessageID string `json:"message_id,omitempty"`

	// Content is the text delta for chunk/thinking/notice frames.
	Content string `json:"content,omitempty"`

	ToolUse    *ToolUse    `json:"tool_use,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	Approval *PendingApproval `json:"approval,omitempty"`

	Meta   *StreamMeta `json:"meta,omitempty"`
	Usage  *TokenUsage `json:"usage,omitempty"`
	Result *TurnResult `json:"result,omitempty"`

	Error string `json:"error,omitempty"`
}

// StreamMeta is the out-of-band metadata a back-end emits at turn start.
type StreamMeta struct {
	Model     string   `json:"model,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Tools     []string `json:"tools,omitempty"`
	Workdir   string   `json:"workdir,omitempty"`
}

// EventType classifies one normalized back-end event, after the per-backend
// decoder has flattened the CLI's raw JSON line.
type EventType string

const (
	EventInit       EventType = "init"
	EventText       EventType = "text"
	EventThinking   EventType = "thinking"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventUsage      EventType = "usage"
	EventResult     EventType = "result"
	EventNotice     EventType = "notice"
	EventError      EventType = "error"
)

// AgentEvent is one normalized event from an agent CLI's stdout stream.
type AgentEvent struct {
	Type EventType

	// Text is the delta for text/thinking/notice events, or the error
	// description for error events.
	Text string

	Meta       *StreamMeta
	ToolUse    *ToolUse
	ToolResult *ToolResult
	Usage      *TokenUsage
	Result     *TurnResult
}
