package types

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks a message typed by the human operator.
	RoleUser Role = "user"

	// RoleAssistant marks a message produced by the agent CLI.
	RoleAssistant Role = "assistant"

	// RoleSystem marks engine-generated notices (errors, restore/resume banners).
	RoleSystem Role = "system"
)

// ConversationMessage is one entry in an agent's append-only transcript.
//
// The message id is the stable anchor for in-place streaming updates: while a
// turn is in flight the most recently appended assistant message is the only
// one that may be mutated, and only its Content and Metadata grow. Once the
// turn completes the message is immutable.
type ConversationMessage struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// MessageMetadata is the structured bag attached to a message.
type MessageMetadata struct {
	// Model is the back-end model selection the message was produced with.
	Model string `json:"model,omitempty"`

	// SessionID is the opaque session identifier issued by the agent CLI.
	// Recorded so a later reconnect can resume the CLI-side context.
	SessionID string `json:"session_id,omitempty"`

	// Usage is the token accounting reported by the CLI, if any.
	Usage *TokenUsage `json:"usage,omitempty"`

	// ToolUses lists tool invocations announced during the turn, in order.
	ToolUses []ToolUse `json:"tool_uses,omitempty"`

	// ToolResults lists tool outcomes keyed by tool_use id, in order.
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// Thinking collects reasoning-trace fragments. Not rendered inline.
	Thinking []string `json:"thinking,omitempty"`

	// Result is the turn-level summary, recorded once per turn.
	Result *TurnResult `json:"result,omitempty"`

	// Resumed is set on the system notice appended after a successful
	// session-resume probe.
	Resumed bool `json:"resumed,omitempty"`

	// RestoredFrom carries the checkpoint id on the system notice appended
	// after a checkpoint restore.
	RestoredFrom string `json:"restored_from,omitempty"`

	// Interrupted marks an assistant message whose turn was aborted by the
	// user; Content holds whatever partial output had arrived.
	Interrupted bool `json:"interrupted,omitempty"`
}

// ToolUse records one CLI-announced tool invocation.
type ToolUse struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Input     map[string]interface{} `json:"input,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToolResult records the outcome of a tool invocation. At most one result
// exists per ToolUse.
type ToolResult struct {
	ToolUseID string    `json:"tool_use_id"`
	IsError   bool      `json:"is_error,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenUsage is the token accounting reported by the agent CLI.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`

	// CacheReadTokens counts prompt-cache hits.
	CacheReadTokens int `json:"cache_read_tokens,omitempty"`

	// CacheCreationTokens counts prompt-cache writes.
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
}

// TurnResult is the summary the CLI emits when a turn finishes.
type TurnResult struct {
	DurationMS int64   `json:"duration_ms"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	NumTurns   int     `json:"num_turns,omitempty"`
	IsError    bool    `json:"is_error,omitempty"`
}

// Checkpoint is an immutable snapshot of an agent's full conversational state.
type Checkpoint struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Messages    []ConversationMessage `json:"messages"`

	AgentDisplayName string `json:"agent_display_name,omitempty"`
	AgentTitle       string `json:"agent_title,omitempty"`
	SelectedModel    string `json:"selected_model"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// CheckpointMetadata is the bookkeeping attached to a checkpoint at save time.
type CheckpointMetadata struct {
	CreatedAt     time.Time `json:"created_at"`
	MessageCount  int       `json:"message_count"`
	LastSessionID string    `json:"last_session_id,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
}

// PendingApproval is the single outstanding approval request for an agent.
type PendingApproval struct {
	ToolUseID        string    `json:"tool_use_id"`
	ToolName         string    `json:"tool_name"`
	OperationSummary string    `json:"operation_summary,omitempty"`
	MessageID        string    `json:"message_id"`
	RequestedAt      time.Time `json:"requested_at"`
}

// AgentKey identifies one (workspace, agent) pair. Conversation logs,
// processes and approval gates are all partitioned by this key.
type AgentKey struct {
	WorkspaceID string `json:"workspace_id"`
	AgentID     string `json:"agent_id"`
}

func (k AgentKey) String() string {
	return k.WorkspaceID + "/" + k.AgentID
}

// AgentStatus is the runtime view of one deployed agent.
type AgentStatus struct {
	Key           AgentKey  `json:"key"`
	Model         string    `json:"model"`
	SessionID     string    `json:"session_id,omitempty"`
	IsProcessing  bool      `json:"is_processing"`
	HasApproval   bool      `json:"has_pending_approval"`
	DeployedAt    time.Time `json:"deployed_at"`
	LastTurnEnded time.Time `json:"last_turn_ended,omitempty"`
}
