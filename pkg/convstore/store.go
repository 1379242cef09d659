package convstore

import (
	"context"

	"github.com/wordflowlab/agentdeck/pkg/types"
)

// Store persists per-agent conversation logs and checkpoints.
//
// A log is append-only in arrival order; the only in-place mutation allowed is
// UpdateLast on the streaming assistant message, and the only wholesale
// mutation is Replace (checkpoint restore). Concurrent Replace calls resolve
// last-writer-wins; the engine never issues them for the same agent from two
// streams.
type Store interface {
	// LoadMessages returns the full log for one agent, empty if none exists.
	LoadMessages(ctx context.Context, key types.AgentKey) ([]types.ConversationMessage, error)

	// AppendMessage appends one message to the log.
	AppendMessage(ctx context.Context, key types.AgentKey, msg types.ConversationMessage) error

	// UpdateLastMessage overwrites the most recent log entry. The entry's id
	// must match msg.ID; ErrNotFound otherwise.
	UpdateLastMessage(ctx context.Context, key types.AgentKey, msg types.ConversationMessage) error

	// ReplaceMessages atomically swaps the whole log (checkpoint restore).
	ReplaceMessages(ctx context.Context, key types.AgentKey, msgs []types.ConversationMessage) error

	// DeleteConversation removes an agent's log.
	DeleteConversation(ctx context.Context, key types.AgentKey) error

	// SaveCheckpoint durably writes one checkpoint, write-or-nothing.
	SaveCheckpoint(ctx context.Context, cp types.Checkpoint) error

	// LoadCheckpoint returns ErrNotFound for unknown ids.
	LoadCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error)

	// ListCheckpoints returns all checkpoints, newest first.
	ListCheckpoints(ctx context.Context) ([]types.Checkpoint, error)

	// DeleteCheckpoint removes one checkpoint.
	DeleteCheckpoint(ctx context.Context, id string) error

	// Close releases underlying resources.
	Close() error
}

var (
	// ErrNotFound marks a missing conversation, message or checkpoint.
	ErrNotFound = &StoreError{Code: "not_found", Message: "resource not found"}

	// ErrIDMismatch marks an UpdateLastMessage whose id does not match the
	// tail of the log.
	ErrIDMismatch = &StoreError{Code: "id_mismatch", Message: "message id does not match last log entry"}
)

// StoreError is a typed store failure; Code lets the HTTP layer map errors to
// distinguishable responses.
type StoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
