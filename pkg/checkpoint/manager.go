package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/wordflowlab/agentdeck/pkg/convstore"
	"github.com/wordflowlab/agentdeck/pkg/logging"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

// Manager snapshots and restores an agent's full conversational state.
//
// Saving never mutates the live conversation; restoring never mutates the
// stored checkpoint. The "checkpoint restored" notice belongs to the target
// agent's live log only, so restoring the same checkpoint twice yields two
// distinct notices.
type Manager struct {
	store convstore.Store
}

// NewManager wires the manager onto a conversation store.
func NewManager(store convstore.Store) *Manager {
	return &Manager{store: store}
}

// SaveRequest carries the state to snapshot.
type SaveRequest struct {
	Name             string
	Description      string
	Messages         []types.ConversationMessage
	AgentDisplayName string
	AgentTitle       string
	SelectedModel    string
	Tags             []string
}

// Save writes a new checkpoint and returns its id. Write-or-nothing: on a
// storage error no partial checkpoint is left behind (the store writes
// atomically).
func (m *Manager) Save(ctx context.Context, req SaveRequest) (string, error) {
	if strings.TrimSpace(req.Name) == "" {
		return "", fmt.Errorf("checkpoint name is required")
	}
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("cannot checkpoint an empty conversation")
	}

	cp := types.Checkpoint{
		ID:               "ckpt_" + shortuuid.New(),
		Name:             req.Name,
		Description:      req.Description,
		Messages:         cloneMessages(req.Messages),
		AgentDisplayName: req.AgentDisplayName,
		AgentTitle:       req.AgentTitle,
		SelectedModel:    req.SelectedModel,
		Metadata: types.CheckpointMetadata{
			CreatedAt:     time.Now().UTC(),
			MessageCount:  len(req.Messages),
			LastSessionID: lastSessionID(req.Messages),
			Tags:          req.Tags,
		},
	}

	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}

	logging.Info(ctx, "checkpoint.saved", map[string]interface{}{
		"checkpoint_id": cp.ID,
		"name":          cp.Name,
		"message_count": cp.Metadata.MessageCount,
	})
	return cp.ID, nil
}

// Load fetches one checkpoint; convstore.ErrNotFound for unknown ids.
func (m *Manager) Load(ctx context.Context, id string) (*types.Checkpoint, error) {
	return m.store.LoadCheckpoint(ctx, id)
}

// Restore replaces the target agent's live log with the checkpoint's
// messages, then appends a system notice recording the restore. The live
// state is only touched after the checkpoint read succeeds, so a failed
// restore never corrupts the conversation.
func (m *Manager) Restore(ctx context.Context, key types.AgentKey, checkpointID string) (*types.Checkpoint, error) {
	cp, err := m.store.LoadCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	restored := cloneMessages(cp.Messages)
	if err := m.store.ReplaceMessages(ctx, key, restored); err != nil {
		return nil, fmt.Errorf("replace messages: %w", err)
	}

	notice := types.ConversationMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Role:      types.RoleSystem,
		Content:   fmt.Sprintf("Checkpoint %q restored (%d messages)", cp.Name, len(cp.Messages)),
		Metadata:  &types.MessageMetadata{RestoredFrom: cp.ID},
	}
	if err := m.store.AppendMessage(ctx, key, notice); err != nil {
		return nil, fmt.Errorf("append restore notice: %w", err)
	}

	logging.Info(ctx, "checkpoint.restored", map[string]interface{}{
		"checkpoint_id": cp.ID,
		"workspace_id":  key.WorkspaceID,
		"agent_id":      key.AgentID,
	})
	return cp, nil
}

// Search matches query case-insensitively against name, description and tags.
// Results are deterministic for identical inputs: newest first, id tiebreak
// (the store's list order).
func (m *Manager) Search(ctx context.Context, query string) ([]types.Checkpoint, error) {
	all, err := m.store.ListCheckpoints(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return all, nil
	}

	matched := make([]types.Checkpoint, 0, len(all))
	for _, cp := range all {
		if strings.Contains(strings.ToLower(cp.Name), q) ||
			strings.Contains(strings.ToLower(cp.Description), q) ||
			tagsMatch(cp.Metadata.Tags, q) {
			matched = append(matched, cp)
		}
	}
	return matched, nil
}

// Delete removes one checkpoint.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteCheckpoint(ctx, id)
}

func tagsMatch(tags []string, q string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// lastSessionID finds the newest CLI session id recorded in the log.
func lastSessionID(msgs []types.ConversationMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Metadata != nil && msgs[i].Metadata.SessionID != "" {
			return msgs[i].Metadata.SessionID
		}
	}
	return ""
}

// cloneMessages defends the checkpoint against later mutation of the live
// slice header; message contents are immutable once persisted.
func cloneMessages(msgs []types.ConversationMessage) []types.ConversationMessage {
	out := make([]types.ConversationMessage, len(msgs))
	copy(out, msgs)
	return out
}
