package convstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

func newTestStore(t *testing.T) *JSONStore {
	t.Helper()
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func msg(id, role, content string) types.ConversationMessage {
	return types.ConversationMessage{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Role:      types.Role(role),
		Content:   content,
	}
}

func TestJSONStore_AppendPreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := types.AgentKey{WorkspaceID: "ws1", AgentID: "a1"}

	require.NoError(t, store.AppendMessage(ctx, key, msg("m1", "user", "first")))
	require.NoError(t, store.AppendMessage(ctx, key, msg("m2", "assistant", "second")))
	require.NoError(t, store.AppendMessage(ctx, key, msg("m3", "user", "third")))

	messages, err := store.LoadMessages(ctx, key)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "m2", messages[1].ID)
	assert.Equal(t, "m3", messages[2].ID)
}

func TestJSONStore_LoadEmpty(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	messages, err := store.LoadMessages(ctx, types.AgentKey{WorkspaceID: "ws", AgentID: "missing"})
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestJSONStore_UpdateLastMessage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := types.AgentKey{WorkspaceID: "ws1", AgentID: "a1"}

	t.Run("updates the tail in place", func(t *testing.T) {
		require.NoError(t, store.AppendMessage(ctx, key, msg("m1", "user", "hi")))
		require.NoError(t, store.AppendMessage(ctx, key, msg("m2", "assistant", "")))

		updated := msg("m2", "assistant", "partial content")
		require.NoError(t, store.UpdateLastMessage(ctx, key, updated))

		messages, err := store.LoadMessages(ctx, key)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "partial content", messages[1].Content)
	})

	t.Run("rejects a non-tail id", func(t *testing.T) {
		err := store.UpdateLastMessage(ctx, key, msg("m1", "user", "rewrite"))
		assert.ErrorIs(t, err, ErrIDMismatch)
	})

	t.Run("rejects an empty log", func(t *testing.T) {
		empty := types.AgentKey{WorkspaceID: "ws1", AgentID: "nobody"}
		err := store.UpdateLastMessage(ctx, empty, msg("m1", "user", "x"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestJSONStore_ReplaceMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := types.AgentKey{WorkspaceID: "ws1", AgentID: "a1"}

	require.NoError(t, store.AppendMessage(ctx, key, msg("old1", "user", "old")))
	require.NoError(t, store.AppendMessage(ctx, key, msg("old2", "assistant", "old")))

	replacement := []types.ConversationMessage{msg("new1", "user", "restored")}
	require.NoError(t, store.ReplaceMessages(ctx, key, replacement))

	messages, err := store.LoadMessages(ctx, key)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "new1", messages[0].ID)
}

func TestJSONStore_DeleteConversation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := types.AgentKey{WorkspaceID: "ws1", AgentID: "a1"}

	require.NoError(t, store.AppendMessage(ctx, key, msg("m1", "user", "hi")))
	require.NoError(t, store.DeleteConversation(ctx, key))

	messages, err := store.LoadMessages(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, messages)

	// Deleting a missing conversation is a no-op.
	assert.NoError(t, store.DeleteConversation(ctx, key))
}

func TestJSONStore_Checkpoints(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	save := func(id string, createdAt time.Time) {
		require.NoError(t, store.SaveCheckpoint(ctx, types.Checkpoint{
			ID:       id,
			Name:     "cp " + id,
			Messages: []types.ConversationMessage{msg("m1", "user", "hi")},
			Metadata: types.CheckpointMetadata{CreatedAt: createdAt, MessageCount: 1},
		}))
	}

	save("ckpt_b", base)
	save("ckpt_a", base)
	save("ckpt_c", base.Add(time.Hour))

	t.Run("round trip", func(t *testing.T) {
		cp, err := store.LoadCheckpoint(ctx, "ckpt_a")
		require.NoError(t, err)
		assert.Equal(t, "cp ckpt_a", cp.Name)
		require.Len(t, cp.Messages, 1)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.LoadCheckpoint(ctx, "ckpt_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list is newest first with id tiebreak", func(t *testing.T) {
		list, err := store.ListCheckpoints(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "ckpt_c", list[0].ID)
		assert.Equal(t, "ckpt_a", list[1].ID)
		assert.Equal(t, "ckpt_b", list[2].ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteCheckpoint(ctx, "ckpt_b"))
		_, err := store.LoadCheckpoint(ctx, "ckpt_b")
		assert.ErrorIs(t, err, ErrNotFound)

		err = store.DeleteCheckpoint(ctx, "ckpt_b")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSanitizeForPath(t *testing.T) {
	assert.Equal(t, "ws_1", sanitizeForPath("ws:1"))
	assert.Equal(t, "a_b_c", sanitizeForPath("a/b\\c"))
	assert.Equal(t, "plain", sanitizeForPath("plain"))
}
