package convstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/wordflowlab/agentdeck/pkg/types"
)

// JSONStore is the default file-backed store: one directory per
// (workspace, agent) holding messages.json, plus a shared checkpoints
// directory. All writes go through a tmp-file rename so a crash never leaves
// a partially written log or checkpoint behind.
type JSONStore struct {
	baseDir string
	mu      sync.RWMutex
}

// sanitizeForPath rewrites path-hostile characters so ids can serve as
// directory names on every platform.
func sanitizeForPath(id string) string {
	replacer := strings.NewReplacer(
		":", "_",
		"/", "_",
		"\\", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(id)
}

// NewJSONStore creates the store rooted at baseDir.
func NewJSONStore(baseDir string) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "checkpoints"), 0755); err != nil {
		return nil, fmt.Errorf("create checkpoints directory: %w", err)
	}

	return &JSONStore{baseDir: baseDir}, nil
}

func (js *JSONStore) agentDir(key types.AgentKey) string {
	return filepath.Join(js.baseDir, "conversations",
		sanitizeForPath(key.WorkspaceID), sanitizeForPath(key.AgentID))
}

func (js *JSONStore) messagesPath(key types.AgentKey) string {
	return filepath.Join(js.agentDir(key), "messages.json")
}

func (js *JSONStore) checkpointPath(id string) string {
	return filepath.Join(js.baseDir, "checkpoints", sanitizeForPath(id)+".json")
}

// saveJSON writes data atomically: marshal, write tmp, rename.
func (js *JSONStore) saveJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".write-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(jsonData); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (js *JSONStore) loadJSON(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read file: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}
	return nil
}

func (js *JSONStore) LoadMessages(ctx context.Context, key types.AgentKey) ([]types.ConversationMessage, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	var messages []types.ConversationMessage
	if err := js.loadJSON(js.messagesPath(key), &messages); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []types.ConversationMessage{}
	}
	return messages, nil
}

func (js *JSONStore) AppendMessage(ctx context.Context, key types.AgentKey, msg types.ConversationMessage) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	var messages []types.ConversationMessage
	if err := js.loadJSON(js.messagesPath(key), &messages); err != nil {
		return err
	}
	messages = append(messages, msg)
	return js.saveJSON(js.messagesPath(key), messages)
}

func (js *JSONStore) UpdateLastMessage(ctx context.Context, key types.AgentKey, msg types.ConversationMessage) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	var messages []types.ConversationMessage
	if err := js.loadJSON(js.messagesPath(key), &messages); err != nil {
		return err
	}
	if len(messages) == 0 {
		return ErrNotFound
	}
	if messages[len(messages)-1].ID != msg.ID {
		return ErrIDMismatch
	}
	messages[len(messages)-1] = msg
	return js.saveJSON(js.messagesPath(key), messages)
}

func (js *JSONStore) ReplaceMessages(ctx context.Context, key types.AgentKey, msgs []types.ConversationMessage) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if msgs == nil {
		msgs = []types.ConversationMessage{}
	}
	return js.saveJSON(js.messagesPath(key), msgs)
}

func (js *JSONStore) DeleteConversation(ctx context.Context, key types.AgentKey) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if err := os.RemoveAll(js.agentDir(key)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remove agent directory: %w", err)
	}
	return nil
}

func (js *JSONStore) SaveCheckpoint(ctx context.Context, cp types.Checkpoint) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	return js.saveJSON(js.checkpointPath(cp.ID), cp)
}

func (js *JSONStore) LoadCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	data, err := os.ReadFile(js.checkpointPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp types.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

func (js *JSONStore) ListCheckpoints(ctx context.Context) ([]types.Checkpoint, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	dir := filepath.Join(js.baseDir, "checkpoints")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.Checkpoint{}, nil
		}
		return nil, fmt.Errorf("read checkpoints directory: %w", err)
	}

	checkpoints := make([]types.Checkpoint, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		var cp types.Checkpoint
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if err := json.Unmarshal(data, &cp); err != nil {
			continue // skip corrupt files
		}
		checkpoints = append(checkpoints, cp)
	}

	sortCheckpoints(checkpoints)
	return checkpoints, nil
}

func (js *JSONStore) DeleteCheckpoint(ctx context.Context, id string) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if err := os.Remove(js.checkpointPath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func (js *JSONStore) Close() error { return nil }

// sortCheckpoints orders newest first, id as the deterministic tiebreak.
func sortCheckpoints(cps []types.Checkpoint) {
	sort.Slice(cps, func(i, j int) bool {
		ti, tj := cps[i].Metadata.CreatedAt, cps[j].Metadata.CreatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return cps[i].ID < cps[j].ID
	})
}
