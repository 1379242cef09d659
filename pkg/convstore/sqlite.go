package convstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/wordflowlab/agentdeck/pkg/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps conversations and checkpoints in a single SQLite file.
// Messages are stored one row per log entry with a per-agent sequence number,
// so append-only ordering survives round trips; message bodies are JSON blobs
// to keep the metadata bag schema-free.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	workspace_id TEXT NOT NULL,
	agent_id     TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	message_id   TEXT NOT NULL,
	body         TEXT NOT NULL,
	PRIMARY KEY (workspace_id, agent_id, seq)
);
CREATE TABLE IF NOT EXISTS checkpoints (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	body       TEXT NOT NULL
);
`

// NewSQLiteStore opens (and if needed initializes) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	// The engine is single-writer per agent; a single connection avoids
	// SQLITE_BUSY churn under concurrent agents.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) LoadMessages(ctx context.Context, key types.AgentKey) ([]types.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM messages WHERE workspace_id = ? AND agent_id = ? ORDER BY seq`,
		key.WorkspaceID, key.AgentID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []types.ConversationMessage{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg types.ConversationMessage
		if err := json.Unmarshal([]byte(body), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, key types.AgentKey, msg types.ConversationMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (workspace_id, agent_id, seq, message_id, body)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE workspace_id = ? AND agent_id = ?), ?, ?)`,
		key.WorkspaceID, key.AgentID, key.WorkspaceID, key.AgentID, msg.ID, string(body))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateLastMessage(ctx context.Context, key types.AgentKey, msg types.ConversationMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	var seq int64
	var lastID string
	err = s.db.QueryRowContext(ctx,
		`SELECT seq, message_id FROM messages WHERE workspace_id = ? AND agent_id = ? ORDER BY seq DESC LIMIT 1`,
		key.WorkspaceID, key.AgentID).Scan(&seq, &lastID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query last message: %w", err)
	}
	if lastID != msg.ID {
		return ErrIDMismatch
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET body = ? WHERE workspace_id = ? AND agent_id = ? AND seq = ?`,
		string(body), key.WorkspaceID, key.AgentID, seq)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReplaceMessages(ctx context.Context, key types.AgentKey, msgs []types.ConversationMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE workspace_id = ? AND agent_id = ?`,
		key.WorkspaceID, key.AgentID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	for i, msg := range msgs {
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (workspace_id, agent_id, seq, message_id, body) VALUES (?, ?, ?, ?, ?)`,
			key.WorkspaceID, key.AgentID, i+1, msg.ID, string(body)); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, key types.AgentKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE workspace_id = ? AND agent_id = ?`,
		key.WorkspaceID, key.AgentID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp types.Checkpoint) error {
	body, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (id, name, created_at, body) VALUES (?, ?, ?, ?)`,
		cp.ID, cp.Name, cp.Metadata.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"), string(body))
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, id string) (*types.Checkpoint, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM checkpoints WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}

	var cp types.Checkpoint
	if err := json.Unmarshal([]byte(body), &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]types.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM checkpoints ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []types.Checkpoint{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		var cp types.Checkpoint
		if err := json.Unmarshal([]byte(body), &cp); err != nil {
			continue // skip corrupt rows
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return checkpoints, nil
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
