package agentproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wordflowlab/agentdeck/pkg/appconfig"
	"github.com/wordflowlab/agentdeck/pkg/approval"
	"github.com/wordflowlab/agentdeck/pkg/convstore"
	"github.com/wordflowlab/agentdeck/pkg/events"
	"github.com/wordflowlab/agentdeck/pkg/logging"
	"github.com/wordflowlab/agentdeck/pkg/stream"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

var (
	// ErrCapacity rejects deployment beyond the per-workspace agent cap.
	// Distinguishable from transient failures so the client can prompt
	// "close an agent first".
	ErrCapacity = errors.New("workspace agent capacity reached")

	// ErrBusy rejects a turn while another is in flight for the agent.
	ErrBusy = errors.New("a turn is already in flight for this agent")

	// ErrNotDeployed marks operations against an agent that was never
	// deployed or has been closed.
	ErrNotDeployed = errors.New("agent is not deployed")

	// ErrUnknownModel marks a model selector with no configured backend.
	ErrUnknownModel = errors.New("unknown model")
)

// Session is the runtime state of one deployed agent.
type Session struct {
	key        types.AgentKey
	deployedAt time.Time
	gate       *approval.Gate

	mu            sync.Mutex
	model         string
	sessionID     string
	processing    bool
	cancel        context.CancelFunc
	lastTurnEnded time.Time
}

// Gate exposes the session's approval gate.
func (s *Session) Gate() *approval.Gate { return s.gate }

// Status snapshots the session for API consumers.
func (s *Session) Status() types.AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.AgentStatus{
		Key:           s.key,
		Model:         s.model,
		SessionID:     s.sessionID,
		IsProcessing:  s.processing,
		HasApproval:   s.gate.Pending() != nil,
		DeployedAt:    s.deployedAt,
		LastTurnEnded: s.lastTurnEnded,
	}
}

// beginTurn claims the single in-flight turn slot.
func (s *Session) beginTurn(model string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return ErrBusy
	}
	s.processing = true
	s.cancel = cancel
	if model != "" {
		s.model = model
	}
	return nil
}

func (s *Session) endTurn(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
	s.cancel = nil
	s.lastTurnEnded = time.Now().UTC()
	if sessionID != "" {
		s.sessionID = sessionID
	}
}

func (s *Session) interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.processing || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Manager owns one session per deployed (workspace, agent) pair: it enforces
// the per-workspace capacity cap, guarantees at most one in-flight turn per
// agent, spawns the CLI process for each turn and runs the streaming adapter
// over its stdout.
type Manager struct {
	cfg    *appconfig.Config
	store  convstore.Store
	bus    *events.Bus
	policy *approval.Policy

	mu       sync.Mutex
	sessions map[types.AgentKey]*Session
	backends map[string]Backend
}

// NewManager wires the manager. Backends are instantiated up front from the
// configured model list.
func NewManager(cfg *appconfig.Config, store convstore.Store, bus *events.Bus) (*Manager, error) {
	backends := make(map[string]Backend, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		b, err := NewBackend(bc)
		if err != nil {
			return nil, err
		}
		backends[bc.Name] = b
	}

	return &Manager{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		policy:   approval.NewPolicy(cfg.Approval.DangerousTools, cfg.Approval.PreApprovedPaths),
		sessions: make(map[types.AgentKey]*Session),
		backends: backends,
	}, nil
}

// Policy exposes the dangerous-tool policy.
func (m *Manager) Policy() *approval.Policy { return m.policy }

// Deploy registers a new agent in a workspace. The capacity count is
// re-validated under the registry lock at write time, so a creation race
// resolves by last-write rejection.
func (m *Manager) Deploy(ctx context.Context, key types.AgentKey, model string) (*Session, error) {
	if _, ok := m.backends[model]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[key]; ok {
		return existing, nil
	}

	active := 0
	for k := range m.sessions {
		if k.WorkspaceID == key.WorkspaceID {
			active++
		}
	}
	if active >= m.cfg.MaxAgents() {
		return nil, fmt.Errorf("%w (max %d)", ErrCapacity, m.cfg.MaxAgents())
	}

	sess := &Session{
		key:        key,
		model:      model,
		deployedAt: time.Now().UTC(),
		gate:       approval.NewGate(m.cfg.Approval.Timeout()),
	}
	m.sessions[key] = sess

	logging.Info(ctx, "agent.deployed", map[string]interface{}{
		"workspace_id": key.WorkspaceID,
		"agent_id":     key.AgentID,
		"model":        model,
	})
	return sess, nil
}

// Session returns the live session for a key.
func (m *Manager) Session(key types.AgentKey) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key]
	if !ok {
		return nil, ErrNotDeployed
	}
	return sess, nil
}

// List snapshots all sessions in a workspace.
func (m *Manager) List(workspaceID string) []types.AgentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.AgentStatus, 0, len(m.sessions))
	for k, s := range m.sessions {
		if k.WorkspaceID == workspaceID {
			out = append(out, s.Status())
		}
	}
	return out
}

// Close terminates the agent's runtime state. The conversation log is
// retained; only the process and session go away.
func (m *Manager) Close(ctx context.Context, key types.AgentKey) error {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if !ok {
		return ErrNotDeployed
	}

	sess.interrupt()
	sess.gate.Clear()

	logging.Info(ctx, "agent.closed", map[string]interface{}{
		"workspace_id": key.WorkspaceID,
		"agent_id":     key.AgentID,
	})
	return nil
}

// workdir resolves the workspace file root.
func (m *Manager) workdir(workspaceID string) string {
	return filepath.Join(m.cfg.WorkspacesDir, workspaceID)
}

// contextPath resolves the workspace's permissions/context document, empty
// when absent.
func (m *Manager) contextPath(workspaceID string) string {
	if m.cfg.ContextFile == "" {
		return ""
	}
	path := filepath.Join(m.workdir(workspaceID), m.cfg.ContextFile)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// StartTurn runs one full turn synchronously, writing frames to sink. The
// user message is appended to the log before the process spawns; the
// assistant message is built incrementally by the adapter.
func (m *Manager) StartTurn(ctx context.Context, key types.AgentKey, model, message string, sink stream.Sink) error {
	sess, err := m.Session(key)
	if err != nil {
		return err
	}

	if model == "" {
		model = sess.Status().Model
	}
	backend, ok := m.backends[model]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	backendCfg, _ := m.cfg.Backend(model)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sess.beginTurn(model, cancel); err != nil {
		return err
	}

	userMsg := types.ConversationMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Role:      types.RoleUser,
		Content:   message,
	}
	if err := m.store.AppendMessage(turnCtx, key, userMsg); err != nil {
		sess.endTurn("")
		return err
	}

	spec := TurnSpec{
		Prompt:      message,
		SessionID:   sess.Status().SessionID,
		Workdir:     m.workdir(key.WorkspaceID),
		ContextPath: m.contextPath(key.WorkspaceID),
	}

	proc, err := StartProcess(turnCtx, backendCfg, backend, spec)
	if err != nil {
		sess.endTurn("")
		m.failTurn(ctx, key, sink, "", fmt.Sprintf("failed to start %s: %v", model, err))
		return nil
	}

	adapter := &stream.Adapter{
		Key:             key,
		Model:           model,
		Store:           m.store,
		Gate:            sess.gate,
		Policy:          m.policy,
		Bus:             m.bus,
		PersistChunks:   m.cfg.Stream.ChunkInterval(),
		PersistInterval: m.cfg.Stream.TimeInterval(),
	}

	parser := stream.NewParser(proc.Stdout(), backend)
	msg, runErr := adapter.Run(turnCtx, parser, proc, sink)
	waitErr := proc.Wait()

	newSessionID := ""
	if msg != nil && msg.Metadata != nil {
		newSessionID = msg.Metadata.SessionID
	}
	sess.endTurn(newSessionID)

	switch {
	case errors.Is(runErr, context.Canceled):
		// User abort: partial content is already flushed, nothing more is
		// owed to the client, and this is not an error.
		logging.Info(ctx, "turn.aborted", map[string]interface{}{
			"agent": key.String(),
		})
		return nil

	case errors.Is(runErr, stream.ErrTurnFailed):
		// Terminal error frame and system message already emitted.
		return nil

	case runErr != nil:
		// Append of the assistant placeholder failed; no message exists yet.
		m.failTurn(ctx, key, sink, "", runErr.Error())
		return nil

	case waitErr != nil && (msg.Metadata.Result == nil):
		// Process died before reporting a result: surface it, never
		// swallow it.
		m.failTurn(ctx, key, sink, msg.ID, fmt.Sprintf("agent process exited unexpectedly: %v", waitErr))
		return nil

	case msg.Content == "" && len(msg.Metadata.ToolUses) == 0 && parser.Skipped() > 0:
		// Nothing usable came out and lines were dropped: malformed
		// handshake.
		m.failTurn(ctx, key, sink, msg.ID, "agent process produced no parseable output")
		return nil
	}

	_ = sink(types.StreamFrame{Type: types.FrameComplete, MessageID: msg.ID})
	return nil
}

// failTurn emits the terminal error frame and persists the explanatory
// system-role message.
func (m *Manager) failTurn(ctx context.Context, key types.AgentKey, sink stream.Sink, messageID, errText string) {
	sys := types.ConversationMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Role:      types.RoleSystem,
		Content:   "Turn failed: " + errText,
	}
	if err := m.store.AppendMessage(context.Background(), key, sys); err != nil {
		logging.Error(ctx, "turn.error_persist_failed", map[string]interface{}{
			"agent": key.String(),
			"error": err.Error(),
		})
	}
	_ = sink(types.StreamFrame{Type: types.FrameError, MessageID: messageID, Error: errText})

	logging.Error(ctx, "turn.failed", map[string]interface{}{
		"agent": key.String(),
		"error": errText,
	})
}

// InterruptTurn requests best-effort cancellation of the in-flight turn.
// Interrupting an idle agent is a no-op.
func (m *Manager) InterruptTurn(key types.AgentKey) error {
	sess, err := m.Session(key)
	if err != nil {
		return err
	}
	sess.interrupt()
	return nil
}

// ResolveApproval applies the user's decision to the session's pending
// approval.
func (m *Manager) ResolveApproval(ctx context.Context, key types.AgentKey, toolUseID string, approved bool) error {
	sess, err := m.Session(key)
	if err != nil {
		return err
	}
	return sess.gate.Resolve(ctx, toolUseID, approved)
}

// ProbeSession checks whether a recorded CLI session id is still resumable.
func (m *Manager) ProbeSession(ctx context.Context, key types.AgentKey, sessionID, model string) error {
	backend, ok := m.backends[model]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	backendCfg, _ := m.cfg.Backend(model)
	return RunProbe(ctx, backendCfg, backend, sessionID, m.workdir(key.WorkspaceID))
}

// ResumeLatest scans the agent's log in reverse for the newest CLI session
// id and probes it. On success the session adopts the id and a system notice
// records the resume. Failure is silent for the user: the next turn simply
// starts a fresh CLI session.
func (m *Manager) ResumeLatest(ctx context.Context, key types.AgentKey) (bool, error) {
	sess, err := m.Session(key)
	if err != nil {
		return false, err
	}

	messages, err := m.store.LoadMessages(ctx, key)
	if err != nil {
		return false, err
	}

	sessionID := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Metadata != nil && messages[i].Metadata.SessionID != "" {
			sessionID = messages[i].Metadata.SessionID
			break
		}
	}
	if sessionID == "" {
		return false, nil
	}

	model := sess.Status().Model
	if err := m.ProbeSession(ctx, key, sessionID, model); err != nil {
		// Informational only, never a user-facing error.
		logging.Info(ctx, "session.resume_unavailable", map[string]interface{}{
			"agent":      key.String(),
			"session_id": truncateID(sessionID),
			"reason":     err.Error(),
		})
		return false, nil
	}

	sess.mu.Lock()
	sess.sessionID = sessionID
	sess.mu.Unlock()

	notice := types.ConversationMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Role:      types.RoleSystem,
		Content:   fmt.Sprintf("Resumed session %s", truncateID(sessionID)),
		Metadata:  &types.MessageMetadata{SessionID: sessionID, Resumed: true},
	}
	if err := m.store.AppendMessage(ctx, key, notice); err != nil {
		return true, fmt.Errorf("append resume notice: %w", err)
	}

	logging.Info(ctx, "session.resumed", map[string]interface{}{
		"agent":      key.String(),
		"session_id": truncateID(sessionID),
	})
	return true, nil
}

// truncateID shortens opaque session ids for display.
func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
