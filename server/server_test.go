package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wordflowlab/agentdeck/pkg/agentproc"
	"github.com/wordflowlab/agentdeck/pkg/appconfig"
	"github.com/wordflowlab/agentdeck/pkg/checkpoint"
	"github.com/wordflowlab/agentdeck/pkg/convstore"
	"github.com/wordflowlab/agentdeck/pkg/events"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

// apiEnvelope mirrors the uniform response wrapper for assertions.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestServer(t *testing.T, maxAgents int, mutate func(*Config)) (*Server, convstore.Store) {
	t.Helper()

	appCfg := appconfig.Default()
	appCfg.DataDir = t.TempDir()
	appCfg.WorkspacesDir = t.TempDir()
	appCfg.MaxAgentsPerWorkspace = maxAgents
	appCfg.Backends = []appconfig.BackendConfig{
		{Name: "claude", Command: "true"},
		{Name: "gemini", Command: "true"},
	}

	store, err := convstore.NewJSONStore(appCfg.DataDir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus()
	mgr, err := agentproc.NewManager(appCfg, store, bus)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Logging.Structured = false
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg, &Dependencies{
		Store:       store,
		Manager:     mgr,
		Checkpoints: checkpoint.NewManager(store),
		Bus:         bus,
	})
	require.NoError(t, err)
	return srv, store
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	var env apiEnvelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, 4, nil)

	w, _ := doRequest(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "status")
	assert.Contains(t, w.Body.String(), "version")
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, 4, nil)

	// Generate one request so counters exist, then scrape.
	doRequest(t, srv, http.MethodGet, "/health", nil)
	w, _ := doRequest(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agentdeck_http_requests_total")
}

func TestServer_DeployLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, 1, nil)

	t.Run("deploy", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodPost, "/api/v1/workspaces/ws1/agents",
			map[string]string{"agent_id": "a1", "model": "claude"})
		require.Equal(t, http.StatusCreated, w.Code)
		require.True(t, env.Success)

		var status types.AgentStatus
		require.NoError(t, json.Unmarshal(env.Data, &status))
		assert.Equal(t, "a1", status.Key.AgentID)
		assert.Equal(t, "claude", status.Model)
		assert.False(t, status.IsProcessing)
	})

	t.Run("capacity exceeded has a distinguishable code", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodPost, "/api/v1/workspaces/ws1/agents",
			map[string]string{"agent_id": "a2", "model": "claude"})
		assert.Equal(t, http.StatusConflict, w.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "capacity_exceeded", env.Error.Code)
	})

	t.Run("unknown model", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodPost, "/api/v1/workspaces/ws2/agents",
			map[string]string{"agent_id": "b1", "model": "gpt"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "unknown_model", env.Error.Code)
	})

	t.Run("list and status", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodGet, "/api/v1/workspaces/ws1/agents", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, string(env.Data), "a1")

		w, _ = doRequest(t, srv, http.MethodGet, "/api/v1/workspaces/ws1/agents/a1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("close frees capacity", func(t *testing.T) {
		w, _ := doRequest(t, srv, http.MethodDelete, "/api/v1/workspaces/ws1/agents/a1", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w, env := doRequest(t, srv, http.MethodGet, "/api/v1/workspaces/ws1/agents/a1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "agent_not_deployed", env.Error.Code)

		w, _ = doRequest(t, srv, http.MethodPost, "/api/v1/workspaces/ws1/agents",
			map[string]string{"agent_id": "a2", "model": "gemini"})
		assert.Equal(t, http.StatusCreated, w.Code)
	})
}

func TestServer_Messages(t *testing.T) {
	srv, _ := newTestServer(t, 4, nil)
	base := "/api/v1/workspaces/ws1/agents/a1/messages"

	t.Run("empty transcript is a list, not an error", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodGet, base, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, string(env.Data), `"messages":[]`)
	})

	var savedID string

	t.Run("append", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodPost, base, map[string]interface{}{
			"message": map[string]string{"role": "user", "content": "note to self"},
		})
		require.Equal(t, http.StatusOK, w.Code)

		var data struct {
			ID      string `json:"id"`
			Updated bool   `json:"updated"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.NotEmpty(t, data.ID)
		assert.False(t, data.Updated)
		savedID = data.ID
	})

	t.Run("saving the tail id updates in place", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodPost, base, map[string]interface{}{
			"message": map[string]string{"id": savedID, "role": "user", "content": "edited note"},
		})
		require.Equal(t, http.StatusOK, w.Code)

		var data struct {
			Updated bool `json:"updated"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.True(t, data.Updated)

		_, env = doRequest(t, srv, http.MethodGet, base, nil)
		var list struct {
			Messages []types.ConversationMessage `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &list))
		require.Len(t, list.Messages, 1)
		assert.Equal(t, "edited note", list.Messages[0].Content)
	})

	t.Run("a stale id falls back to append", func(t *testing.T) {
		w, _ := doRequest(t, srv, http.MethodPost, base, map[string]interface{}{
			"message": map[string]string{"id": "not-the-tail", "role": "assistant", "content": "imported"},
		})
		require.Equal(t, http.StatusOK, w.Code)

		_, env := doRequest(t, srv, http.MethodGet, base, nil)
		var list struct {
			Messages []types.ConversationMessage `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &list))
		assert.Len(t, list.Messages, 2)
	})

	t.Run("delete", func(t *testing.T) {
		w, _ := doRequest(t, srv, http.MethodDelete, base, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		_, env := doRequest(t, srv, http.MethodGet, base, nil)
		assert.Contains(t, string(env.Data), `"messages":[]`)
	})
}

func TestServer_TurnValidation(t *testing.T) {
	srv, _ := newTestServer(t, 4, nil)

	t.Run("empty message", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodPost, "/api/v1/workspaces/ws1/agents/a1/turn",
			map[string]string{"message": "   "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "invalid_request", env.Error.Code)
	})

	t.Run("undeployed agent fails before streaming", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodPost, "/api/v1/workspaces/ws1/agents/ghost/turn",
			map[string]string{"message": "hello"})
		assert.Equal(t, http.StatusNotFound, w.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "agent_not_deployed", env.Error.Code)
	})
}

func TestServer_Approval(t *testing.T) {
	srv, _ := newTestServer(t, 4, nil)

	_, env := doRequest(t, srv, http.MethodPost, "/api/v1/workspaces/ws1/agents",
		map[string]string{"agent_id": "a1", "model": "claude"})
	require.True(t, env.Success)

	t.Run("missing approved field", func(t *testing.T) {
		w, _ := doRequest(t, srv, http.MethodPost, "/api/v1/workspaces/ws1/agents/a1/approval",
			map[string]string{"tool_use_id": "tu-1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no pending approval", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodPost, "/api/v1/workspaces/ws1/agents/a1/approval",
			map[string]interface{}{"tool_use_id": "tu-1", "approved": true})
		assert.Equal(t, http.StatusNotFound, w.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "no_pending_approval", env.Error.Code)
	})

	t.Run("pending is null when idle", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodGet, "/api/v1/workspaces/ws1/agents/a1/approval", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, string(env.Data), `"pending":null`)
	})
}

func TestServer_Checkpoints(t *testing.T) {
	srv, store := newTestServer(t, 4, nil)
	key := types.AgentKey{WorkspaceID: "ws1", AgentID: "a1"}
	ctx := context.Background()

	require.NoError(t, store.AppendMessage(ctx, key, types.ConversationMessage{
		ID: "m1", Role: types.RoleUser, Content: "before checkpoint",
	}))

	var checkpointID string

	t.Run("create", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodPost, "/api/v1/checkpoints", map[string]interface{}{
			"workspace_id": "ws1",
			"agent_id":     "a1",
			"name":         "milestone",
			"tags":         []string{"stable"},
		})
		require.Equal(t, http.StatusCreated, w.Code)

		var cp types.Checkpoint
		require.NoError(t, json.Unmarshal(env.Data, &cp))
		assert.Equal(t, "milestone", cp.Name)
		assert.Equal(t, 1, cp.Metadata.MessageCount)
		checkpointID = cp.ID
	})

	t.Run("list and search", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodGet, "/api/v1/checkpoints?q=mile", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, string(env.Data), checkpointID)

		_, env = doRequest(t, srv, http.MethodGet, "/api/v1/checkpoints?q=nomatch", nil)
		assert.Contains(t, string(env.Data), `"checkpoints":[]`)
	})

	t.Run("restore requires target query params", func(t *testing.T) {
		w, _ := doRequest(t, srv, http.MethodPost, "/api/v1/checkpoints/"+checkpointID+"/restore", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("restore", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodPost,
			"/api/v1/checkpoints/"+checkpointID+"/restore?workspace=ws1&agent=a2", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var data struct {
			Restored     bool   `json:"restored"`
			CheckpointID string `json:"checkpoint_id"`
			MessageCount int    `json:"message_count"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.True(t, data.Restored)
		assert.Equal(t, 1, data.MessageCount)

		// The target transcript now holds the snapshot plus the restore notice.
		messages, err := store.LoadMessages(ctx, types.AgentKey{WorkspaceID: "ws1", AgentID: "a2"})
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, types.RoleSystem, messages[1].Role)
	})

	t.Run("delete then get", func(t *testing.T) {
		w, _ := doRequest(t, srv, http.MethodDelete, "/api/v1/checkpoints/"+checkpointID, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w, env := doRequest(t, srv, http.MethodGet, "/api/v1/checkpoints/"+checkpointID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "not_found", env.Error.Code)
	})
}

func TestServer_CommandInjection(t *testing.T) {
	srv, _ := newTestServer(t, 4, nil)

	t.Run("missing text", func(t *testing.T) {
		w, _ := doRequest(t, srv, http.MethodPost, "/api/v1/workspaces/ws1/agents/a1/command",
			map[string]string{"source": "ide"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no subscribers means zero deliveries", func(t *testing.T) {
		w, env := doRequest(t, srv, http.MethodPost, "/api/v1/workspaces/ws1/agents/a1/command",
			map[string]string{"text": "run the tests", "source": "ide"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, string(env.Data), `"delivered":0`)
	})
}

func TestServer_APIKeyAuth(t *testing.T) {
	srv, _ := newTestServer(t, 4, func(cfg *Config) {
		cfg.Auth.APIKey.Enabled = true
		cfg.Auth.APIKey.Keys = []string{"secret-key"}
	})

	w, _ := doRequest(t, srv, http.MethodGet, "/api/v1/workspaces/ws1/agents", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces/ws1/agents", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/workspaces/ws1/agents", nil)
	req.Header.Set("X-API-Key", "secret-key")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open for load balancers.
	w, _ = doRequest(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RateLimit(t *testing.T) {
	srv, _ := newTestServer(t, 4, func(cfg *Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerIP = 3
	})

	for i := 0; i < 3; i++ {
		w, _ := doRequest(t, srv, http.MethodGet, "/api/v1/workspaces/ws1/agents", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w, _ := doRequest(t, srv, http.MethodGet, "/api/v1/workspaces/ws1/agents", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
