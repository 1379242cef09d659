package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wordflowlab/agentdeck/pkg/agentproc"
)

// SessionHandler manages agent deployment lifecycle and session resumption.
type SessionHandler struct {
	manager *agentproc.Manager
}

// NewSessionHandler creates the handler.
func NewSessionHandler(manager *agentproc.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

type deployRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Model   string `json:"model" binding:"required"`
}

// Deploy creates a new agent in the workspace, subject to the capacity cap.
func (h *SessionHandler) Deploy(c *gin.Context) {
	var req deployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		fail(c, http.StatusBadRequest, "invalid_request", "agent_id is required")
		return
	}

	key := agentKey(c)
	key.AgentID = req.AgentID

	sess, err := h.manager.Deploy(c.Request.Context(), key, req.Model)
	if err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusCreated, sess.Status())
}

// List returns the status of every agent in the workspace.
func (h *SessionHandler) List(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{
		"agents": h.manager.List(c.Param("workspace")),
	})
}

// Status returns one agent's runtime status.
func (h *SessionHandler) Status(c *gin.Context) {
	sess, err := h.manager.Session(agentKey(c))
	if err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, sess.Status())
}

// Close terminates the agent; its conversation log is retained.
func (h *SessionHandler) Close(c *gin.Context) {
	if err := h.manager.Close(c.Request.Context(), agentKey(c)); err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"closed": true})
}

// Resume probes the newest recorded CLI session id and adopts it if the CLI
// still knows it. A failed probe is not an error: restored simply comes back
// false and the next turn starts fresh.
func (h *SessionHandler) Resume(c *gin.Context) {
	restored, err := h.manager.ResumeLatest(c.Request.Context(), agentKey(c))
	if err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"restored": restored})
}
