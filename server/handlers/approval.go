package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wordflowlab/agentdeck/pkg/agentproc"
	"github.com/wordflowlab/agentdeck/server/observability"
)

// ApprovalHandler resolves pending tool approvals.
type ApprovalHandler struct {
	manager *agentproc.Manager
	metrics *observability.MetricsManager
}

// NewApprovalHandler creates the handler. metrics may be nil.
func NewApprovalHandler(manager *agentproc.Manager, metrics *observability.MetricsManager) *ApprovalHandler {
	return &ApprovalHandler{manager: manager, metrics: metrics}
}

type approvalRequest struct {
	ToolUseID string `json:"tool_use_id"`
	ToolName  string `json:"tool_name,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Approved  *bool  `json:"approved" binding:"required"`
}

// Resolve applies the user's decision to the agent's pending approval. An
// empty tool_use_id resolves whatever is pending.
func (h *ApprovalHandler) Resolve(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	approved := req.Approved != nil && *req.Approved
	if err := h.manager.ResolveApproval(c.Request.Context(), agentKey(c), req.ToolUseID, approved); err != nil {
		failErr(c, err)
		return
	}

	if h.metrics != nil {
		decision := "denied"
		if approved {
			decision = "approved"
		}
		h.metrics.CountApproval(decision)
	}
	respond(c, http.StatusOK, gin.H{"resolved": true, "approved": approved})
}

// Pending returns the outstanding approval request, if any.
func (h *ApprovalHandler) Pending(c *gin.Context) {
	sess, err := h.manager.Session(agentKey(c))
	if err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"pending": sess.Gate().Pending()})
}
