package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wordflowlab/agentdeck/pkg/checkpoint"
	"github.com/wordflowlab/agentdeck/pkg/convstore"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

// CheckpointHandler snapshots and restores conversation state.
type CheckpointHandler struct {
	checkpoints *checkpoint.Manager
	store       convstore.Store
}

// NewCheckpointHandler creates the handler.
func NewCheckpointHandler(checkpoints *checkpoint.Manager, store convstore.Store) *CheckpointHandler {
	return &CheckpointHandler{checkpoints: checkpoints, store: store}
}

type createCheckpointRequest struct {
	WorkspaceID      string   `json:"workspace_id" binding:"required"`
	AgentID          string   `json:"agent_id" binding:"required"`
	Name             string   `json:"name" binding:"required"`
	Description      string   `json:"description,omitempty"`
	AgentDisplayName string   `json:"agent_display_name,omitempty"`
	AgentTitle       string   `json:"agent_title,omitempty"`
	SelectedModel    string   `json:"selected_model,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

// Create snapshots the agent's current transcript into a new checkpoint.
func (h *CheckpointHandler) Create(c *gin.Context) {
	var req createCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx := c.Request.Context()
	key := types.AgentKey{WorkspaceID: req.WorkspaceID, AgentID: req.AgentID}

	messages, err := h.store.LoadMessages(ctx, key)
	if err != nil {
		failErr(c, err)
		return
	}

	id, err := h.checkpoints.Save(ctx, checkpoint.SaveRequest{
		Name:             req.Name,
		Description:      req.Description,
		Messages:         messages,
		AgentDisplayName: req.AgentDisplayName,
		AgentTitle:       req.AgentTitle,
		SelectedModel:    req.SelectedModel,
		Tags:             req.Tags,
	})
	if err != nil {
		fail(c, http.StatusBadRequest, "checkpoint_failed", err.Error())
		return
	}

	cp, err := h.checkpoints.Load(ctx, id)
	if err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusCreated, cp)
}

// List returns checkpoints, optionally filtered by ?q= substring search.
func (h *CheckpointHandler) List(c *gin.Context) {
	results, err := h.checkpoints.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		failErr(c, err)
		return
	}
	if results == nil {
		results = []types.Checkpoint{}
	}
	respond(c, http.StatusOK, gin.H{"checkpoints": results})
}

// Get returns one checkpoint by id.
func (h *CheckpointHandler) Get(c *gin.Context) {
	cp, err := h.checkpoints.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, cp)
}

// Restore replaces the target agent's transcript with the checkpoint's
// messages and appends the restore notice.
func (h *CheckpointHandler) Restore(c *gin.Context) {
	key := types.AgentKey{
		WorkspaceID: c.Query("workspace"),
		AgentID:     c.Query("agent"),
	}
	if key.WorkspaceID == "" || key.AgentID == "" {
		fail(c, http.StatusBadRequest, "invalid_request", "workspace and agent query parameters are required")
		return
	}

	cp, err := h.checkpoints.Restore(c.Request.Context(), key, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"restored":      true,
		"checkpoint_id": cp.ID,
		"message_count": len(cp.Messages),
	})
}

// Delete removes one checkpoint.
func (h *CheckpointHandler) Delete(c *gin.Context) {
	if err := h.checkpoints.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"deleted": true})
}
