// Package handlers implements the HTTP API for the agent session engine.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wordflowlab/agentdeck/pkg/agentproc"
	"github.com/wordflowlab/agentdeck/pkg/approval"
	"github.com/wordflowlab/agentdeck/pkg/convstore"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

// respond writes the success envelope.
func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// fail writes the error envelope.
func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   gin.H{"code": code, "message": message},
	})
}

// failErr maps engine errors to distinguishable HTTP responses. Capacity and
// busy conditions must not look like transient server failures.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, agentproc.ErrCapacity):
		fail(c, http.StatusConflict, "capacity_exceeded", err.Error())
	case errors.Is(err, agentproc.ErrBusy):
		fail(c, http.StatusConflict, "turn_in_flight", err.Error())
	case errors.Is(err, agentproc.ErrNotDeployed):
		fail(c, http.StatusNotFound, "agent_not_deployed", err.Error())
	case errors.Is(err, agentproc.ErrUnknownModel):
		fail(c, http.StatusBadRequest, "unknown_model", err.Error())
	case errors.Is(err, approval.ErrNoPending):
		fail(c, http.StatusNotFound, "no_pending_approval", err.Error())
	case errors.Is(err, convstore.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, convstore.ErrIDMismatch):
		fail(c, http.StatusConflict, "id_mismatch", err.Error())
	default:
		fail(c, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// agentKey extracts the (workspace, agent) pair from the route.
func agentKey(c *gin.Context) types.AgentKey {
	return types.AgentKey{
		WorkspaceID: c.Param("workspace"),
		AgentID:     c.Param("agent"),
	}
}
