package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/wordflowlab/agentdeck/pkg/agentproc"
	"github.com/wordflowlab/agentdeck/pkg/stream"
	"github.com/wordflowlab/agentdeck/pkg/types"
	"github.com/wordflowlab/agentdeck/server/observability"
)

// TurnHandler runs turns and streams their frames as chunked NDJSON.
type TurnHandler struct {
	manager *agentproc.Manager
	metrics *observability.MetricsManager
}

// NewTurnHandler creates the handler. metrics may be nil.
func NewTurnHandler(manager *agentproc.Manager, metrics *observability.MetricsManager) *TurnHandler {
	return &TurnHandler{manager: manager, metrics: metrics}
}

type turnRequest struct {
	Message string `json:"message" binding:"required"`
	Model   string `json:"model,omitempty"`
}

// Start runs one turn. The response body is a stream of newline-delimited
// JSON frames, flushed as they are produced; the connection stays open until
// the terminal complete/error frame. Client disconnect aborts the turn via
// the request context.
func (h *TurnHandler) Start(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, "invalid_request", "message must not be empty")
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	var mu sync.Mutex
	wrote := false
	sink := stream.Sink(func(frame types.StreamFrame) error {
		mu.Lock()
		defer mu.Unlock()

		payload, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		payload = append(payload, '\n')
		if _, err := c.Writer.Write(payload); err != nil {
			return err
		}
		c.Writer.Flush()
		wrote = true

		if h.metrics != nil {
			h.metrics.CountFrame(string(frame.Type))
		}
		return nil
	})

	err := h.manager.StartTurn(c.Request.Context(), agentKey(c), req.Model, req.Message, sink)
	if err != nil {
		mu.Lock()
		defer mu.Unlock()
		if !wrote {
			// Rejected before streaming began; a plain envelope is still
			// possible.
			failErr(c, err)
			return
		}
		// Mid-stream failures were already surfaced as error frames.
	}
}

// Interrupt aborts the in-flight turn, if any.
func (h *TurnHandler) Interrupt(c *gin.Context) {
	if err := h.manager.InterruptTurn(agentKey(c)); err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"interrupted": true})
}
