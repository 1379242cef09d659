package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wordflowlab/agentdeck/pkg/events"
)

// EventsHandler exposes the side channels: command injection into an agent's
// terminal and the workspace file-change feed.
type EventsHandler struct {
	bus *events.Bus
}

// NewEventsHandler creates the handler.
func NewEventsHandler(bus *events.Bus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

type injectRequest struct {
	Text     string `json:"text" binding:"required"`
	AutoSend bool   `json:"auto_send,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Inject delivers a command to the agent's terminal subscribers. Delivery is
// addressed: only this agent's subscribers see it.
func (h *EventsHandler) Inject(c *gin.Context) {
	var req injectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	delivered := h.bus.Inject(agentKey(c), events.Command{
		Text:     req.Text,
		AutoSend: req.AutoSend,
		Source:   req.Source,
	})
	respond(c, http.StatusOK, gin.H{"delivered": delivered})
}

// WatchCommands streams injected commands for one agent as server-sent
// events until the client disconnects.
func (h *EventsHandler) WatchCommands(c *gin.Context) {
	ch, unsubscribe := h.bus.SubscribeCommands(agentKey(c))
	defer unsubscribe()

	c.Stream(func(w io.Writer) bool {
		select {
		case cmd, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("command", cmd)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// WatchFiles streams workspace file-change events as server-sent events.
// The IDE uses them to refresh its file tree and open editors.
func (h *EventsHandler) WatchFiles(c *gin.Context) {
	ch, unsubscribe := h.bus.SubscribeFileChanges(c.Param("workspace"))
	defer unsubscribe()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("file_change", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
