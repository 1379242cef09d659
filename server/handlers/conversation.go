package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wordflowlab/agentdeck/pkg/convstore"
	"github.com/wordflowlab/agentdeck/pkg/types"
)

// ConversationHandler reads and writes the persisted transcript directly,
// without going through a turn. The write path backs the IDE's save-only
// edits (notes, manual corrections) that must not trigger the agent.
type ConversationHandler struct {
	store convstore.Store
}

// NewConversationHandler creates the handler.
func NewConversationHandler(store convstore.Store) *ConversationHandler {
	return &ConversationHandler{store: store}
}

// GetMessages returns the full transcript for one agent. An agent with no
// history yields an empty list, not an error.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	messages, err := h.store.LoadMessages(c.Request.Context(), agentKey(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if messages == nil {
		messages = []types.ConversationMessage{}
	}
	respond(c, http.StatusOK, gin.H{"messages": messages})
}

type saveMessageRequest struct {
	Message types.ConversationMessage `json:"message" binding:"required"`
}

// SaveMessage appends a message, or updates the tail when the id matches the
// last entry. Concurrent writers resolve last-writer-wins.
func (h *ConversationHandler) SaveMessage(c *gin.Context) {
	var req saveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	msg := req.Message
	if msg.Role == "" {
		fail(c, http.StatusBadRequest, "invalid_request", "message role is required")
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	key := agentKey(c)
	ctx := c.Request.Context()

	if msg.ID != "" {
		err := h.store.UpdateLastMessage(ctx, key, msg)
		if err == nil {
			respond(c, http.StatusOK, gin.H{"id": msg.ID, "updated": true})
			return
		}
		if !errors.Is(err, convstore.ErrIDMismatch) && !errors.Is(err, convstore.ErrNotFound) {
			failErr(c, err)
			return
		}
		// Not the tail: fall through to append.
	} else {
		msg.ID = uuid.New().String()
	}

	if err := h.store.AppendMessage(ctx, key, msg); err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"id": msg.ID, "updated": false})
}

// DeleteConversation removes the transcript entirely.
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	if err := h.store.DeleteConversation(c.Request.Context(), agentKey(c)); err != nil {
		failErr(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"deleted": true})
}
