package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/middleware"
	"github.com/yungbote/classpulse-backend/internal/services"
)

type ChatHandler struct {
	log  *logger.Logger
	chat services.ChatService
}

func NewChatHandler(log *logger.Logger, chat services.ChatService) *ChatHandler {
	return &ChatHandler{
		log:  log.With("handler", "ChatHandler"),
		chat: chat,
	}
}

type sendMessageRequest struct {
	ThreadID *uuid.UUID `json:"thread_id"`
	Content  string     `json:"content" binding:"required"`
}

// POST /api/chat/messages
// Runs the turn to completion; live progress arrives over the SSE channel.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing tenant"))
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	threadID := uuid.Nil
	if req.ThreadID != nil {
		threadID = *req.ThreadID
	}

	msg, err := h.chat.SendMessage(c.Request.Context(), tenantID, threadID, req.Content)
	if err != nil {
		h.log.Error("SendMessage failed", "thread_id", threadID, "error", err)
		RespondError(c, http.StatusInternalServerError, "send_failed", err)
		return
	}
	RespondOK(c, msg)
}

// POST /api/threads/:id/abort
// Idempotent: aborting a finished turn reports aborted=false and 200.
func (h *ChatHandler) AbortTurn(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing tenant"))
		return
	}
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid thread id"))
		return
	}

	aborted := h.chat.Abort(tenantID, threadID)
	RespondOK(c, gin.H{"aborted": aborted})
}

// GET /api/threads
func (h *ChatHandler) ListThreads(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing tenant"))
		return
	}

	threads, err := h.chat.ListThreads(c.Request.Context(), tenantID, 50)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return
	}
	RespondOK(c, gin.H{"threads": threads})
}

// GET /api/threads/:id/messages
func (h *ChatHandler) ListMessages(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("missing tenant"))
		return
	}
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid thread id"))
		return
	}

	messages, err := h.chat.ListMessages(c.Request.Context(), tenantID, threadID, 100)
	if err != nil {
		RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}
	RespondOK(c, gin.H{"messages": messages})
}
