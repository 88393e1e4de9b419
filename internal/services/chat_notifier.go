package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/classpulse-backend/internal/sse"
	"github.com/yungbote/classpulse-backend/internal/types"
)

// ChatNotifier is the side channel a streaming turn talks to the client
// over. The channel is the tenant ID, so every connection the teacher holds
// sees the turn's lifecycle.
type ChatNotifier interface {
	Searching(tenantID uuid.UUID, threadID, messageID uuid.UUID)
	MessageDelta(tenantID uuid.UUID, threadID, messageID uuid.UUID, delta string)
	ToolCall(tenantID uuid.UUID, threadID, messageID uuid.UUID, call types.ToolInvocation)
	MessageDone(tenantID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage)
	MessageError(tenantID uuid.UUID, threadID, messageID uuid.UUID, errMsg string)
	Aborted(tenantID uuid.UUID, threadID, messageID uuid.UUID)
	LessonPlanReady(tenantID uuid.UUID, plan *types.LessonPlan)
}

type chatNotifier struct {
	emit SSEEmitter
}

func NewChatNotifier(emit SSEEmitter) ChatNotifier {
	return &chatNotifier{emit: emit}
}

func (n *chatNotifier) send(tenantID uuid.UUID, event sse.SSEEvent, data map[string]any) {
	if n == nil || n.emit == nil || tenantID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), sse.SSEMessage{
		Channel: tenantID.String(),
		Event:   event,
		Data:    data,
	})
}

func (n *chatNotifier) Searching(tenantID uuid.UUID, threadID, messageID uuid.UUID) {
	n.send(tenantID, sse.SSEEventChatSearching, map[string]any{
		"thread_id":  threadID,
		"message_id": messageID,
	})
}

func (n *chatNotifier) MessageDelta(tenantID uuid.UUID, threadID, messageID uuid.UUID, delta string) {
	if delta == "" {
		return
	}
	n.send(tenantID, sse.SSEEventChatDelta, map[string]any{
		"thread_id":  threadID,
		"message_id": messageID,
		"delta":      delta,
	})
}

func (n *chatNotifier) ToolCall(tenantID uuid.UUID, threadID, messageID uuid.UUID, call types.ToolInvocation) {
	n.send(tenantID, sse.SSEEventChatToolCall, map[string]any{
		"thread_id":  threadID,
		"message_id": messageID,
		"tool_call":  call,
	})
}

func (n *chatNotifier) MessageDone(tenantID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage) {
	n.send(tenantID, sse.SSEEventChatDone, map[string]any{
		"thread_id": threadID,
		"message":   msg,
	})
}

func (n *chatNotifier) MessageError(tenantID uuid.UUID, threadID, messageID uuid.UUID, errMsg string) {
	n.send(tenantID, sse.SSEEventChatError, map[string]any{
		"thread_id":  threadID,
		"message_id": messageID,
		"error":      errMsg,
	})
}

func (n *chatNotifier) Aborted(tenantID uuid.UUID, threadID, messageID uuid.UUID) {
	n.send(tenantID, sse.SSEEventChatAborted, map[string]any{
		"thread_id":  threadID,
		"message_id": messageID,
	})
}

func (n *chatNotifier) LessonPlanReady(tenantID uuid.UUID, plan *types.LessonPlan) {
	n.send(tenantID, sse.SSEEventLessonPlanReady, map[string]any{
		"lesson_plan": plan,
	})
}
