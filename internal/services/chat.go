package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/classpulse-backend/internal/config"
	"github.com/yungbote/classpulse-backend/internal/dbctx"
	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/repos"
	"github.com/yungbote/classpulse-backend/internal/types"
)

// TurnState tracks where a streamed turn is in its lifecycle.
type TurnState string

const (
	TurnStateIdle       TurnState = "idle"
	TurnStateRetrieving TurnState = "retrieving"
	TurnStateGenerating TurnState = "generating"
	TurnStateCompleted  TurnState = "completed"
	TurnStateAborted    TurnState = "aborted"
	TurnStateFailed     TurnState = "failed"
)

// GenerationFailedReply is persisted and surfaced when generation dies
// mid-turn for a reason other than an abort.
const GenerationFailedReply = "Something went wrong while generating a response. Please try again."

const generateLessonPlanTool = "generate_lesson_plan"

// ChatService orchestrates one streamed assistant turn per thread: persist
// the user message, retrieve grounding context, stream generation with tool
// definitions, and land the assistant message in a terminal state.
type ChatService interface {
	// SendMessage blocks until the turn reaches a terminal state and returns
	// the assistant message as persisted.
	SendMessage(ctx context.Context, tenantID, threadID uuid.UUID, content string) (*types.ChatMessage, error)
	// Abort cancels the thread's in-flight turn. Aborting a finished or
	// unknown turn is a no-op and reports false.
	Abort(tenantID, threadID uuid.UUID) bool
	TurnState(threadID uuid.UUID) TurnState

	ListThreads(ctx context.Context, tenantID uuid.UUID, limit int) ([]*types.ChatThread, error)
	ListMessages(ctx context.Context, tenantID, threadID uuid.UUID, limit int) ([]*types.ChatMessage, error)
}

type activeTurn struct {
	tenantID uuid.UUID

	mu      sync.Mutex
	state   TurnState
	cancel  context.CancelFunc
	aborted bool
}

func (t *activeTurn) setState(s TurnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *activeTurn) abort() {
	t.mu.Lock()
	t.aborted = true
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *activeTurn) wasAborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

type chatService struct {
	log         *logger.Logger
	threadRepo  repos.ChatThreadRepo
	messageRepo repos.ChatMessageRepo
	retrieval   RetrievalAssembler
	generator   GenerationClient
	lessonPlans LessonPlanService
	notifier    ChatNotifier

	flushWindow    time.Duration
	flushWatermark int

	mu    sync.Mutex
	turns map[uuid.UUID]*activeTurn
}

func NewChatService(
	baseLog *logger.Logger,
	threadRepo repos.ChatThreadRepo,
	messageRepo repos.ChatMessageRepo,
	retrieval RetrievalAssembler,
	generator GenerationClient,
	lessonPlans LessonPlanService,
	notifier ChatNotifier,
	cfg config.Streaming,
) ChatService {
	window := cfg.FlushWindow()
	if window <= 0 {
		window = 50 * time.Millisecond
	}
	watermark := cfg.FlushWatermarkBytes
	if watermark <= 0 {
		watermark = 512
	}
	return &chatService{
		log:            baseLog.With("service", "ChatService"),
		threadRepo:     threadRepo,
		messageRepo:    messageRepo,
		retrieval:      retrieval,
		generator:      generator,
		lessonPlans:    lessonPlans,
		notifier:       notifier,
		flushWindow:    window,
		flushWatermark: watermark,
		turns:          make(map[uuid.UUID]*activeTurn),
	}
}

func (s *chatService) Abort(tenantID, threadID uuid.UUID) bool {
	s.mu.Lock()
	turn := s.turns[threadID]
	s.mu.Unlock()
	if turn == nil {
		return false
	}
	// Only the tenant that owns the turn may cancel it.
	if turn.tenantID != tenantID {
		s.log.Warn("Abort rejected for foreign tenant", "thread_id", threadID)
		return false
	}
	turn.abort()
	return true
}

func (s *chatService) TurnState(threadID uuid.UUID) TurnState {
	s.mu.Lock()
	turn := s.turns[threadID]
	s.mu.Unlock()
	if turn == nil {
		return TurnStateIdle
	}
	turn.mu.Lock()
	defer turn.mu.Unlock()
	return turn.state
}

func (s *chatService) registerTurn(threadID uuid.UUID, turn *activeTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.turns[threadID]; busy {
		return fmt.Errorf("thread %s already has a turn in flight", threadID)
	}
	s.turns[threadID] = turn
	return nil
}

func (s *chatService) unregisterTurn(threadID uuid.UUID) {
	s.mu.Lock()
	delete(s.turns, threadID)
	s.mu.Unlock()
}

func threadTitleFrom(content string) string {
	title := strings.TrimSpace(content)
	if len(title) > 80 {
		title = strings.TrimSpace(title[:80])
	}
	return title
}

func (s *chatService) SendMessage(ctx context.Context, tenantID, threadID uuid.UUID, content string) (*types.ChatMessage, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("missing tenant_id")
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("empty message")
	}

	dbc := dbctx.New(ctx)
	now := time.Now().UTC()

	var thread *types.ChatThread
	if threadID == uuid.Nil {
		created, err := s.threadRepo.Create(dbc, []*types.ChatThread{{
			ID:            uuid.New(),
			TenantID:      tenantID,
			Title:         threadTitleFrom(content),
			LastMessageAt: now,
		}})
		if err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
		thread = created[0]
	} else {
		existing, err := s.threadRepo.GetByID(dbc, tenantID, threadID)
		if err != nil {
			return nil, fmt.Errorf("load thread: %w", err)
		}
		if existing == nil {
			return nil, fmt.Errorf("thread %s not found", threadID)
		}
		thread = existing
		if thread.Title == "" {
			_ = s.threadRepo.UpdateFields(dbc, thread.ID, map[string]interface{}{
				"title": threadTitleFrom(content),
			})
		}
	}

	maxSeq, err := s.messageRepo.GetMaxSeq(dbc, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve message seq: %w", err)
	}

	history, err := s.messageRepo.ListByThread(dbc, thread.ID, 50)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	userMsg := &types.ChatMessage{
		ID:       uuid.New(),
		ThreadID: thread.ID,
		TenantID: tenantID,
		Role:     types.MessageRoleUser,
		Content:  content,
		Status:   types.MessageStatusDone,
		Seq:      maxSeq + 1,
	}
	assistantMsg := &types.ChatMessage{
		ID:       uuid.New(),
		ThreadID: thread.ID,
		TenantID: tenantID,
		Role:     types.MessageRoleAssistant,
		Status:   types.MessageStatusStreaming,
		Seq:      maxSeq + 2,
	}
	if _, err := s.messageRepo.Create(dbc, []*types.ChatMessage{userMsg, assistantMsg}); err != nil {
		return nil, fmt.Errorf("persist messages: %w", err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	turn := &activeTurn{tenantID: tenantID, state: TurnStateRetrieving, cancel: cancel}
	if err := s.registerTurn(thread.ID, turn); err != nil {
		_ = s.messageRepo.UpdateFields(dbc, assistantMsg.ID, map[string]interface{}{
			"status":  types.MessageStatusError,
			"content": "Another response is still in progress for this conversation.",
		})
		return nil, err
	}
	defer s.unregisterTurn(thread.ID)

	return s.runTurn(turnCtx, turn, tenantID, thread, history, userMsg, assistantMsg)
}

func (s *chatService) runTurn(
	ctx context.Context,
	turn *activeTurn,
	tenantID uuid.UUID,
	thread *types.ChatThread,
	history []*types.ChatMessage,
	userMsg *types.ChatMessage,
	assistantMsg *types.ChatMessage,
) (*types.ChatMessage, error) {
	// Terminal writes use a background-scoped dbctx so an abort can still be
	// persisted after ctx is cancelled.
	persistCtx := dbctx.New(context.Background())

	s.notifier.Searching(tenantID, thread.ID, assistantMsg.ID)

	contextBlock, err := s.retrieval.Retrieve(ctx, tenantID, userMsg.Content)
	if err != nil {
		if turn.wasAborted() || errors.Is(err, context.Canceled) {
			return s.finishAborted(persistCtx, turn, tenantID, thread.ID, assistantMsg, "")
		}
		// Degraded mode: answer without grounding rather than fail the turn.
		s.log.Warn("Retrieval failed, answering without context",
			"thread_id", thread.ID,
			"error", err,
		)
		contextBlock = NoContextFallback
	}

	turn.setState(TurnStateGenerating)

	system := buildSystemPrompt(contextBlock)
	turns := buildHistory(history, userMsg)

	buf := newDeltaBuffer(s.flushWindow, s.flushWatermark, func(chunk string) {
		s.notifier.MessageDelta(tenantID, thread.ID, assistantMsg.ID, chunk)
	})

	result, err := s.generator.StreamChat(ctx, system, turns, lessonPlanToolDefs(), buf.Add)
	if err != nil {
		if turn.wasAborted() || errors.Is(err, context.Canceled) {
			// Unflushed buffer is discarded; only what the client already saw
			// is persisted.
			return s.finishAborted(persistCtx, turn, tenantID, thread.ID, assistantMsg, buf.Flushed())
		}
		turn.setState(TurnStateFailed)
		s.log.Error("Generation failed", "thread_id", thread.ID, "error", err)
		_ = s.messageRepo.UpdateFields(persistCtx, assistantMsg.ID, map[string]interface{}{
			"status":  types.MessageStatusError,
			"content": GenerationFailedReply,
		})
		assistantMsg.Status = types.MessageStatusError
		assistantMsg.Content = GenerationFailedReply
		s.notifier.MessageError(tenantID, thread.ID, assistantMsg.ID, GenerationFailedReply)
		return assistantMsg, nil
	}

	buf.FlushRemaining()

	for _, call := range result.ToolCalls {
		s.notifier.ToolCall(tenantID, thread.ID, assistantMsg.ID, call)
		if call.Name == generateLessonPlanTool {
			s.triggerLessonPlan(tenantID, call)
		} else {
			s.log.Warn("Model invoked unknown tool", "tool", call.Name)
		}
	}

	turn.setState(TurnStateCompleted)
	assistantMsg.Content = result.Text
	assistantMsg.Status = types.MessageStatusDone
	assistantMsg.ToolCalls = encodeJSON(result.ToolCalls)

	if err := s.messageRepo.UpdateFields(persistCtx, assistantMsg.ID, map[string]interface{}{
		"status":     types.MessageStatusDone,
		"content":    result.Text,
		"tool_calls": assistantMsg.ToolCalls,
	}); err != nil {
		s.log.Error("Failed to persist completed message", "message_id", assistantMsg.ID, "error", err)
	}
	_ = s.threadRepo.UpdateFields(persistCtx, thread.ID, map[string]interface{}{
		"last_message_at": time.Now().UTC(),
	})

	s.notifier.MessageDone(tenantID, thread.ID, assistantMsg)
	return assistantMsg, nil
}

func (s *chatService) finishAborted(
	persistCtx dbctx.Context,
	turn *activeTurn,
	tenantID, threadID uuid.UUID,
	assistantMsg *types.ChatMessage,
	flushedText string,
) (*types.ChatMessage, error) {
	turn.setState(TurnStateAborted)
	assistantMsg.Status = types.MessageStatusAborted
	assistantMsg.Content = flushedText

	if err := s.messageRepo.UpdateFields(persistCtx, assistantMsg.ID, map[string]interface{}{
		"status":  types.MessageStatusAborted,
		"content": flushedText,
	}); err != nil {
		s.log.Error("Failed to persist aborted message", "message_id", assistantMsg.ID, "error", err)
	}

	s.notifier.Aborted(tenantID, threadID, assistantMsg.ID)
	s.log.Info("Turn aborted", "thread_id", threadID, "message_id", assistantMsg.ID)
	return assistantMsg, nil
}

func (s *chatService) triggerLessonPlan(tenantID uuid.UUID, call types.ToolInvocation) {
	req, err := lessonPlanRequestFromArgs(call.Arguments)
	if err != nil {
		s.log.Warn("Ignoring malformed lesson plan tool call", "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
		defer cancel()
		if _, err := s.lessonPlans.Generate(ctx, tenantID, req); err != nil {
			s.log.Error("Auto-triggered lesson plan generation failed",
				"class_id", req.ClassID,
				"error", err,
			)
		}
	}()
}

func lessonPlanRequestFromArgs(args map[string]any) (LessonPlanRequest, error) {
	req := LessonPlanRequest{}

	rawID, _ := args["class_id"].(string)
	classID, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return req, fmt.Errorf("bad class_id %q: %w", rawID, err)
	}
	req.ClassID = classID

	if name, ok := args["class_name"].(string); ok {
		req.ClassName = strings.TrimSpace(name)
	}
	if topics, ok := args["focus_topics"].([]any); ok {
		for _, t := range topics {
			if ts, ok := t.(string); ok && strings.TrimSpace(ts) != "" {
				req.FocusTopics = append(req.FocusTopics, ts)
			}
		}
	}
	if d, ok := args["duration_minutes"].(float64); ok && d > 0 {
		req.DurationMinutes = int(d)
	}
	return req, nil
}

func lessonPlanToolDefs() []ToolDefinition {
	return []ToolDefinition{{
		Name: generateLessonPlanTool,
		Description: "Generate a structured lesson plan for a class, grounded in its performance analytics. " +
			"Call this when the teacher asks for a lesson plan or teaching materials.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"class_id": map[string]any{
					"type":        "string",
					"description": "UUID of the class the plan is for",
				},
				"class_name": map[string]any{
					"type":        "string",
					"description": "Display name of the class, if known",
				},
				"focus_topics": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Topics the plan should target",
				},
				"duration_minutes": map[string]any{
					"type":        "integer",
					"description": "Target lesson length in minutes",
				},
			},
			"required": []string{"class_id"},
		},
	}}
}

func buildSystemPrompt(contextBlock string) string {
	var sb strings.Builder
	sb.WriteString("You are a classroom performance assistant for a teacher. ")
	sb.WriteString("Answer questions about student and class performance using only the data provided below. ")
	sb.WriteString("Be specific: cite scores, percentages, and topic names from the data. ")
	sb.WriteString("If the data does not cover the question, say so plainly instead of guessing.\n\n")
	sb.WriteString(contextBlock)
	return sb.String()
}

// buildHistory maps persisted messages into generation turns. Failed and
// aborted assistant messages are replayed only if they carry text the client
// actually saw.
func buildHistory(history []*types.ChatMessage, userMsg *types.ChatMessage) []ChatTurnMessage {
	out := make([]ChatTurnMessage, 0, len(history)+1)
	for _, m := range history {
		if m.ID == userMsg.ID {
			continue
		}
		if m.Role == types.MessageRoleAssistant && m.Status != types.MessageStatusDone && m.Content == "" {
			continue
		}
		if m.Status == types.MessageStatusStreaming {
			continue
		}
		out = append(out, ChatTurnMessage{Role: m.Role, Content: m.Content})
	}
	out = append(out, ChatTurnMessage{Role: types.MessageRoleUser, Content: userMsg.Content})
	return out
}

func (s *chatService) ListThreads(ctx context.Context, tenantID uuid.UUID, limit int) ([]*types.ChatThread, error) {
	return s.threadRepo.ListByTenant(dbctx.New(ctx), tenantID, limit)
}

func (s *chatService) ListMessages(ctx context.Context, tenantID, threadID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	thread, err := s.threadRepo.GetByID(dbctx.New(ctx), tenantID, threadID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, fmt.Errorf("thread %s not found", threadID)
	}
	return s.messageRepo.ListByThread(dbctx.New(ctx), threadID, limit)
}
