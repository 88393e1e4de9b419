package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/classpulse-backend/internal/config"
	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/types"
)

type fakeRetrieval struct {
	out string
	err error
}

func (f *fakeRetrieval) Retrieve(ctx context.Context, tenantID uuid.UUID, query string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

type chatFixture struct {
	svc      ChatService
	threads  *fakeThreadRepo
	messages *fakeMessageRepo
	notifier *fakeNotifier
	plans    *fakeLessonPlans
}

func newChatFixture(t *testing.T, retrieval RetrievalAssembler, gen GenerationClient) *chatFixture {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	fx := &chatFixture{
		threads:  newFakeThreadRepo(),
		messages: newFakeMessageRepo(),
		notifier: &fakeNotifier{},
		plans:    &fakeLessonPlans{},
	}
	// Watermark of 1 byte makes every delta flush immediately, which keeps
	// these tests deterministic.
	fx.svc = NewChatService(log, fx.threads, fx.messages, retrieval, gen, fx.plans, fx.notifier,
		config.Streaming{FlushWindowMS: 50, FlushWatermarkBytes: 1})
	return fx
}

func TestSendMessageStreamsAndCompletes(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"Alice ", "is at ", "75%."}}
	fx := newChatFixture(t, &fakeRetrieval{out: "Relevant classroom data:\n1. Alice averages 75%"}, gen)
	tenantID := uuid.New()

	msg, err := fx.svc.SendMessage(context.Background(), tenantID, uuid.Nil, "How is Alice doing?")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if msg.Status != types.MessageStatusDone {
		t.Fatalf("status: want=done got=%s", msg.Status)
	}
	if msg.Content != "Alice is at 75%." {
		t.Fatalf("content: got %q", msg.Content)
	}
	// Flushed chunks must reassemble into the full text exactly.
	if got := fx.notifier.joinedDeltas(); got != msg.Content {
		t.Fatalf("delta concatenation mismatch: want=%q got=%q", msg.Content, got)
	}
	if fx.notifier.searching != 1 {
		t.Fatalf("searching events: want=1 got=%d", fx.notifier.searching)
	}
	if fx.notifier.doneMsg == nil {
		t.Fatal("MessageDone not sent")
	}

	// The retrieved context must reach the generator's system prompt.
	if !strings.Contains(gen.gotSystem, "Alice averages 75%") {
		t.Fatalf("retrieved context missing from system prompt:\n%s", gen.gotSystem)
	}

	threads, _ := fx.threads.ListByTenant(dbctxBackground(), tenantID, 10)
	if len(threads) != 1 {
		t.Fatalf("thread count: want=1 got=%d", len(threads))
	}
	if threads[0].Title != "How is Alice doing?" {
		t.Fatalf("thread title: got %q", threads[0].Title)
	}

	persisted := fx.messages.get(msg.ID)
	if persisted == nil || persisted.Status != types.MessageStatusDone {
		t.Fatalf("assistant message not persisted as done: %+v", persisted)
	}
}

func TestAbortDiscardsUnflushedAndLandsAborted(t *testing.T) {
	gen := &fakeGenerator{
		deltas:           []string{"partial "},
		blockUntilCancel: true,
		emitted:          make(chan struct{}),
	}
	fx := newChatFixture(t, &fakeRetrieval{out: "ctx"}, gen)
	tenantID := uuid.New()

	created, err := fx.threads.Create(dbctxBackground(), []*types.ChatThread{{
		ID:       uuid.New(),
		TenantID: tenantID,
		Title:    "t",
	}})
	if err != nil {
		t.Fatalf("Create thread: %v", err)
	}
	threadID := created[0].ID

	type result struct {
		msg *types.ChatMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := fx.svc.SendMessage(context.Background(), tenantID, threadID, "question")
		done <- result{msg, err}
	}()

	<-gen.emitted
	if !fx.svc.Abort(tenantID, threadID) {
		t.Fatal("Abort should report an in-flight turn")
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("SendMessage after abort: %v", res.err)
	}
	if res.msg.Status != types.MessageStatusAborted {
		t.Fatalf("status: want=aborted got=%s", res.msg.Status)
	}
	if res.msg.Content != "partial " {
		t.Fatalf("aborted content should be only the flushed text: got %q", res.msg.Content)
	}
	if fx.notifier.aborted != 1 {
		t.Fatalf("aborted events: want=1 got=%d", fx.notifier.aborted)
	}
	if fx.notifier.errMsg != "" {
		t.Fatalf("abort must not surface a user-visible error, got %q", fx.notifier.errMsg)
	}

	// Aborting a finished turn is a no-op.
	if fx.svc.Abort(tenantID, threadID) {
		t.Fatal("Abort on a finished turn should report false")
	}
	if fx.svc.TurnState(threadID) != TurnStateIdle {
		t.Fatalf("finished thread should be idle, got %s", fx.svc.TurnState(threadID))
	}
}

func TestAbortRejectsForeignTenant(t *testing.T) {
	gen := &fakeGenerator{
		deltas:           []string{"partial "},
		blockUntilCancel: true,
		emitted:          make(chan struct{}),
	}
	fx := newChatFixture(t, &fakeRetrieval{out: "ctx"}, gen)
	ownerID := uuid.New()
	otherID := uuid.New()

	created, err := fx.threads.Create(dbctxBackground(), []*types.ChatThread{{
		ID:       uuid.New(),
		TenantID: ownerID,
		Title:    "t",
	}})
	if err != nil {
		t.Fatalf("Create thread: %v", err)
	}
	threadID := created[0].ID

	type result struct {
		msg *types.ChatMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := fx.svc.SendMessage(context.Background(), ownerID, threadID, "question")
		done <- result{msg, err}
	}()

	<-gen.emitted
	// A different tenant that learned the thread UUID must not be able to
	// cancel the owner's turn.
	if fx.svc.Abort(otherID, threadID) {
		t.Fatal("Abort by a foreign tenant should report false")
	}
	if got := fx.svc.TurnState(threadID); got != TurnStateGenerating {
		t.Fatalf("turn state after foreign abort: want=generating got=%s", got)
	}

	if !fx.svc.Abort(ownerID, threadID) {
		t.Fatal("owner Abort should report an in-flight turn")
	}
	res := <-done
	if res.err != nil {
		t.Fatalf("SendMessage after abort: %v", res.err)
	}
	if res.msg.Status != types.MessageStatusAborted {
		t.Fatalf("status: want=aborted got=%s", res.msg.Status)
	}
}

func TestGenerationFailureLandsFailed(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("upstream 500")}
	fx := newChatFixture(t, &fakeRetrieval{out: "ctx"}, gen)
	tenantID := uuid.New()

	msg, err := fx.svc.SendMessage(context.Background(), tenantID, uuid.Nil, "question")
	if err != nil {
		t.Fatalf("SendMessage should absorb generation failure: %v", err)
	}
	if msg.Status != types.MessageStatusError {
		t.Fatalf("status: want=error got=%s", msg.Status)
	}
	if msg.Content != GenerationFailedReply {
		t.Fatalf("content: got %q", msg.Content)
	}
	if fx.notifier.errMsg != GenerationFailedReply {
		t.Fatalf("error notification: got %q", fx.notifier.errMsg)
	}
}

func TestRetrievalFailureProceedsWithoutContext(t *testing.T) {
	gen := &fakeGenerator{deltas: []string{"answer"}}
	fx := newChatFixture(t, &fakeRetrieval{err: fmt.Errorf("embeddings down")}, gen)

	msg, err := fx.svc.SendMessage(context.Background(), uuid.New(), uuid.Nil, "question")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != types.MessageStatusDone {
		t.Fatalf("degraded turn should still complete, got %s", msg.Status)
	}
	if !strings.Contains(gen.gotSystem, NoContextFallback) {
		t.Fatalf("system prompt should carry the no-data fallback:\n%s", gen.gotSystem)
	}
}

func TestLessonPlanToolCallAutoTriggers(t *testing.T) {
	classID := uuid.New()
	gen := &fakeGenerator{
		deltas: []string{"I'll put a plan together."},
		toolCalls: []types.ToolInvocation{{
			ID:   "call_1",
			Name: generateLessonPlanTool,
			Arguments: map[string]any{
				"class_id":     classID.String(),
				"class_name":   "Algebra I",
				"focus_topics": []any{"fractions", "decimals"},
			},
		}},
	}
	fx := newChatFixture(t, &fakeRetrieval{out: "ctx"}, gen)
	fx.plans.called = make(chan struct{}, 1)
	tenantID := uuid.New()

	msg, err := fx.svc.SendMessage(context.Background(), tenantID, uuid.Nil, "make me a lesson plan")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != types.MessageStatusDone {
		t.Fatalf("status: want=done got=%s", msg.Status)
	}

	select {
	case <-fx.plans.called:
	case <-time.After(2 * time.Second):
		t.Fatal("lesson plan generation was not triggered")
	}

	fx.plans.mu.Lock()
	req := fx.plans.requests[0]
	fx.plans.mu.Unlock()
	if req.ClassID != classID {
		t.Fatalf("class id: want=%s got=%s", classID, req.ClassID)
	}
	if len(req.FocusTopics) != 2 || req.FocusTopics[0] != "fractions" {
		t.Fatalf("focus topics: got %v", req.FocusTopics)
	}

	if len(fx.notifier.toolCalls) != 1 || fx.notifier.toolCalls[0].Name != generateLessonPlanTool {
		t.Fatalf("tool call notification: got %+v", fx.notifier.toolCalls)
	}
}

func TestSecondTurnOnBusyThreadRejected(t *testing.T) {
	gen := &fakeGenerator{
		deltas:           []string{"x"},
		blockUntilCancel: true,
		emitted:          make(chan struct{}),
	}
	fx := newChatFixture(t, &fakeRetrieval{out: "ctx"}, gen)
	tenantID := uuid.New()

	created, _ := fx.threads.Create(dbctxBackground(), []*types.ChatThread{{
		ID:       uuid.New(),
		TenantID: tenantID,
	}})
	threadID := created[0].ID

	go func() {
		_, _ = fx.svc.SendMessage(context.Background(), tenantID, threadID, "first")
	}()
	<-gen.emitted

	if _, err := fx.svc.SendMessage(context.Background(), tenantID, threadID, "second"); err == nil {
		t.Fatal("second concurrent turn on the same thread should be rejected")
	}

	fx.svc.Abort(tenantID, threadID)
}
