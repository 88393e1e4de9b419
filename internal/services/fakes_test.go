package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/classpulse-backend/internal/dbctx"
	"github.com/yungbote/classpulse-backend/internal/types"
)

func dbctxBackground() dbctx.Context {
	return dbctx.New(context.Background())
}

type fakeGradeRepo struct {
	mu     sync.Mutex
	grades map[uuid.UUID]*types.GradeRecord
}

func newFakeGradeRepo() *fakeGradeRepo {
	return &fakeGradeRepo{grades: map[uuid.UUID]*types.GradeRecord{}}
}

func (f *fakeGradeRepo) Create(dbc dbctx.Context, rows []*types.GradeRecord) ([]*types.GradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range rows {
		if g.ID == uuid.Nil {
			g.ID = uuid.New()
		}
		cp := *g
		f.grades[g.ID] = &cp
	}
	return rows, nil
}

func (f *fakeGradeRepo) GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.GradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grades[id]
	if !ok || g.TenantID != tenantID {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (f *fakeGradeRepo) SoftDelete(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.GradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grades[id]
	if !ok || g.TenantID != tenantID {
		return nil, nil
	}
	now := time.Now().UTC()
	g.DeletedAt = &now
	cp := *g
	return &cp, nil
}

func (f *fakeGradeRepo) ListActiveByClass(dbc dbctx.Context, tenantID, classID uuid.UUID) ([]*types.GradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.GradeRecord
	for _, g := range f.grades {
		if g.TenantID == tenantID && g.ClassID == classID && g.DeletedAt == nil {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GradedAt.Before(out[j].GradedAt) })
	return out, nil
}

func (f *fakeGradeRepo) ListActiveByStudent(dbc dbctx.Context, tenantID, classID, studentID uuid.UUID) ([]*types.GradeRecord, error) {
	all, _ := f.ListActiveByClass(dbc, tenantID, classID)
	var out []*types.GradeRecord
	for _, g := range all {
		if g.StudentID == studentID {
			out = append(out, g)
		}
	}
	return out, nil
}

type fakeClassAnalyticsRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.ClassAnalytics
}

func newFakeClassAnalyticsRepo() *fakeClassAnalyticsRepo {
	return &fakeClassAnalyticsRepo{rows: map[uuid.UUID]*types.ClassAnalytics{}}
}

func (f *fakeClassAnalyticsRepo) Get(dbc dbctx.Context, tenantID, classID uuid.UUID) (*types.ClassAnalytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[classID]
	if !ok || row.TenantID != tenantID {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeClassAnalyticsRepo) Transact(dbc dbctx.Context, tenantID, classID uuid.UUID, apply func(*types.ClassAnalytics) error) (*types.ClassAnalytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[classID]
	var cp types.ClassAnalytics
	if ok {
		cp = *row
	} else {
		cp = types.ClassAnalytics{
			ID:                     uuid.New(),
			TenantID:               tenantID,
			ClassID:                classID,
			CommonStrugglingTopics: datatypes.JSON([]byte(`{}`)),
			StudentPerformances:    datatypes.JSON([]byte(`{}`)),
		}
	}
	if err := apply(&cp); err != nil {
		return nil, err
	}
	cp.Version++
	cp.LastUpdated = time.Now().UTC()
	f.rows[classID] = &cp
	out := cp
	return &out, nil
}

type fakeStudentAnalyticsRepo struct {
	mu   sync.Mutex
	rows map[string]*types.StudentAnalytics
}

func newFakeStudentAnalyticsRepo() *fakeStudentAnalyticsRepo {
	return &fakeStudentAnalyticsRepo{rows: map[string]*types.StudentAnalytics{}}
}

func studentKey(classID, studentID uuid.UUID) string {
	return classID.String() + "/" + studentID.String()
}

func (f *fakeStudentAnalyticsRepo) Get(dbc dbctx.Context, tenantID, classID, studentID uuid.UUID) (*types.StudentAnalytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[studentKey(classID, studentID)]
	if !ok || row.TenantID != tenantID {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeStudentAnalyticsRepo) Transact(dbc dbctx.Context, tenantID, classID, studentID uuid.UUID, apply func(*types.StudentAnalytics) error) (*types.StudentAnalytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := studentKey(classID, studentID)
	row, ok := f.rows[key]
	var cp types.StudentAnalytics
	if ok {
		cp = *row
	} else {
		cp = types.StudentAnalytics{
			ID:                uuid.New(),
			TenantID:          tenantID,
			ClassID:           classID,
			StudentID:         studentID,
			StrugglingTopics:  datatypes.JSON([]byte(`{}`)),
			AssignmentHistory: datatypes.JSON([]byte(`[]`)),
		}
	}
	if err := apply(&cp); err != nil {
		return nil, err
	}
	cp.Version++
	cp.LastUpdated = time.Now().UTC()
	f.rows[key] = &cp
	out := cp
	return &out, nil
}

type fakeDocRepo struct {
	mu   sync.Mutex
	docs []*types.SemanticDocument
}

func (f *fakeDocRepo) Put(dbc dbctx.Context, doc *types.SemanticDocument) (*types.SemanticDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	cp := *doc
	f.docs = append(f.docs, &cp)
	return doc, nil
}

func (f *fakeDocRepo) UpsertClassDocument(dbc dbctx.Context, doc *types.SemanticDocument) (*types.SemanticDocument, error) {
	f.mu.Lock()
	for _, d := range f.docs {
		if d.DocType == types.DocTypeClass && d.TenantID == doc.TenantID &&
			d.ClassID != nil && doc.ClassID != nil && *d.ClassID == *doc.ClassID {
			d.Content = doc.Content
			d.Metadata = doc.Metadata
			d.Embedding = doc.Embedding
			d.ClassName = doc.ClassName
			doc.ID = d.ID
			f.mu.Unlock()
			return doc, nil
		}
	}
	f.mu.Unlock()
	return f.Put(dbc, doc)
}

func (f *fakeDocRepo) ListByTenant(dbc dbctx.Context, tenantID uuid.UUID) ([]*types.SemanticDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.SemanticDocument
	for _, d := range f.docs {
		if d.TenantID == tenantID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeEmbedder returns canned vectors by exact input text and a shared
// default otherwise.
type fakeEmbedder struct {
	vectors    map[string][]float32
	defaultVec []float32
	err        error
}

func (f *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		if v, ok := f.vectors[in]; ok {
			out[i] = v
		} else if f.defaultVec != nil {
			out[i] = f.defaultVec
		} else {
			out[i] = []float32{1, 0, 0}
		}
	}
	return out, nil
}

// fakeGenerator scripts one streamed turn.
type fakeGenerator struct {
	deltas    []string
	toolCalls []types.ToolInvocation
	err       error
	// blockUntilCancel makes the stream hang after emitting deltas until the
	// caller's ctx is cancelled, then returns ctx.Err().
	blockUntilCancel bool
	// emitted closes once all deltas have been delivered.
	emitted chan struct{}

	gotSystem  string
	gotHistory []ChatTurnMessage
}

func (f *fakeGenerator) StreamChat(ctx context.Context, system string, history []ChatTurnMessage, tools []ToolDefinition, onDelta func(string)) (StreamResult, error) {
	f.gotSystem = system
	f.gotHistory = history
	var full string
	for _, d := range f.deltas {
		full += d
		if onDelta != nil {
			onDelta(d)
		}
	}
	if f.emitted != nil {
		close(f.emitted)
	}
	if f.blockUntilCancel {
		<-ctx.Done()
		return StreamResult{}, ctx.Err()
	}
	if f.err != nil {
		return StreamResult{}, f.err
	}
	return StreamResult{Text: full, ToolCalls: f.toolCalls}, nil
}

func (f *fakeGenerator) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("not scripted")
}

// fakeNotifier records everything a turn pushes to the side channel.
type fakeNotifier struct {
	mu        sync.Mutex
	searching int
	deltas    []string
	toolCalls []types.ToolInvocation
	doneMsg   *types.ChatMessage
	errMsg    string
	aborted   int
}

func (f *fakeNotifier) Searching(tenantID uuid.UUID, threadID, messageID uuid.UUID) {
	f.mu.Lock()
	f.searching++
	f.mu.Unlock()
}

func (f *fakeNotifier) MessageDelta(tenantID uuid.UUID, threadID, messageID uuid.UUID, delta string) {
	f.mu.Lock()
	f.deltas = append(f.deltas, delta)
	f.mu.Unlock()
}

func (f *fakeNotifier) ToolCall(tenantID uuid.UUID, threadID, messageID uuid.UUID, call types.ToolInvocation) {
	f.mu.Lock()
	f.toolCalls = append(f.toolCalls, call)
	f.mu.Unlock()
}

func (f *fakeNotifier) MessageDone(tenantID uuid.UUID, threadID uuid.UUID, msg *types.ChatMessage) {
	f.mu.Lock()
	f.doneMsg = msg
	f.mu.Unlock()
}

func (f *fakeNotifier) MessageError(tenantID uuid.UUID, threadID, messageID uuid.UUID, errMsg string) {
	f.mu.Lock()
	f.errMsg = errMsg
	f.mu.Unlock()
}

func (f *fakeNotifier) Aborted(tenantID uuid.UUID, threadID, messageID uuid.UUID) {
	f.mu.Lock()
	f.aborted++
	f.mu.Unlock()
}

func (f *fakeNotifier) LessonPlanReady(tenantID uuid.UUID, plan *types.LessonPlan) {}

func (f *fakeNotifier) joinedDeltas() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out string
	for _, d := range f.deltas {
		out += d
	}
	return out
}

type fakeThreadRepo struct {
	mu      sync.Mutex
	threads map[uuid.UUID]*types.ChatThread
}

func newFakeThreadRepo() *fakeThreadRepo {
	return &fakeThreadRepo{threads: map[uuid.UUID]*types.ChatThread{}}
}

func (f *fakeThreadRepo) Create(dbc dbctx.Context, rows []*types.ChatThread) ([]*types.ChatThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, th := range rows {
		if th.ID == uuid.Nil {
			th.ID = uuid.New()
		}
		cp := *th
		f.threads[th.ID] = &cp
	}
	return rows, nil
}

func (f *fakeThreadRepo) GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*types.ChatThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	th, ok := f.threads[id]
	if !ok || th.TenantID != tenantID {
		return nil, nil
	}
	cp := *th
	return &cp, nil
}

func (f *fakeThreadRepo) ListByTenant(dbc dbctx.Context, tenantID uuid.UUID, limit int) ([]*types.ChatThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ChatThread
	for _, th := range f.threads {
		if th.TenantID == tenantID {
			cp := *th
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (f *fakeThreadRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	th, ok := f.threads[id]
	if !ok {
		return fmt.Errorf("thread not found")
	}
	if v, ok := updates["title"].(string); ok {
		th.Title = v
	}
	if v, ok := updates["last_message_at"].(time.Time); ok {
		th.LastMessageAt = v
	}
	return nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*types.ChatMessage
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: map[uuid.UUID]*types.ChatMessage{}}
}

func (f *fakeMessageRepo) Create(dbc dbctx.Context, rows []*types.ChatMessage) ([]*types.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range rows {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		cp := *m
		f.messages[m.ID] = &cp
	}
	return rows, nil
}

func (f *fakeMessageRepo) GetMaxSeq(dbc dbctx.Context, threadID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max int64
	for _, m := range f.messages {
		if m.ThreadID == threadID && m.Seq > max {
			max = m.Seq
		}
	}
	return max, nil
}

func (f *fakeMessageRepo) ListByThread(dbc dbctx.Context, threadID uuid.UUID, limit int) ([]*types.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ChatMessage
	for _, m := range f.messages {
		if m.ThreadID == threadID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (f *fakeMessageRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return fmt.Errorf("message not found")
	}
	if v, ok := updates["status"].(string); ok {
		m.Status = v
	}
	if v, ok := updates["content"].(string); ok {
		m.Content = v
	}
	if v, ok := updates["tool_calls"]; ok {
		if raw, ok := v.(datatypes.JSON); ok {
			m.ToolCalls = raw
		}
	}
	return nil
}

func (f *fakeMessageRepo) get(id uuid.UUID) *types.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

type fakeLessonPlans struct {
	mu       sync.Mutex
	requests []LessonPlanRequest
	called   chan struct{}
}

func (f *fakeLessonPlans) Generate(ctx context.Context, tenantID uuid.UUID, req LessonPlanRequest) (*types.LessonPlan, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.called != nil {
		f.called <- struct{}{}
	}
	return &types.LessonPlan{ID: uuid.New(), TenantID: tenantID, ClassID: req.ClassID}, nil
}

func (f *fakeLessonPlans) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*types.LessonPlan, error) {
	return nil, nil
}

func (f *fakeLessonPlans) ListByClass(ctx context.Context, tenantID, classID uuid.UUID, limit int) ([]*types.LessonPlan, error) {
	return nil, nil
}
