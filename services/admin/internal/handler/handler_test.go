package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"digitaltwin/common/audit"
	"digitaltwin/common/cache"
	"digitaltwin/common/cache/memory"
	"digitaltwin/common/dlq"
	"digitaltwin/common/learning"
	"digitaltwin/common/models"
	"digitaltwin/common/queue"
	"digitaltwin/common/registry"
	"digitaltwin/common/store"
	"digitaltwin/common/whatsapp"
	"digitaltwin/services/admin/internal/auth"
	"digitaltwin/services/admin/internal/handler"
	"digitaltwin/services/admin/internal/routes"
	"digitaltwin/services/admin/internal/server"
	"digitaltwin/services/admin/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

const (
	testSecret    = "test-secret"
	webhookSecret = "bridge-secret"
)

type fakeOrchestrator struct {
	status    models.OrchestratorStatus
	err       error
	triggered int
}

func (f *fakeOrchestrator) Status(context.Context) (models.OrchestratorStatus, error) {
	return f.status, f.err
}

func (f *fakeOrchestrator) Trigger(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.triggered++
	return nil
}

type fixture struct {
	engine   *gin.Engine
	orch     *fakeOrchestrator
	sources  *registry.Service
	calls    *store.MemoryCastingCallRepository
	audit    *audit.MemoryLog
	broker   *queue.Memory
	dlq      *dlq.MemoryStore
	tokens   *auth.Service
	adminJWT string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	f := &fixture{
		orch:    &fakeOrchestrator{},
		sources: registry.NewService(store.NewMemorySourceRepository(), logger),
		calls:   store.NewMemoryCastingCallRepository(),
		audit:   audit.NewMemoryLog(),
		broker:  queue.NewMemory(),
		dlq:     dlq.NewMemoryStore(),
		tokens:  auth.NewService(testSecret, time.Hour),
	}
	learn := learning.NewStore(memory.New(cache.DefaultOptions()), time.Hour)
	flow := workflow.NewService(f.calls, f.audit, f.broker, learn, workflow.Options{}, logger)

	h := routes.Handlers{
		Status:     handler.NewStatusHandler(f.orch, f.sources, f.calls, f.broker, f.dlq, logger),
		Validation: handler.NewValidationHandler(flow, f.audit, logger),
		Sources:    handler.NewSourcesHandler(f.sources, logger),
		DLQ:        handler.NewDLQHandler(f.dlq, logger),
		Webhook:    handler.NewWebhookHandler(webhookSecret, f.sources, f.broker, logger),
	}
	mw := auth.NewMiddleware(f.tokens, []string{"admin"}, handler.WriteError)
	f.engine = server.NewServer(h, mw, logger)

	token, err := f.tokens.GenerateAccessToken("reviewer-1", "admin")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	f.adminJWT = token
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) pending(t *testing.T) models.CastingCall {
	t.Helper()
	hash := uuid.NewString()
	c := models.CastingCall{
		ID:           uuid.New(),
		Title:        "Lead Actor",
		Company:      "MBC",
		Location:     "Riyadh",
		Status:       models.StatusPendingReview,
		ContentHash:  &hash,
		IsAggregated: true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	f.calls.Put(c)
	return c
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	return body.Error.Code
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	call := f.pending(t)

	rec := f.do(t, http.MethodPost, "/api/v1/validation/"+call.ID.String()+"/approve", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/validation/"+call.ID.String()+"/approve", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", rec.Code)
	}

	viewer, err := f.tokens.GenerateAccessToken("viewer-1", "viewer")
	if err != nil {
		t.Fatal(err)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/validation/"+call.ID.String()+"/approve", viewer, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer: status = %d", rec.Code)
	}

	got, _ := f.calls.Get(context.Background(), call.ID)
	if got.Status != models.StatusPendingReview {
		t.Fatalf("status changed to %s without authorization", got.Status)
	}

	if _, err := f.sources.Create(context.Background(), registry.CreateRequest{
		SourceType:       models.SourceTypeWhatsApp,
		SourceIdentifier: "private-group@g.us",
		SourceName:       "Private Group",
	}); err != nil {
		t.Fatal(err)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/sources", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous source list: status = %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("private-group@g.us")) {
		t.Fatal("source identifiers leaked to an anonymous caller")
	}
	rec = f.do(t, http.MethodGet, "/api/v1/sources", viewer, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer source list: status = %d", rec.Code)
	}
	if n := len(f.audit.Events()); n != 0 {
		t.Fatalf("audit events = %d, want 0", n)
	}
}

func TestApproveFlow(t *testing.T) {
	f := newFixture(t)
	call := f.pending(t)

	rec := f.do(t, http.MethodPost, "/api/v1/validation/"+call.ID.String()+"/approve", f.adminJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status = %d body = %s", rec.Code, rec.Body.String())
	}
	var approved models.CastingCall
	decode(t, rec, &approved)
	if !approved.Status.Published() {
		t.Fatalf("status = %s, want published", approved.Status)
	}

	events := f.audit.Events()
	if len(events) != 1 || events[0].ActorID != "reviewer-1" {
		t.Fatalf("audit events = %+v", events)
	}
	if n := len(f.broker.Enqueued(queue.Index)); n != 1 {
		t.Fatalf("index jobs = %d, want 1", n)
	}

	// A second approve is a conflict.
	rec = f.do(t, http.MethodPost, "/api/v1/validation/"+call.ID.String()+"/approve", f.adminJWT, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second approve: status = %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "CONFLICT" {
		t.Fatalf("code = %q", code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/validation/"+call.ID.String()+"/history", f.adminJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: status = %d", rec.Code)
	}
	var history struct {
		Events []models.AuditEvent `json:"events"`
	}
	decode(t, rec, &history)
	if len(history.Events) != 2 {
		t.Fatalf("history events = %d, want 2", len(history.Events))
	}
}

func TestRejectUnknownCallIsNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/validation/"+uuid.NewString()+"/reject", f.adminJWT, map[string]string{"reason": "spam"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if n := len(f.audit.Events()); n != 0 {
		t.Fatalf("audit events = %d, want 0", n)
	}
}

func TestRejectWithoutBody(t *testing.T) {
	f := newFixture(t)
	call := f.pending(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/validation/"+call.ID.String()+"/reject", nil)
	req.Header.Set("Authorization", "Bearer "+f.adminJWT)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	events := f.audit.Events()
	if len(events) != 1 || events[0].EventType != models.EventCastingCallRejected {
		t.Fatalf("audit events = %+v", events)
	}
}

func TestInvalidID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/validation/not-a-uuid/approve", f.adminJWT, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "VALIDATION" {
		t.Fatalf("code = %q", code)
	}
}

func TestEditIgnoresProtectedFields(t *testing.T) {
	f := newFixture(t)
	call := f.pending(t)

	body := map[string]interface{}{
		"title":       "Supporting Actor",
		"status":      "rejected",
		"contentHash": "forged",
	}
	rec := f.do(t, http.MethodPost, "/api/v1/validation/"+call.ID.String()+"/edit", f.adminJWT, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	got, _ := f.calls.Get(context.Background(), call.ID)
	if got.Title != "Supporting Actor" {
		t.Fatalf("title = %q", got.Title)
	}
	if !got.Status.Published() {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ContentHash == nil || *got.ContentHash != *call.ContentHash {
		t.Fatal("content hash changed")
	}

	rec = f.do(t, http.MethodPost, "/api/v1/validation/"+f.pending(t).ID.String()+"/edit", f.adminJWT, map[string]string{"status": "open"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty patch: status = %d", rec.Code)
	}
}

func TestValidationQueue(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.pending(t)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/validation-queue?page=1&limit=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var page workflow.Page
	decode(t, rec, &page)
	if len(page.Items) != 2 || page.Total != 3 {
		t.Fatalf("page = %d items of %d", len(page.Items), page.Total)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/validation-queue?limit=abc", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status = %d", rec.Code)
	}
}

func TestSourcesCRUD(t *testing.T) {
	f := newFixture(t)

	create := registry.CreateRequest{
		SourceType:       models.SourceTypeWeb,
		SourceIdentifier: "https://castings.example.com/jobs",
		SourceName:       "Example Castings",
	}
	rec := f.do(t, http.MethodPost, "/api/v1/sources", f.adminJWT, create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d body = %s", rec.Code, rec.Body.String())
	}
	var source models.IngestionSource
	decode(t, rec, &source)

	rec = f.do(t, http.MethodPost, "/api/v1/sources", f.adminJWT, create)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create: status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPatch, "/api/v1/sources/"+source.ID.String(), f.adminJWT, map[string]string{"sourceName": "Renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/v1/sources/"+source.ID.String(), f.adminJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/sources?active=true", f.adminJWT, nil)
	var list struct {
		Sources []models.IngestionSource `json:"sources"`
	}
	decode(t, rec, &list)
	if len(list.Sources) != 0 {
		t.Fatalf("active sources = %d, want 0", len(list.Sources))
	}

	rec = f.do(t, http.MethodGet, "/api/v1/sources", f.adminJWT, nil)
	decode(t, rec, &list)
	if len(list.Sources) != 1 || list.Sources[0].SourceName != "Renamed" || list.Sources[0].IsActive {
		t.Fatalf("sources = %+v", list.Sources)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.pending(t)
	if err := f.broker.Enqueue(context.Background(), queue.Extraction, &queue.Job{ID: "j1", Name: queue.JobExtractCapture}); err != nil {
		t.Fatal(err)
	}
	f.orch.status = models.OrchestratorStatus{IsRunning: true}
	for i := 0; i < 3; i++ {
		entry := &models.DeadLetter{ID: uuid.New(), Kind: models.KindFailedScrape, JobID: uuid.NewString(), Error: "boom", FailedAt: time.Now().UTC()}
		if err := f.dlq.Save(context.Background(), entry); err != nil {
			t.Fatal(err)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/v1/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		IsRunning bool              `json:"isRunning"`
		Calls     models.CallCounts `json:"calls"`
		Queues    struct {
			ScrapedRoles int `json:"scrapedRoles"`
			DLQ          int `json:"dlq"`
		} `json:"queues"`
	}
	decode(t, rec, &body)
	if !body.IsRunning || body.Calls.Pending != 1 || body.Queues.ScrapedRoles != 1 || body.Queues.DLQ != 3 {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestStatusWithOrchestratorDown(t *testing.T) {
	f := newFixture(t)
	f.orch.err = errors.New("no responders")

	rec := f.do(t, http.MethodGet, "/api/v1/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		IsRunning bool `json:"isRunning"`
	}
	decode(t, rec, &body)
	if body.IsRunning {
		t.Fatal("isRunning = true with orchestrator unreachable")
	}

	rec = f.do(t, http.MethodPost, "/api/v1/trigger", f.adminJWT, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("trigger: status = %d", rec.Code)
	}
}

func TestTrigger(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/trigger", f.adminJWT, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.orch.triggered != 1 {
		t.Fatalf("triggered = %d", f.orch.triggered)
	}
}

func TestDeadLetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, kind := range []models.DeadLetterKind{models.KindFailedScrape, models.KindFailedExtraction, models.KindFailedExtraction} {
		entry := &models.DeadLetter{ID: uuid.New(), Kind: kind, JobID: uuid.NewString(), Error: "boom", FailedAt: time.Now().UTC()}
		if err := f.dlq.Save(ctx, entry); err != nil {
			t.Fatal(err)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/v1/dlq?kind=failed-extraction", f.adminJWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	var list struct {
		Entries []models.DeadLetter `json:"entries"`
		Total   int                 `json:"total"`
	}
	decode(t, rec, &list)
	if len(list.Entries) != 2 || list.Total != 2 {
		t.Fatalf("entries = %d total = %d", len(list.Entries), list.Total)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/dlq?kind=bogus", f.adminJWT, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/v1/dlq?kind=failed-extraction", f.adminJWT, nil)
	var cleared struct {
		Cleared int `json:"cleared"`
	}
	decode(t, rec, &cleared)
	if cleared.Cleared != 2 {
		t.Fatalf("cleared = %d", cleared.Cleared)
	}
	if n, _ := f.dlq.Count(ctx, ""); n != 1 {
		t.Fatalf("remaining = %d, want 1", n)
	}
}

func TestWhatsAppWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.sources.Create(ctx, registry.CreateRequest{
		SourceType:       models.SourceTypeWhatsApp,
		SourceIdentifier: "120363@g.us",
		SourceName:       "Riyadh Talent",
	})
	if err != nil {
		t.Fatal(err)
	}

	body := map[string]interface{}{
		"messages": []whatsapp.Message{
			{ID: "m1", ChatID: "120363@g.us", Text: "Casting Call: Lead Actor, Riyadh, MBC", Timestamp: time.Now().Unix()},
			{ID: "m2", ChatID: "120363@g.us", Text: "   "},
			{ID: "m3", ChatID: "unknown@g.us", Text: "hello"},
		},
	}

	post := func(secret string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(body)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", &buf)
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set(handler.WebhookSecretHeader, secret)
		}
		rec := httptest.NewRecorder()
		f.engine.ServeHTTP(rec, req)
		return rec
	}

	if rec := post("wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status = %d", rec.Code)
	}

	rec := post(webhookSecret)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Accepted int `json:"accepted"`
		Ignored  int `json:"ignored"`
	}
	decode(t, rec, &result)
	if result.Accepted != 1 || result.Ignored != 2 {
		t.Fatalf("result = %+v", result)
	}

	jobs := f.broker.Enqueued(queue.Extraction)
	if len(jobs) != 1 || jobs[0].Name != queue.JobExtractCapture {
		t.Fatalf("extraction jobs = %+v", jobs)
	}
	var capture models.RawCapture
	if err := jobs[0].Decode(&capture); err != nil {
		t.Fatal(err)
	}
	if capture.SourceID != group.ID || capture.SourceURL != whatsapp.MessageURL("120363@g.us", "m1") {
		t.Fatalf("capture = %+v", capture)
	}

	updated, _ := f.sources.Get(ctx, group.ID)
	if updated.LastProcessedAt == nil {
		t.Fatal("lastProcessedAt not set")
	}
}
