package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/calvin-seamons/shadowscribe/internal/config"
	"github.com/calvin-seamons/shadowscribe/internal/domain"
	"github.com/calvin-seamons/shadowscribe/internal/identity"
	"github.com/calvin-seamons/shadowscribe/internal/knowledge"
	"github.com/calvin-seamons/shadowscribe/internal/pipeline"
)

type fakeRunner struct {
	result *pipeline.Result
	err    error
	events []domain.ProgressEvent
	tokens []string
	got    domain.Query
}

func (f *fakeRunner) Run(ctx context.Context, query domain.Query, emit pipeline.EventSink, onToken func(string)) (*pipeline.Result, error) {
	f.got = query
	if f.err != nil {
		return nil, f.err
	}
	for _, e := range f.events {
		if emit != nil {
			emit(e)
		}
	}
	for _, tok := range f.tokens {
		if onToken != nil {
			onToken(tok)
		}
	}
	return f.result, nil
}

type fakeRepo struct {
	records     map[string]*domain.RoutingRecord
	feedbackErr error
	feedback    map[string]domain.Feedback
	stats       domain.RecordStats
	pingErr     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		records:  make(map[string]*domain.RoutingRecord),
		feedback: make(map[string]domain.Feedback),
	}
}

func (f *fakeRepo) Create(ctx context.Context, record *domain.RoutingRecord) error {
	f.records[record.ID] = record
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*domain.RoutingRecord, error) {
	r, ok := f.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return r, nil
}

func (f *fakeRepo) UpdateFeedback(ctx context.Context, id string, fb domain.Feedback) error {
	if f.feedbackErr != nil {
		return f.feedbackErr
	}
	if _, ok := f.records[id]; !ok {
		return domain.ErrRecordNotFound
	}
	if _, ok := f.feedback[id]; ok {
		return domain.ErrFeedbackAlreadyRecorded
	}
	f.feedback[id] = fb
	return nil
}

func (f *fakeRepo) ListRecent(ctx context.Context, limit int) ([]*domain.RoutingRecord, error) {
	var out []*domain.RoutingRecord
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRepo) ListPendingReview(ctx context.Context, limit int) ([]*domain.RoutingRecord, error) {
	return nil, nil
}

func (f *fakeRepo) Stats(ctx context.Context) (*domain.RecordStats, error) {
	return &f.stats, nil
}

func (f *fakeRepo) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeRepo) Close() error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute},
	}
}

func testSource() knowledge.Source {
	return knowledge.NewLibrary(&knowledge.LibraryData{
		Sections: []knowledge.RulebookSection{{ID: "a", Title: "A"}},
	})
}

func newTestHandler(runner QueryRunner, repo *fakeRepo) *Handler {
	return NewHandler(runner, repo, testSource(), testConfig())
}

// withIdentity wraps a handler in the identity middleware so request
// contexts carry a user ID the way they do in production.
func withIdentity(h http.HandlerFunc) http.Handler {
	return identity.Middleware(true)(h)
}

func decodeSSE(t *testing.T, body string) []domain.Message {
	t.Helper()
	var messages []domain.Message
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg domain.Message
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
			t.Fatalf("bad SSE data line %q: %v", line, err)
		}
		messages = append(messages, msg)
	}
	return messages
}

func TestHandleQueryStreamsEnvelopes(t *testing.T) {
	runner := &fakeRunner{
		result: &pipeline.Result{Answer: "the answer", RecordID: "rec-1", Degraded: []domain.PartitionID{domain.PartitionHistory}},
		events: []domain.ProgressEvent{
			{Pass: 1, Status: domain.StatusStarting, Message: "starting"},
			{Pass: 1, Status: domain.StatusComplete, Message: "done"},
		},
		tokens: []string{"the ", "answer"},
	}
	h := newTestHandler(runner, newFakeRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query": "How does grappling work?"}`))
	req.Header.Set(identity.SessionHeaderName, "tab-1")
	rec := httptest.NewRecorder()
	withIdentity(h.HandleQuery).ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	messages := decodeSSE(t, rec.Body.String())
	if len(messages) < 5 {
		t.Fatalf("messages = %d, want ack + 2 progress + 2 chunks + final", len(messages))
	}
	if messages[0].Type != domain.MessageAcknowledgment {
		t.Errorf("first message type = %s", messages[0].Type)
	}
	if messages[0].SessionIdentity != "tab-1" {
		t.Errorf("session identity = %q", messages[0].SessionIdentity)
	}

	last := messages[len(messages)-1]
	if last.Type != domain.MessageResponse {
		t.Fatalf("last message type = %s", last.Type)
	}
	payload, _ := json.Marshal(last.Payload)
	var final domain.ResponsePayload
	if err := json.Unmarshal(payload, &final); err != nil {
		t.Fatal(err)
	}
	if !final.Done || final.Answer != "the answer" || final.RecordID != "rec-1" {
		t.Errorf("final payload = %+v", final)
	}
	if len(final.Degraded) != 1 || final.Degraded[0] != domain.PartitionHistory {
		t.Errorf("degraded = %v", final.Degraded)
	}

	if runner.got.Text != "How does grappling work?" || runner.got.SessionID != "tab-1" {
		t.Errorf("runner query = %+v", runner.got)
	}
}

func TestHandleQueryPipelineErrorEndsStream(t *testing.T) {
	runner := &fakeRunner{err: &domain.PassError{Pass: 3, Err: domain.ErrRetrievalTotalFailure}}
	h := newTestHandler(runner, newFakeRepo())

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query": "q"}`))
	rec := httptest.NewRecorder()
	withIdentity(h.HandleQuery).ServeHTTP(rec, req)

	messages := decodeSSE(t, rec.Body.String())
	last := messages[len(messages)-1]
	if last.Type != domain.MessageError {
		t.Fatalf("last message type = %s, want error", last.Type)
	}
	payload, _ := json.Marshal(last.Payload)
	var errPayload domain.ErrorPayload
	if err := json.Unmarshal(payload, &errPayload); err != nil {
		t.Fatal(err)
	}
	if errPayload.Pass != 3 {
		t.Errorf("error pass = %d, want 3", errPayload.Pass)
	}
}

func TestHandleQueryValidation(t *testing.T) {
	h := newTestHandler(&fakeRunner{result: &pipeline.Result{}}, newFakeRepo())

	for name, body := range map[string]string{
		"empty query": `{"query": "   "}`,
		"bad json":    `{`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
		rec := httptest.NewRecorder()
		withIdentity(h.HandleQuery).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func TestHandleQueryRateLimit(t *testing.T) {
	h := NewHandler(&fakeRunner{result: &pipeline.Result{}}, newFakeRepo(), testSource(), &config.Config{
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute},
	})

	cookie := &http.Cookie{Name: identity.AnonCookieName, Value: "anon_0123456789abcdef0123456789abcdef"}
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query": "q"}`))
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		withIdentity(h.HandleQuery).ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("request %d: status = %d, want %d", i, rec.Code, want)
		}
	}
}

func TestHandleFeedback(t *testing.T) {
	repo := newFakeRepo()
	repo.records["rec-1"] = &domain.RoutingRecord{ID: "rec-1"}
	h := newTestHandler(&fakeRunner{}, repo)

	body := `{"record_id": "rec-1", "is_correct": false, "corrected": [{"tool": "session_history", "intention": "event_recall", "confidence": 1}], "notes": "wrong source"}`
	req := httptest.NewRequest(http.MethodPost, "/api/feedback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleFeedback(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	fb, ok := repo.feedback["rec-1"]
	if !ok || fb.IsCorrect || len(fb.Corrected) != 1 {
		t.Errorf("stored feedback = %+v", fb)
	}

	// Second verdict must conflict.
	req = httptest.NewRequest(http.MethodPost, "/api/feedback", strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.HandleFeedback(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("second feedback status = %d, want 409", rec.Code)
	}
}

func TestHandleFeedbackValidation(t *testing.T) {
	h := newTestHandler(&fakeRunner{}, newFakeRepo())

	for name, tc := range map[string]struct {
		body string
		want int
	}{
		"missing record id":          {`{"is_correct": true}`, http.StatusBadRequest},
		"incorrect needs correction": {`{"record_id": "r", "is_correct": false}`, http.StatusBadRequest},
		"unknown record":             {`{"record_id": "nope", "is_correct": true}`, http.StatusNotFound},
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/feedback", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		h.HandleFeedback(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", name, rec.Code, tc.want)
		}
	}
}

func TestHandleCatalog(t *testing.T) {
	h := newTestHandler(&fakeRunner{}, newFakeRepo())

	req := httptest.NewRequest(http.MethodGet, "/api/catalog", nil)
	rec := httptest.NewRecorder()
	h.HandleCatalog(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Catalog []pipeline.CatalogEntry `json:"catalog"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Catalog) != 1 || resp.Catalog[0].Partition != domain.PartitionRulebook {
		t.Errorf("catalog = %+v", resp.Catalog)
	}
	if len(resp.Catalog[0].Intentions) == 0 {
		t.Error("catalog entry has no intentions")
	}
}

func TestHandleHealth(t *testing.T) {
	repo := newFakeRepo()
	h := newTestHandler(&fakeRunner{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}

	repo.pingErr = errors.New("db gone")
	rec = httptest.NewRecorder()
	h.HandleHealth(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status with dead db = %d, want 503", rec.Code)
	}
}

func TestHandleRecordStats(t *testing.T) {
	repo := newFakeRepo()
	repo.stats = domain.RecordStats{Total: 5, Reviewed: 2, PendingReview: 3, Correct: 1, Incorrect: 1}
	h := newTestHandler(&fakeRunner{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/records/stats", nil)
	rec := httptest.NewRecorder()
	h.HandleRecordStats(rec, req)

	var stats domain.RecordStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 5 || stats.PendingReview != 3 {
		t.Errorf("stats = %+v", stats)
	}
}
