package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/solai17/bytefeed/internal/db"
	"github.com/solai17/bytefeed/internal/engage"
	"github.com/solai17/bytefeed/internal/feed"
	"github.com/solai17/bytefeed/internal/ingest"
	"github.com/solai17/bytefeed/internal/queue"
)

type fakeIngestor struct {
	result  ingest.Result
	lastReq ingest.Request
}

func (f *fakeIngestor) IngestDocument(_ context.Context, req ingest.Request) (ingest.Result, error) {
	f.lastReq = req
	return f.result, nil
}

type fakeQueueDriver struct {
	stats db.QueueStats
}

func (f *fakeQueueDriver) ProcessBatch(_ context.Context) (queue.BatchReport, error) {
	return queue.BatchReport{Fetched: 2, Completed: 2}, nil
}

func (f *fakeQueueDriver) Stats(_ context.Context) (db.QueueStats, error) {
	return f.stats, nil
}

func (f *fakeQueueDriver) ResetFailed(_ context.Context) (int64, error) {
	return 3, nil
}

type fakeFeedProvider struct {
	page feed.Page
}

func (f *fakeFeedProvider) Page(_ context.Context, _ string, _ feed.Mode, _ int, cursor string) (feed.Page, error) {
	if cursor == "bogus" {
		return feed.Page{}, feed.ErrBadCursor
	}
	return f.page, nil
}

func (f *fakeFeedProvider) Next(_ context.Context, _ string) (feed.NextItem, error) {
	if len(f.page.Items) == 0 {
		return feed.NextItem{}, nil
	}
	return feed.NextItem{Item: &f.page.Items[0], QueueSize: int64(len(f.page.Items))}, nil
}

type fakeEngager struct {
	knownByte  string
	saved      bool
	viewedRead bool
}

func (f *fakeEngager) Vote(_ context.Context, _, byteUUID string, value int) (engage.VoteResult, error) {
	if value < -1 || value > 1 {
		return engage.VoteResult{}, engage.ErrInvalidVote
	}
	if byteUUID != f.knownByte {
		return engage.VoteResult{}, engage.ErrByteNotFound
	}
	result := engage.VoteResult{Vote: value}
	if value == 1 {
		result.Upvotes = 1
	}
	return result, nil
}

func (f *fakeEngager) View(_ context.Context, _, byteUUID string, _ int64, markRead bool) error {
	if byteUUID != f.knownByte {
		return engage.ErrByteNotFound
	}
	f.viewedRead = markRead
	return nil
}

func (f *fakeEngager) ToggleSave(_ context.Context, _, byteUUID string) (bool, error) {
	if byteUUID != f.knownByte {
		return false, engage.ErrByteNotFound
	}
	f.saved = !f.saved
	return f.saved, nil
}

func newTestServer(t *testing.T) (*Server, *fakeIngestor, *fakeEngager) {
	t.Helper()
	ingestor := &fakeIngestor{result: ingest.Result{EditionUUID: "e-1", SourceUUID: "s-1", SourceName: "Habit Weekly"}}
	engager := &fakeEngager{knownByte: "byte-1"}
	server := NewServer(ingestor, &fakeQueueDriver{stats: db.QueueStats{Pending: 1, Total: 1}}, &fakeFeedProvider{}, engager, zerolog.Nop(), Options{})
	return server, ingestor, engager
}

func doRequest(server *Server, method, target, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	rec := httptest.NewRecorder()
	server.buildEcho().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var resp envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v: %s", err, rec.Body.String())
	}
	return resp
}

const validDocument = `{
	"payload_version": "v1",
	"sender_identity": "news@habitweekly.example",
	"subject": "The habit loop",
	"body_text": "Most behavior change fails because the cue stays."
}`

func TestHandleIngestDocument(t *testing.T) {
	t.Parallel()

	server, ingestor, _ := newTestServer(t)
	rec := doRequest(server, http.MethodPost, "/api/v1/documents", "user-1", validDocument)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeEnvelope(t, rec); resp.Status != "success" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if ingestor.lastReq.UserID != "user-1" {
		t.Fatalf("caller identity must flow into the request, got %q", ingestor.lastReq.UserID)
	}
	if ingestor.lastReq.Subject != "The habit loop" {
		t.Fatalf("unexpected subject: %q", ingestor.lastReq.Subject)
	}
}

func TestHandleIngestDocument_Duplicate(t *testing.T) {
	t.Parallel()

	server, ingestor, _ := newTestServer(t)
	ingestor.result.IsDuplicate = true

	rec := doRequest(server, http.MethodPost, "/api/v1/documents", "", validDocument)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicates are 200, got %d", rec.Code)
	}
}

func TestHandleIngestDocument_InvalidPayload(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := doRequest(server, http.MethodPost, "/api/v1/documents", "", `{"payload_version": "v1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeEnvelope(t, rec); resp.Status != "fail" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
}

func TestHandleFeedPage_RequiresUser(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := doRequest(server, http.MethodGet, "/api/v1/feed", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user, got %d", rec.Code)
	}

	rec = doRequest(server, http.MethodGet, "/api/v1/feed", "user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with user, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleFeedPage_UnknownMode(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := doRequest(server, http.MethodGet, "/api/v1/feed?mode=spicy", "user-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleFeedPage_BadCursor(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := doRequest(server, http.MethodGet, "/api/v1/feed?cursor=bogus", "user-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeEnvelope(t, rec); resp.Status != "fail" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
}

func TestHandleVote(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	rec := doRequest(server, http.MethodPost, "/api/v1/bytes/byte-1/vote", "user-1", `{"value": 1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(server, http.MethodPost, "/api/v1/bytes/missing/vote", "user-1", `{"value": 1}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown byte must 404, got %d", rec.Code)
	}

	rec = doRequest(server, http.MethodPost, "/api/v1/bytes/byte-1/vote", "user-1", `{"value": 5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid vote must 400, got %d", rec.Code)
	}
}

func TestHandleView(t *testing.T) {
	t.Parallel()

	server, _, engager := newTestServer(t)
	rec := doRequest(server, http.MethodPost, "/api/v1/bytes/byte-1/view", "user-1", `{"dwell_time_ms": 1200}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !engager.viewedRead {
		t.Fatalf("omitted is_read must default to read")
	}

	rec = doRequest(server, http.MethodPost, "/api/v1/bytes/byte-1/view", "user-1", `{"dwell_time_ms": 300, "is_read": false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if engager.viewedRead {
		t.Fatalf("is_read false must pass through")
	}
}

func TestHandleToggleSave(t *testing.T) {
	t.Parallel()

	server, _, engager := newTestServer(t)

	rec := doRequest(server, http.MethodPost, "/api/v1/bytes/byte-1/save", "user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !engager.saved {
		t.Fatalf("save must toggle on")
	}
}

func TestHandleQueueEndpoints(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)

	rec := doRequest(server, http.MethodGet, "/api/v1/queue/stats", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rec.Code)
	}

	rec = doRequest(server, http.MethodPost, "/api/v1/queue/process", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("process: expected 200, got %d", rec.Code)
	}

	rec = doRequest(server, http.MethodPost, "/api/v1/queue/reset-failed", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset-failed: expected 200, got %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := doRequest(server, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
