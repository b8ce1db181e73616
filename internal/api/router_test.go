package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/timmy/outreach/internal/api/handler"
	"github.com/timmy/outreach/internal/batch"
	"github.com/timmy/outreach/internal/collaborator"
	"github.com/timmy/outreach/internal/config"
	"github.com/timmy/outreach/internal/domain"
	"github.com/timmy/outreach/internal/logger"
	"github.com/timmy/outreach/internal/orchestrator"
	"github.com/timmy/outreach/internal/service"
	"github.com/timmy/outreach/internal/status"
)

type fakeUploads struct {
	got service.CreateUploadRequest
	err error
}

func (f *fakeUploads) CreateUpload(_ context.Context, req service.CreateUploadRequest) (*domain.Upload, []domain.Chunk, error) {
	f.got = req
	if f.err != nil {
		return nil, nil, f.err
	}
	up := &domain.Upload{ID: "u1", TotalItems: len(req.Targets), TotalChunks: 1, OverallStatus: status.Pending}
	return up, []domain.Chunk{{ID: "c1", UploadID: "u1", ChunkNumber: 1, ItemCount: len(req.Targets)}}, nil
}

func (f *fakeUploads) Snapshot(_ context.Context, uploadID string) (*service.Snapshot, error) {
	if uploadID != "u1" {
		return nil, service.ErrUploadNotFound
	}
	return &service.Snapshot{Upload: &domain.Upload{ID: "u1"}, Current: 3, Total: 4, Progress: 75, Status: "processing"}, nil
}

type fakeChunks struct {
	calls []string
	err   error
}

func (f *fakeChunks) record(op, id string) error {
	f.calls = append(f.calls, op+":"+id)
	return f.err
}

func (f *fakeChunks) Start(_ context.Context, id string) error  { return f.record("start", id) }
func (f *fakeChunks) Pause(_ context.Context, id string) error  { return f.record("pause", id) }
func (f *fakeChunks) Resume(_ context.Context, id string) error { return f.record("resume", id) }
func (f *fakeChunks) Stop(_ context.Context, id string) error   { return f.record("stop", id) }
func (f *fakeChunks) Delete(_ context.Context, id string) error { return f.record("delete", id) }

type fakeRecorder struct {
	itemID string
	phase  domain.Phase
	raw    string
	errMsg string
	err    error
}

func (f *fakeRecorder) RecordPhaseResult(_ context.Context, itemID string, phase domain.Phase, raw, errMsg string) error {
	f.itemID, f.phase, f.raw, f.errMsg = itemID, phase, raw, errMsg
	return f.err
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("connection refused") }

type testEnv struct {
	uploads  *fakeUploads
	chunks   *fakeChunks
	recorder *fakeRecorder
	deps     Deps
}

func newTestEnv() *testEnv {
	env := &testEnv{uploads: &fakeUploads{}, chunks: &fakeChunks{}, recorder: &fakeRecorder{}}
	env.deps = Deps{
		Uploads: env.uploads,
		Chunks:  env.chunks,
		Items:   env.recorder,
		Logger:  logger.Discard(),
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	r := SetupRouter(e.deps, config.ServerConfig{Mode: "test", CORS: config.CORSConfig{AllowAllOrigins: true}})

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestCreateUpload(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
	}{
		{name: "planned", body: `{"owner":"ops","targets":["https://a.example","https://b.example"],"chunk_size":1}`, wantCode: http.StatusCreated},
		{name: "missing targets", body: `{"owner":"ops"}`, wantCode: http.StatusBadRequest},
		{name: "malformed", body: `{"targets":`, wantCode: http.StatusBadRequest},
		{
			name:     "planner rejects chunk size",
			body:     `{"targets":["https://a.example"],"chunk_size":-5}`,
			err:      &batch.ValidationError{Field: "chunk_size", Value: -5},
			wantCode: http.StatusBadRequest,
		},
		{name: "store failure", body: `{"targets":["https://a.example"]}`, err: errors.New("disk full"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.uploads.err = tt.err

			w := env.do(t, http.MethodPost, "/api/v1/uploads", tt.body, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCode != http.StatusCreated {
				if _, ok := decode(t, w)["error"]; !ok {
					t.Errorf("error body missing: %s", w.Body.String())
				}
				return
			}
			if env.uploads.got.ChunkSize != 1 || len(env.uploads.got.Targets) != 2 || env.uploads.got.Owner != "ops" {
				t.Errorf("service got %+v", env.uploads.got)
			}
		})
	}
}

func TestGetUploadSnapshot(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet, "/api/v1/uploads/u1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d (%s)", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["progress"] != float64(75) || body["status"] != "processing" {
		t.Errorf("snapshot = %v", body)
	}

	w = env.do(t, http.MethodGet, "/api/v1/uploads/missing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing upload code = %d", w.Code)
	}
}

func TestChunkControl(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		err      error
		wantCode int
		wantCall string
	}{
		{name: "start", method: http.MethodPost, path: "/api/v1/chunks/c1/start", wantCode: http.StatusAccepted, wantCall: "start:c1"},
		{name: "pause", method: http.MethodPost, path: "/api/v1/chunks/c1/pause", wantCode: http.StatusAccepted, wantCall: "pause:c1"},
		{name: "resume", method: http.MethodPost, path: "/api/v1/chunks/c1/resume", wantCode: http.StatusAccepted, wantCall: "resume:c1"},
		{name: "stop", method: http.MethodPost, path: "/api/v1/chunks/c1/stop", wantCode: http.StatusAccepted, wantCall: "stop:c1"},
		{name: "delete", method: http.MethodDelete, path: "/api/v1/chunks/c1", wantCode: http.StatusAccepted, wantCall: "delete:c1"},
		{
			name:     "invalid transition",
			method:   http.MethodPost,
			path:     "/api/v1/chunks/c1/resume",
			err:      &orchestrator.StateTransitionError{ChunkID: "c1", Op: "resume", From: domain.ChunkStatePending},
			wantCode: http.StatusConflict,
			wantCall: "resume:c1",
		},
		{name: "unknown chunk", method: http.MethodPost, path: "/api/v1/chunks/zz/start", err: orchestrator.ErrChunkNotFound, wantCode: http.StatusNotFound, wantCall: "start:zz"},
		{
			name:     "collaborator down",
			method:   http.MethodPost,
			path:     "/api/v1/chunks/c1/start",
			err:      &collaborator.Error{Kind: collaborator.KindUnreachable, Phase: domain.PhaseExtraction, Message: "connection refused"},
			wantCode: http.StatusBadGateway,
			wantCall: "start:c1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.chunks.err = tt.err

			w := env.do(t, tt.method, tt.path, "", nil)
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if len(env.chunks.calls) != 1 || env.chunks.calls[0] != tt.wantCall {
				t.Errorf("calls = %v, want [%s]", env.chunks.calls, tt.wantCall)
			}
			body := decode(t, w)
			if tt.err == nil && body["accepted"] != true {
				t.Errorf("body = %v", body)
			}
			if tt.err != nil && body["error"] != tt.err.Error() {
				t.Errorf("error = %v, want %q", body["error"], tt.err.Error())
			}
		})
	}
}

func TestPhaseCallback(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodPost, "/api/v1/items/i7/phases/generation", `{"status":"GENERATION_FAILED","error":"quota"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("code = %d (%s)", w.Code, w.Body.String())
	}
	got := env.recorder
	if got.itemID != "i7" || got.phase != domain.PhaseGeneration || got.raw != "GENERATION_FAILED" || got.errMsg != "quota" {
		t.Errorf("recorded %+v", got)
	}

	w = env.do(t, http.MethodPost, "/api/v1/items/i7/phases/translation", `{"status":"done"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown phase code = %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/items/i7/phases/submission", `{}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing status code = %d", w.Code)
	}

	env.recorder.err = orchestrator.ErrItemNotFound
	w = env.do(t, http.MethodPost, "/api/v1/items/nope/phases/submission", `{"status":"submitted"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown item code = %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "ok" {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}

	env.deps.Health = handler.NewHealthHandler(failingPinger{}, nil)
	w = env.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded health code = %d", w.Code)
	}
}

func TestRequestIDAndCORS(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet, "/health", "", map[string]string{"X-Request-ID": "req-42"})
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}

	w = env.do(t, http.MethodGet, "/health", "", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}

	w = env.do(t, http.MethodOptions, "/api/v1/uploads", "", map[string]string{"Origin": "https://console.example"})
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight code = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
