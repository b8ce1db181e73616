package collaborator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/timmy/outreach/internal/config"
	"github.com/timmy/outreach/internal/domain"
)

func testItem() *domain.Item {
	return &domain.Item{ID: "i1", UploadID: "u1", ChunkID: "c1", TargetURL: "https://example.com"}
}

func TestHTTPProcessorSuccess(t *testing.T) {
	var got processRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/extract" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"SCRAPING_COMPLETED"}`))
	}))
	defer srv.Close()

	p := NewHTTPProcessor(domain.PhaseExtraction, config.CollaboratorConfig{
		BaseURL: srv.URL + "/",
		Path:    "/v1/extract",
		APIKey:  "secret",
	}, time.Second)

	res, err := p.Process(context.Background(), testItem())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.RawStatus != "SCRAPING_COMPLETED" {
		t.Errorf("raw status = %q", res.RawStatus)
	}
	if got.ItemID != "i1" || got.Phase != "extraction" || got.TargetURL != "https://example.com" {
		t.Errorf("unexpected request body: %+v", got)
	}
}

func TestHTTPProcessorClassifiesFailures(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
		want Kind
	}{
		{"server error", http.StatusBadGateway, `{"error":"upstream"}`, KindTransient},
		{"rate limited", http.StatusTooManyRequests, `{}`, KindTransient},
		{"bad request", http.StatusBadRequest, `{"error":"no form found"}`, KindRejected},
		{"not found", http.StatusNotFound, `not here`, KindRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasPrefix(tt.body, "{") {
					w.Header().Set("Content-Type", "application/json")
				}
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewHTTPProcessor(domain.PhaseSubmission, config.CollaboratorConfig{BaseURL: srv.URL}, time.Second)
			_, err := p.Process(context.Background(), testItem())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf = %s, want %s (%v)", got, tt.want, err)
			}
		})
	}
}

func TestHTTPProcessorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewHTTPProcessor(domain.PhaseGeneration, config.CollaboratorConfig{BaseURL: url}, time.Second)
	_, err := p.Process(context.Background(), testItem())
	if !IsUnreachable(err) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}

func TestHTTPProcessorTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewHTTPProcessor(domain.PhaseExtraction, config.CollaboratorConfig{BaseURL: srv.URL}, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Process(ctx, testItem())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if KindOf(err) != KindTransient {
		t.Errorf("KindOf = %s, want transient", KindOf(err))
	}
}

func TestErrorHelpers(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: KindRejected, Phase: domain.PhaseSubmission, Message: "no form", Cause: cause}

	if err.Retryable() {
		t.Error("rejected errors must not be retryable")
	}
	if !errors.Is(err, cause) {
		t.Error("expected Unwrap to expose cause")
	}
	if KindOf(errors.New("plain")) != KindTransient {
		t.Error("plain errors should classify as transient")
	}
	if IsUnreachable(nil) {
		t.Error("nil is not unreachable")
	}
}
