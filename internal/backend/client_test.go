package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toricodesthings/document-ingestion-service/internal/extract"
	"github.com/toricodesthings/document-ingestion-service/internal/ingest"
)

func newTestClient(url string) *Client {
	c := NewClient(Options{BaseURL: url + "/", Timeout: 5 * time.Second})
	c.retryDelay = time.Millisecond
	return c
}

func TestUploadDocumentSendsJSON(t *testing.T) {
	var got uploadRequest
	var auth, contentType, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var reports []int
	err := newTestClient(srv.URL).UploadDocument(context.Background(), "tok", "a.txt", "hello", func(p int) {
		mu.Lock()
		reports = append(reports, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if path != "/documents" || auth != "Bearer tok" || contentType != "application/json" {
		t.Fatalf("unexpected request %s auth=%q type=%q", path, auth, contentType)
	}
	if got.FileName != "a.txt" || got.Content != "hello" {
		t.Fatalf("unexpected body %+v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reports) == 0 || reports[len(reports)-1] != 100 {
		t.Fatalf("expected progress ending at 100, got %v", reports)
	}
}

func TestUploadDocumentSurfacesBackendMessage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Token expired"}`)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).UploadDocument(context.Background(), "old", "a.txt", "x", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || err.Error() != "Token expired" {
		t.Fatalf("unexpected error %d %q", apiErr.Status, err.Error())
	}
	if calls.Load() != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", calls.Load())
	}
}

func TestUploadDocumentRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).UploadDocument(context.Background(), "", "a.txt", "x", nil); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestUploadDocumentGivesUpAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "not json")
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).UploadDocument(context.Background(), "", "a.txt", "x", nil)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestTransportPrefersContextToken(t *testing.T) {
	var auth string
	var body uploadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	tr := NewTransport(newTestClient(srv.URL), "default")
	doc := ingest.Document{Name: "r.docx", Kind: extract.KindDocument, Raw: []byte("PK..."), Text: "Title\nBody"}

	if err := tr.Upload(context.Background(), doc, nil); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if auth != "Bearer default" || body.Content != "Title\nBody" {
		t.Fatalf("unexpected default upload auth=%q body=%+v", auth, body)
	}

	if err := tr.Upload(WithToken(context.Background(), "user"), doc, nil); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if auth != "Bearer user" {
		t.Fatalf("expected context token, got %q", auth)
	}
}

func TestRateLimiterHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, RateEvery: time.Hour, RateBurst: 1})
	if err := c.UploadDocument(context.Background(), "", "a.txt", "x", nil); err != nil {
		t.Fatalf("first upload: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.UploadDocument(ctx, "", "b.txt", "y", nil); err == nil {
		t.Fatalf("expected limiter to refuse within deadline")
	}
}
