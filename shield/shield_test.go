package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/psp/kit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	checks := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, want := range checks {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s: got %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("CSP header missing")
	}
}

func TestSecurityHeaders_EmptyFieldsSkipped(t *testing.T) {
	h := SecurityHeaders(HeaderConfig{XFrameOptions: "DENY"})(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options: got %q", got)
	}
	if rec.Header().Get("Content-Security-Policy") != "" {
		t.Error("empty CSP must not be set")
	}
}

func TestHeadToGet(t *testing.T) {
	var seen string
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Method
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("HEAD", "/", nil))
	if seen != "GET" {
		t.Fatalf("method: got %q, want GET", seen)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", nil))
	if seen != "POST" {
		t.Fatalf("POST must pass through, got %q", seen)
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	// Under the limit.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", strings.NewReader("small")))
	if readErr != nil {
		t.Fatalf("small body: %v", readErr)
	}

	// Over the limit.
	big := strings.Repeat("x", 64)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", strings.NewReader(big)))
	if readErr == nil {
		t.Fatal("oversized body must fail on read")
	}
}

func TestTraceID(t *testing.T) {
	var ctxID string
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = kit.GetTraceID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/sessions", nil))

	headerID := rec.Header().Get("X-Trace-ID")
	if headerID == "" {
		t.Fatal("X-Trace-ID header not set")
	}
	if ctxID != headerID {
		t.Fatalf("context trace id %q != header %q", ctxID, headerID)
	}
	if len(headerID) != 8 {
		t.Fatalf("trace id length: got %d, want 8 hex chars", len(headerID))
	}
}

func TestGetLogger_Default(t *testing.T) {
	if GetLogger(httptest.NewRequest("GET", "/", nil).Context()) == nil {
		t.Fatal("GetLogger must never return nil")
	}
}

func TestDefaultStack_Order(t *testing.T) {
	stack := DefaultStack()
	if len(stack) != 4 {
		t.Fatalf("stack size: got %d, want 4", len(stack))
	}

	h := okHandler()
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("HEAD", "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("trace middleware not applied")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("header middleware not applied")
	}
}
