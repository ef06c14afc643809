package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDKeepsWellFormedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "trace-0123456789")
	resp := httptest.NewRecorder()
	RequestID(nil)(okHandler()).ServeHTTP(resp, req)
	if got := resp.Header().Get(requestIDHeader); got != "trace-0123456789" {
		t.Fatalf("expected inbound id echoed, got %q", got)
	}
}

func TestRequestIDReplacesMalformedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "bad id\nwith newline")
	resp := httptest.NewRecorder()
	RequestID(nil)(okHandler()).ServeHTTP(resp, req)
	if _, err := uuid.Parse(resp.Header().Get(requestIDHeader)); err != nil {
		t.Fatalf("expected generated uuid, got %q", resp.Header().Get(requestIDHeader))
	}
}

func TestRecovererWritesInternalError(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map")
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}
