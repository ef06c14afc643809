package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

type observedRequest struct {
	route  string
	method string
	status int
}

type recordingObserver struct {
	seen []observedRequest
}

func (o *recordingObserver) ObserveRequest(route, method string, status int, _ time.Duration) {
	o.seen = append(o.seen, observedRequest{route: route, method: method, status: status})
}

func TestLoggingReportsRoutePattern(t *testing.T) {
	buf := &bytes.Buffer{}
	obs := &recordingObserver{}
	r := chi.NewRouter()
	r.Use(Logging(logger.New(logger.Options{ServiceName: "test", Output: buf}), obs))
	r.Post("/api/v1/quotes/{quoteId}/accept", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/quotes/5f0c/accept", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	want := []observedRequest{
		{route: "/api/v1/quotes/{quoteId}/accept", method: http.MethodPost, status: http.StatusCreated},
		{route: "/boom", method: http.MethodGet, status: http.StatusBadGateway},
	}
	if len(obs.seen) != len(want) {
		t.Fatalf("expected %d observations, got %+v", len(want), obs.seen)
	}
	for i := range want {
		if obs.seen[i] != want[i] {
			t.Fatalf("observation %d: expected %+v, got %+v", i, want[i], obs.seen[i])
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two log lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], `"level":"info"`) || !strings.Contains(lines[0], `"bytes":2`) {
		t.Fatalf("unexpected first line %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"warn"`) {
		t.Fatalf("server errors should log at warn: %s", lines[1])
	}
}

func TestLoggingWithoutLoggerStillObserves(t *testing.T) {
	obs := &recordingObserver{}
	Logging(nil, obs)(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if len(obs.seen) != 1 || obs.seen[0].status != http.StatusOK {
		t.Fatalf("unexpected observations %+v", obs.seen)
	}
}
