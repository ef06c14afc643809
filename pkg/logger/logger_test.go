package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithApplicationID(ctx, "app-1")

	log.Error(ctx, "boom", errors.New("boom"))

	if !bytes.Contains(buf.Bytes(), []byte("\"request_id\":\"req-123\"")) {
		t.Fatalf("expected request_id to be preserved; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"application_id\":\"app-1\"")) {
		t.Fatalf("expected application_id to be preserved; entry=%s", buf.String())
	}
}

func TestLoggerWarnErrCarriesError(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	log.WarnErr(context.Background(), "provider degraded", errors.New("timeout"))

	if !bytes.Contains(buf.Bytes(), []byte("\"error\":\"timeout\"")) {
		t.Fatalf("expected error field; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"level\":\"warn\"")) {
		t.Fatalf("expected warn level; entry=%s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel("WARN"); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %v", lvl)
	}
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	log.Info(context.Background(), "ignored")
	log.Error(context.Background(), "ignored", errors.New("x"))
}

func TestLoggerStampsServiceAndEnvironment(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "cron-worker", Environment: "prod", Output: buf})

	ctx := log.WithFields(context.Background(), map[string]any{"job": "quote-expiry", "expired": 3})
	log.Info(ctx, "sweep finished")

	for _, want := range []string{`"service":"cron-worker"`, `"env":"prod"`, `"expired":3`, `"job":"quote-expiry"`} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Fatalf("expected %s; entry=%s", want, buf.String())
		}
	}
}

func TestDebugIsFilteredAtInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})
	log.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line leaked at info level: %s", buf.String())
	}
}
