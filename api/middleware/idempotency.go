package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/visamarket-backend/api/responses"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/visamarket-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxIdempotencyKey = 128

	// IdempotencyTTL covers submissions and quotes.
	IdempotencyTTL = 24 * time.Hour
	// CriticalIdempotencyTTL covers acceptance, cancellation and completion,
	// which move money or end an application.
	CriticalIdempotencyTTL = 7 * 24 * time.Hour

	// in-flight reservations outlive any sane handler but expire if the process dies.
	reservationTTL = 2 * time.Minute
)

// IdempotencyStore is the replay store plus the writes needed to finish or abandon a
// reservation.
type IdempotencyStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// storedResponse is a reservation while Status is zero and a replayable response
// once it is set.
type storedResponse struct {
	RequestHash string `json:"requestHash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency makes the wrapped route safe to retry. The first request under an
// Idempotency-Key runs and its response is kept for ttl. Later requests with the
// same key and body get that response back. A different body, or a retry while the
// first is still running, is rejected. Server errors are not kept.
func Idempotency(store IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" || len(clientKey) > maxIdempotencyKey {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required").
					WithDetails(map[string]any{"maxLength": maxIdempotencyKey}))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body unreadable"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			hash := hex.EncodeToString(sum[:])
			key := store.IdempotencyKey(replayScope(r), clientKey)

			reservation, _ := json.Marshal(storedResponse{RequestHash: hash})
			reserved, err := store.SetNX(ctx, key, string(reservation), reservationTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayOrReject(ctx, store, key, hash, w, logg)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.statusCode()
			if status >= http.StatusInternalServerError {
				if err := store.Del(context.WithoutCancel(ctx), key); err != nil && logg != nil {
					logg.WarnErr(ctx, "idempotency.release_failed", err)
				}
				return
			}
			final, _ := json.Marshal(storedResponse{
				RequestHash: hash,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err := store.Set(context.WithoutCancel(ctx), key, string(final), ttl); err != nil && logg != nil {
				logg.WarnErr(ctx, "idempotency.persist_failed", err)
			}
		})
	}
}

func replayOrReject(ctx context.Context, store IdempotencyStore, key, hash string, w http.ResponseWriter, logg *logger.Logger) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, pkgredis.Nil) {
		// the first attempt failed and released the key between our SETNX and GET.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is being retried, try again"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}

	switch {
	case stored.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case stored.Status == 0:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
	default:
		if stored.ContentType != "" {
			w.Header().Set("Content-Type", stored.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Body)
	}
}

// replayScope keeps keys from colliding across callers and routes.
func replayScope(r *http.Request) string {
	id, _ := IdentityFromContext(r.Context())
	return strings.Join([]string{id.UserID.String(), r.Method, r.URL.Path}, "|")
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
