package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/data/cache"
)

const (
	// IdempotencyKeyHeader is the HTTP header clients set to make a POST safe to retry
	IdempotencyKeyHeader = "Idempotency-Key"

	// IdempotentReplayHeader marks responses served from the cache
	IdempotentReplayHeader = "Idempotent-Replayed"
)

// IdempotencyStore keeps responses by idempotency key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*cache.Response, error)
	Lock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) error
	Save(ctx context.Context, key string, resp *cache.Response) error
}

type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response of a request already served with
// the same Idempotency-Key. Keys are scoped to the actor and the path. A
// request arriving while another one with its key runs gets a 409. Server
// errors are not stored so that clients can retry them.
func Idempotency(logger *slog.Logger, store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(IdempotencyKeyHeader)
		if header == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		actor := GetActor(c)
		key := string(actor.Type) + ":" + actor.UserID + actor.AccountKey + ":" + c.Request.Method + ":" + c.Request.URL.Path + ":" + header

		cached, err := store.Get(ctx, key)
		if err != nil {
			logger.Error("Failed to read idempotency key", "error", err, "correlation_id", GetCorrelationID(c))
			abort(c, http.StatusServiceUnavailable, "Unavailable", "Idempotency store unavailable")
			return
		}
		if cached != nil {
			c.Header(IdempotentReplayHeader, "true")
			c.Data(cached.Status, cached.ContentType, cached.Body)
			c.Abort()
			return
		}

		acquired, err := store.Lock(ctx, key)
		if err != nil {
			logger.Error("Failed to lock idempotency key", "error", err, "correlation_id", GetCorrelationID(c))
			abort(c, http.StatusServiceUnavailable, "Unavailable", "Idempotency store unavailable")
			return
		}
		if !acquired {
			abort(c, http.StatusConflict, "Conflict", "A request with this idempotency key is in progress")
			return
		}
		defer func() {
			if err := store.Unlock(context.WithoutCancel(ctx), key); err != nil {
				logger.Error("Failed to unlock idempotency key", "error", err)
			}
		}()

		w := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		if w.Status() >= http.StatusInternalServerError {
			return
		}
		resp := &cache.Response{
			Status:      w.Status(),
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		}
		if err := store.Save(context.WithoutCancel(ctx), key, resp); err != nil {
			logger.Error("Failed to save idempotent response", "error", err, "correlation_id", GetCorrelationID(c))
		}
	}
}
