// Package middleware provides shared HTTP middleware utilities.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ubi/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyWaitStep  = 100 * time.Millisecond
	idempotencyWaitSteps = 50
)

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key on unsafe methods. Requests without the header pass through.
type IdempotencyMiddleware struct {
	cache  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewIdempotencyMiddleware constructs an IdempotencyMiddleware with a TTL.
func NewIdempotencyMiddleware(cache *redis.Client, ttl time.Duration, log logger.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		cache:  cache,
		ttl:    ttl,
		logger: log,
	}
}

// Require deduplicates POST/PUT/PATCH/DELETE requests carrying the same
// Idempotency-Key from the same caller.
func (m *IdempotencyMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut &&
			r.Method != http.MethodPatch && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		subject, _ := SubjectFromContext(r.Context())
		dataKey := fmt.Sprintf("idempotency:data:%s:%s:%s:%s", subject, r.Method, r.URL.Path, key)
		lockKey := fmt.Sprintf("idempotency:lock:%s:%s:%s:%s", subject, r.Method, r.URL.Path, key)

		// Fast path: cached response exists
		if m.replayCached(w, r, dataKey) {
			return
		}

		requestID := RequestIDFromContext(r.Context())
		if requestID == "" {
			requestID = "unknown"
		}

		ok, err := m.cache.SetNX(r.Context(), lockKey, requestID, m.ttl).Result()
		if err != nil {
			m.logger.Error("Idempotency lock failed", map[string]interface{}{
				"error":      err.Error(),
				"request_id": requestID,
			})
			jsonError(w, http.StatusInternalServerError, "internal", "Internal server error")
			return
		}

		if !ok {
			// Another request with this key is in flight; wait for its response.
			for i := 0; i < idempotencyWaitSteps; i++ {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(idempotencyWaitStep):
				}
				if m.replayCached(w, r, dataKey) {
					return
				}
			}
			jsonError(w, http.StatusConflict, "duplicate_request", "A request with this Idempotency-Key is still being processed")
			return
		}
		defer m.cache.Del(r.Context(), lockKey)

		cw := newCaptureWriter(w, 1<<20) // 1MB cap
		next.ServeHTTP(cw, r)

		if err := m.cacheResponse(r, dataKey, cw); err != nil {
			m.logger.Warn("Failed to cache idempotent response", map[string]interface{}{
				"error":      err.Error(),
				"request_id": requestID,
			})
		}
	})
}

type capturedResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

func (m *IdempotencyMiddleware) replayCached(w http.ResponseWriter, r *http.Request, dataKey string) bool {
	payload, err := m.cache.Get(r.Context(), dataKey).Bytes()
	if err != nil {
		return false
	}

	var cr capturedResponse
	if err := json.Unmarshal(payload, &cr); err != nil {
		return false
	}

	for k, v := range cr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cr.Status)
	_, _ = w.Write(cr.Body)
	return true
}

func (m *IdempotencyMiddleware) cacheResponse(r *http.Request, dataKey string, cw *captureWriter) error {
	// Server errors are left uncached so the client can retry.
	if cw.status == 0 || cw.status >= http.StatusInternalServerError || len(cw.buf) == 0 || cw.truncated {
		return nil
	}

	payload, err := json.Marshal(capturedResponse{
		Status:  cw.status,
		Body:    cw.buf,
		Headers: cw.headers,
	})
	if err != nil {
		return err
	}

	return m.cache.Set(r.Context(), dataKey, payload, m.ttl).Err()
}

type captureWriter struct {
	http.ResponseWriter
	buf       []byte
	limit     int
	truncated bool
	status    int
	headers   map[string]string
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		buf:            make([]byte, 0, 1024),
		limit:          limit,
		headers:        make(map[string]string),
	}
}

func (w *captureWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	for k, v := range w.ResponseWriter.Header() {
		if len(v) > 0 {
			w.headers[k] = v[0]
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if space := w.limit - len(w.buf); space > 0 {
		n := len(p)
		if n > space {
			n = space
			w.truncated = true
		}
		w.buf = append(w.buf, p[:n]...)
	} else if len(p) > 0 {
		w.truncated = true
	}
	return w.ResponseWriter.Write(p)
}
