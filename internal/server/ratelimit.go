package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Leikymain/chatbot-api/internal/ratelimit"
)

// rateLimitContextKey is the context key for rate limit info.
type rateLimitContextKey struct{}

// RateLimitInfo carries the limiter's view of the current window so the
// middleware can write it as response headers.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// SetRateLimits populates the rate limit info pre-installed in the context by
// RateLimitHeaderMiddleware. No-op if the middleware isn't present.
func SetRateLimits(ctx context.Context, res *ratelimit.Result) {
	info, ok := ctx.Value(rateLimitContextKey{}).(*RateLimitInfo)
	if !ok || res == nil {
		return
	}
	info.Limit = res.Limit
	info.Remaining = res.Remaining
	info.Reset = res.Reset
}

// RateLimitHeaderMiddleware writes x-ratelimit-* headers on responses.
// It installs an empty RateLimitInfo in the request context for handlers to
// populate after the limiter has been consulted, and writes the headers
// lazily just before the first byte of the response.
func RateLimitHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := &RateLimitInfo{}
		ctx := context.WithValue(r.Context(), rateLimitContextKey{}, info)

		wrapped := &rateLimitResponseWriter{
			ResponseWriter: w,
			info:           info,
		}
		next.ServeHTTP(wrapped, r.WithContext(ctx))
	})
}

// rateLimitResponseWriter wraps ResponseWriter to write rate limit headers.
type rateLimitResponseWriter struct {
	http.ResponseWriter
	info         *RateLimitInfo
	wroteHeaders bool
}

func (rw *rateLimitResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeaders {
		rw.writeRateLimitHeaders()
		rw.wroteHeaders = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *rateLimitResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeaders {
		rw.writeRateLimitHeaders()
		rw.wroteHeaders = true
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *rateLimitResponseWriter) writeRateLimitHeaders() {
	if rw.info == nil || rw.info.Limit == 0 {
		return
	}

	h := rw.Header()
	h.Set("x-ratelimit-limit-requests", strconv.Itoa(rw.info.Limit))
	h.Set("x-ratelimit-remaining-requests", strconv.Itoa(rw.info.Remaining))
	if !rw.info.Reset.IsZero() {
		h.Set("x-ratelimit-reset-requests", rw.info.Reset.UTC().Format(time.RFC3339))
	}
}

// Flush forwards Flush to the underlying ResponseWriter if it supports http.Flusher.
func (rw *rateLimitResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
