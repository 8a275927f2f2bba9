// Package logging builds the application logger and the gin request logging middleware.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader is read from and echoed on every response.
const RequestIDHeader = "X-Request-Id"

type ctxKey struct{}

// New returns a JSON logger on stdout. Development environments log at debug level.
func New(env string) *slog.Logger {
	return NewWithWriter(os.Stdout, env)
}

func NewWithWriter(w io.Writer, env string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// RequestIDFromContext returns the request id stored by Middleware, or "".
func RequestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKey{}).(string); ok {
		return s
	}
	return ""
}

// Middleware assigns a request id (reusing the caller's X-Request-Id when present) and logs one
// line per request after it completes. userID extracts the authenticated user, if any.
func Middleware(log *slog.Logger, userID func(*gin.Context) int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ctxKey{}, rid))
		c.Header(RequestIDHeader, rid)

		c.Next()

		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("rid", rid),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		}
		if userID != nil {
			if id := userID(c); id != 0 {
				attrs = append(attrs, slog.Int64("user_id", id))
			}
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("error", c.Errors.String()))
		}
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		log.LogAttrs(c.Request.Context(), level, "http_request", attrs...)
	}
}
