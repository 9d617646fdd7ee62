package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TraceIDHeader carries the trace ID across service boundaries.
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the gin context key the trace ID is stored under.
	TraceIDKey = "trace_id"
)

// EnrichContext assigns each request a trace ID, honoring one supplied by
// the caller, and echoes it back on the response.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Next()
	}
}

// GetTraceID returns the request's trace ID, or an empty string when the
// enrichment middleware has not run.
func GetTraceID(c *gin.Context) string {
	if value, ok := c.Get(TraceIDKey); ok {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}
