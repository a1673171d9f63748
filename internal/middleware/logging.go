package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slotter-org/ollama-chat-backend/internal/errordata"
	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/metrics"
	"github.com/slotter-org/ollama-chat-backend/internal/requestdata"
	"github.com/slotter-org/ollama-chat-backend/internal/ssedata"
)

// RequestLogger logs one line per request and records request metrics. It must run
// after AttachRequestContext.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	middlewareLogger := log.With("middleware", "RequestLogger")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctx := c.Request.Context()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.RecordRequest(c.Request.Method, route, status, elapsed.Seconds())

		fields := []interface{}{
			"requestID", requestdata.RequestID(ctx),
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
		}
		if sd := ssedata.GetSSEData(ctx); sd != nil {
			if events, outcome := sd.Snapshot(); events > 0 {
				fields = append(fields, "sseEvents", events, "sseOutcome", outcome)
			}
		}
		if ed := errordata.GetErrorData(ctx); ed != nil && ed.HasMessage() {
			fields = append(fields, "error", ed.Message)
			if ed.Status >= 500 {
				middlewareLogger.Error("Request failed", fields...)
				return
			}
		}
		middlewareLogger.Info("Request handled", fields...)
	}
}
