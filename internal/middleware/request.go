package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slotter-org/ollama-chat-backend/internal/errordata"
	"github.com/slotter-org/ollama-chat-backend/internal/requestdata"
	"github.com/slotter-org/ollama-chat-backend/internal/ssedata"
)

const RequestIDHeader = "X-Request-ID"

// AttachRequestContext seeds the request context with request, error and stream data.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()[:8]
		}
		c.Header(RequestIDHeader, requestID)

		ctx := c.Request.Context()
		ctx = requestdata.WithRequestData(ctx, &requestdata.RequestData{
			RequestID: requestID,
			ClientIP:  c.ClientIP(),
			StartedAt: time.Now(),
		})
		ctx = ssedata.WithSSEData(ctx)
		ctx = errordata.WithErrorData(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
