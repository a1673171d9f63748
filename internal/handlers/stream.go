package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/services"
	"github.com/slotter-org/ollama-chat-backend/internal/ssedata"
)

// TurnStreamer runs one conversational turn and reports each event through emit.
type TurnStreamer interface {
	StreamTurn(ctx context.Context, req services.TurnRequest, emit services.EmitFunc) (services.TurnResult, error)
}

type StreamHandler struct {
	log      *logger.Logger
	streamer TurnStreamer
	timeout  time.Duration
}

func NewStreamHandler(log *logger.Logger, streamer TurnStreamer, timeout time.Duration) *StreamHandler {
	return &StreamHandler{
		log:      log.With("handler", "StreamHandler"),
		streamer: streamer,
		timeout:  timeout,
	}
}

// StreamQuery serves GET /chats/:id/stream?message=...&file_ids=a,b
func (sh *StreamHandler) StreamQuery(c *gin.Context) {
	chatID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var fileIDs []uuid.UUID
	for _, raw := range c.QueryArray("file_ids") {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				badRequest(c, "invalid file_ids")
				return
			}
			fileIDs = append(fileIDs, id)
		}
	}
	sh.serve(c, services.TurnRequest{ChatID: chatID, Message: c.Query("message"), FileIDs: fileIDs})
}

// StreamBody serves POST /chats/:id/stream with a JSON body.
func (sh *StreamHandler) StreamBody(c *gin.Context) {
	chatID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Message string      `json:"message"`
		FileIDs []uuid.UUID `json:"file_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	sh.serve(c, services.TurnRequest{ChatID: chatID, Message: req.Message, FileIDs: req.FileIDs})
}

func (sh *StreamHandler) serve(c *gin.Context, req services.TurnRequest) {
	ctx := c.Request.Context()
	if sh.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sh.timeout)
		defer cancel()
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	record := ssedata.GetSSEData(ctx)
	emit := func(e ssedata.Event) error {
		// A closed request context means the client went away.
		if err := c.Request.Context().Err(); err != nil {
			return err
		}
		frame, err := ssedata.Encode(e)
		if err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
		w.Flush()
		if record != nil {
			record.Record(e)
		}
		return nil
	}

	result, err := sh.streamer.StreamTurn(ctx, req, emit)
	if err != nil && !errors.Is(err, services.ErrClientGone) && !errors.Is(err, context.Canceled) {
		sh.log.Debug("Turn ended with error", "chatID", req.ChatID, "state", result.State, "error", err)
	}
}
