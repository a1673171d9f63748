package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slotter-org/ollama-chat-backend/internal/errordata"
	"github.com/slotter-org/ollama-chat-backend/internal/services"
)

// respondError maps a service error onto a status code and JSON body.
func respondError(c *gin.Context, err error) {
	var mnf *services.ModelNotFoundError
	switch {
	case errors.As(err, &mnf):
		abort(c, http.StatusNotFound, gin.H{"error": "Model not found", "model": mnf.Model})
	case errors.Is(err, services.ErrNotFound):
		abort(c, http.StatusNotFound, gin.H{"error": err.Error()})
	case services.IsValidation(err):
		abort(c, http.StatusBadRequest, gin.H{"error": err.Error()})
	case services.IsConnectionError(err):
		abort(c, http.StatusServiceUnavailable, gin.H{"error": "Unable to connect to Ollama", "detail": err.Error()})
	default:
		abort(c, http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		if ed := errordata.GetErrorData(c.Request.Context()); ed != nil {
			ed.Set(http.StatusInternalServerError, err.Error())
		}
	}
}

func badRequest(c *gin.Context, msg string) {
	abort(c, http.StatusBadRequest, gin.H{"error": msg})
}

func abort(c *gin.Context, status int, body gin.H) {
	if ed := errordata.GetErrorData(c.Request.Context()); ed != nil {
		if msg, ok := body["error"].(string); ok {
			ed.Set(status, msg)
		}
	}
	c.AbortWithStatusJSON(status, body)
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// optionalQueryUUID parses ?name= when present.
func optionalQueryUUID(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		badRequest(c, "invalid "+name)
		return nil, false
	}
	return &id, true
}

func optionalQueryBool(c *gin.Context, name string) (*bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(c, "invalid "+name)
		return nil, false
	}
	return &v, true
}

func bindPage(c *gin.Context) (services.Page, bool) {
	var page services.Page
	if err := c.ShouldBindQuery(&page); err != nil {
		badRequest(c, "invalid pagination parameters")
		return page, false
	}
	return page, true
}

// bindOptionalJSON binds a JSON body that may be omitted entirely.
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return false
	}
	return true
}
