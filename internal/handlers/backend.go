package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slotter-org/ollama-chat-backend/internal/services"
)

// BackendHandler serves the Ollama server registry and the model/status views.
type BackendHandler struct {
	backendService services.BackendService
}

func NewBackendHandler(backendService services.BackendService) *BackendHandler {
	return &BackendHandler{backendService: backendService}
}

func (bh *BackendHandler) ListBackends(c *gin.Context) {
	includeInactive, ok := optionalQueryBool(c, "include_inactive")
	if !ok {
		return
	}
	backends, err := bh.backendService.List(c.Request.Context(), includeInactive != nil && *includeInactive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"servers": backends})
}

func (bh *BackendHandler) GetBackend(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	backend, err := bh.backendService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server": backend})
}

func (bh *BackendHandler) CreateBackend(c *gin.Context) {
	var req services.BackendCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	backend, err := bh.backendService.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"server": backend})
}

func (bh *BackendHandler) UpdateBackend(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req services.BackendPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	backend, err := bh.backendService.Update(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server": backend})
}

func (bh *BackendHandler) DeleteBackend(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := bh.backendService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (bh *BackendHandler) CheckHealth(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	backend, err := bh.backendService.CheckHealth(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server": backend})
}

func (bh *BackendHandler) BackendModels(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	models, err := bh.backendService.Models(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// ListModels serves GET /ollama/models, optionally scoped by ?server_id=.
func (bh *BackendHandler) ListModels(c *gin.Context) {
	serverID, ok := optionalQueryUUID(c, "server_id")
	if !ok {
		return
	}
	models, url, err := bh.backendService.ModelsFor(c.Request.Context(), serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models, "server_url": url})
}

// Status reports stored monitor state; it never probes a backend.
func (bh *BackendHandler) Status(c *gin.Context) {
	status, err := bh.backendService.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
