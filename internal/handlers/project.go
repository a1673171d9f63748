package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/slotter-org/ollama-chat-backend/internal/services"
)

type ProjectHandler struct {
	projectService services.ProjectService
}

func NewProjectHandler(projectService services.ProjectService) *ProjectHandler {
	return &ProjectHandler{projectService: projectService}
}

func (ph *ProjectHandler) ListProjects(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	archived, ok := optionalQueryBool(c, "archived")
	if !ok {
		return
	}
	projects, err := ph.projectService.List(c.Request.Context(), services.ProjectListQuery{Page: page, Archived: archived})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (ph *ProjectHandler) GetProject(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	project, err := ph.projectService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

func (ph *ProjectHandler) CreateProject(c *gin.Context) {
	var req services.ProjectCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	project, err := ph.projectService.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

func (ph *ProjectHandler) UpdateProject(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req services.ProjectPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	project, err := ph.projectService.Update(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

func (ph *ProjectHandler) DeleteProject(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := ph.projectService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (ph *ProjectHandler) ListProjectChats(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}
	chats, err := ph.projectService.ListChats(c.Request.Context(), id, page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetProjectAvatar renders the avatar PNG on demand; ?size= picks the edge length.
func (ph *ProjectHandler) GetProjectAvatar(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	size := services.AvatarDefaultSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "invalid size")
			return
		}
		size = n
	}
	png, err := ph.projectService.Avatar(c.Request.Context(), id, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", png)
}

func (ph *ProjectHandler) UploadFile(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req services.FileUpload
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	file, err := ph.projectService.UploadFile(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	file.Content = ""
	c.JSON(http.StatusCreated, gin.H{"file": file})
}

func (ph *ProjectHandler) GetFile(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	fileID, ok := pathUUID(c, "fileID")
	if !ok {
		return
	}
	file, err := ph.projectService.GetFile(c.Request.Context(), id, fileID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": file})
}

func (ph *ProjectHandler) DeleteFile(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	fileID, ok := pathUUID(c, "fileID")
	if !ok {
		return
	}
	if err := ph.projectService.DeleteFile(c.Request.Context(), id, fileID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
