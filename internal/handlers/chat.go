package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slotter-org/ollama-chat-backend/internal/services"
)

type ChatHandler struct {
	chatService     services.ChatService
	settingsService services.SettingsService
}

func NewChatHandler(chatService services.ChatService, settingsService services.SettingsService) *ChatHandler {
	return &ChatHandler{chatService: chatService, settingsService: settingsService}
}

func (ch *ChatHandler) ListChats(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	projectID, ok := optionalQueryUUID(c, "project_id")
	if !ok {
		return
	}
	archived, ok := optionalQueryBool(c, "archived")
	if !ok {
		return
	}
	chats, err := ch.chatService.List(c.Request.Context(), services.ChatListQuery{Page: page, ProjectID: projectID, Archived: archived})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (ch *ChatHandler) GetChat(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	chat, err := ch.chatService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (ch *ChatHandler) CreateChat(c *gin.Context) {
	var req services.ChatCreate
	if !bindOptionalJSON(c, &req) {
		return
	}
	chat, err := ch.chatService.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"chat": chat})
}

func (ch *ChatHandler) UpdateChat(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req services.ChatPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	chat, err := ch.chatService.Update(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (ch *ChatHandler) ArchiveChat(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	chat, err := ch.chatService.Archive(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (ch *ChatHandler) DeleteChat(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := ch.chatService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (ch *ChatHandler) ListMessages(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}
	msgs, err := ch.chatService.ListMessages(c.Request.Context(), id, page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (ch *ChatHandler) CreateMessage(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req services.MessageCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	msg, err := ch.chatService.CreateMessage(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (ch *ChatHandler) DeleteMessage(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathUUID(c, "messageID")
	if !ok {
		return
	}
	if err := ch.chatService.DeleteMessage(c.Request.Context(), id, messageID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (ch *ChatHandler) GetChatSettings(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	settings, err := ch.settingsService.GetChatSettings(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (ch *ChatHandler) UpdateChatSettings(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req services.ChatSettingsPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	settings, err := ch.settingsService.UpdateChatSettings(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}
