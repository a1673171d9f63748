package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slotter-org/ollama-chat-backend/internal/handlers"
	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/middleware"
)

type RouterConfig struct {
	Log             *logger.Logger
	CORSOrigins     []string
	ChatHandler     *handlers.ChatHandler
	ProjectHandler  *handlers.ProjectHandler
	SettingsHandler *handlers.SettingsHandler
	BackendHandler  *handlers.BackendHandler
	StreamHandler   *handlers.StreamHandler
	WsHandler       gin.HandlerFunc
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.AttachRequestContext())
	router.Use(middleware.RequestLogger(cfg.Log))

	//-----------------------------------------
	// Cors Setup
	//-----------------------------------------
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	//-----------------------------------------
	// Ops Routes
	//-----------------------------------------
	router.GET("/healthz", handlers.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.GET("/ws", cfg.WsHandler)

	//Projects
	projects := api.Group("/projects")
	projects.GET("", cfg.ProjectHandler.ListProjects)
	projects.POST("", cfg.ProjectHandler.CreateProject)
	projects.GET("/:id", cfg.ProjectHandler.GetProject)
	projects.PATCH("/:id", cfg.ProjectHandler.UpdateProject)
	projects.DELETE("/:id", cfg.ProjectHandler.DeleteProject)
	projects.GET("/:id/chats", cfg.ProjectHandler.ListProjectChats)
	projects.GET("/:id/avatar", cfg.ProjectHandler.GetProjectAvatar)
	projects.POST("/:id/files", cfg.ProjectHandler.UploadFile)
	projects.GET("/:id/files/:fileID", cfg.ProjectHandler.GetFile)
	projects.DELETE("/:id/files/:fileID", cfg.ProjectHandler.DeleteFile)

	//Chats
	chats := api.Group("/chats")
	chats.GET("", cfg.ChatHandler.ListChats)
	chats.POST("", cfg.ChatHandler.CreateChat)
	chats.GET("/:id", cfg.ChatHandler.GetChat)
	chats.PATCH("/:id", cfg.ChatHandler.UpdateChat)
	chats.DELETE("/:id", cfg.ChatHandler.DeleteChat)
	chats.POST("/:id/archive", cfg.ChatHandler.ArchiveChat)
	chats.GET("/:id/settings", cfg.ChatHandler.GetChatSettings)
	chats.PATCH("/:id/settings", cfg.ChatHandler.UpdateChatSettings)

	//Messages
	chats.GET("/:id/messages", cfg.ChatHandler.ListMessages)
	chats.POST("/:id/messages", cfg.ChatHandler.CreateMessage)
	chats.DELETE("/:id/messages/:messageID", cfg.ChatHandler.DeleteMessage)
	chats.GET("/:id/stream", cfg.StreamHandler.StreamQuery)
	chats.POST("/:id/stream", cfg.StreamHandler.StreamBody)

	//Settings
	api.GET("/settings", cfg.SettingsHandler.GetSettings)
	api.PATCH("/settings", cfg.SettingsHandler.UpdateSettings)

	//Ollama servers
	servers := api.Group("/ollama-servers")
	servers.GET("", cfg.BackendHandler.ListBackends)
	servers.POST("", cfg.BackendHandler.CreateBackend)
	servers.GET("/:id", cfg.BackendHandler.GetBackend)
	servers.PATCH("/:id", cfg.BackendHandler.UpdateBackend)
	servers.DELETE("/:id", cfg.BackendHandler.DeleteBackend)
	servers.POST("/:id/check-health", cfg.BackendHandler.CheckHealth)
	servers.GET("/:id/models", cfg.BackendHandler.BackendModels)

	//Ollama
	api.GET("/ollama/models", cfg.BackendHandler.ListModels)
	api.GET("/ollama/status", cfg.BackendHandler.Status)

	return router
}
