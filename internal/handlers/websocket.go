package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/socket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WsHandler upgrades the connection and pumps hub messages to it. Every client
// starts on the backends channel; chats are joined with a subscribe action.
func WsHandler(hub *socket.Hub, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("Failed to upgrade to websocket", "error", err)
			return
		}
		// The request context ends with the handler, the pumps outlive it.
		ctx, cancel := context.WithCancel(context.Background())
		id := uuid.New()
		client := socket.NewClient(conn, hub, id, cancel, log.With("wsClientID", id))
		hub.Subscribe(client, []string{socket.ChannelBackends})

		go client.WriteLoop(ctx)
		go client.ReadLoop(ctx)
	}
}
