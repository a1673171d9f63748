package socket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
)

type InboundMessage struct {
	Action  string `json:"action,omitempty"`
	Channel string `json:"channel,omitempty"`
}

const (
	OutboundChanBuffer = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type Client struct {
	ID       uuid.UUID
	Conn     *websocket.Conn
	Hub      *Hub
	Log      *logger.Logger
	cancelFn context.CancelFunc
	Outbound chan Message

	closeOnce sync.Once
}

// NewClient constructs a Client. cancel stops the sibling pump when either loop exits.
func NewClient(conn *websocket.Conn, hub *Hub, id uuid.UUID, cancel context.CancelFunc, log *logger.Logger) *Client {
	return &Client{
		ID:       id,
		Conn:     conn,
		Hub:      hub,
		Log:      log,
		cancelFn: cancel,
		Outbound: make(chan Message, OutboundChanBuffer),
	}
}

func (c *Client) ReadLoop(ctx context.Context)  { c.readLoop(ctx) }
func (c *Client) WriteLoop(ctx context.Context) { c.writeLoop(ctx) }

func (c *Client) readLoop(ctx context.Context) {
	defer c.close()

	c.Conn.SetReadLimit(64 * 1024)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			c.Log.Debug("websocket read error, closing client", "error", err)
			return
		}

		var inbound InboundMessage
		if err := json.Unmarshal(data, &inbound); err != nil {
			c.Log.Debug("failed to unmarshal inbound message", "error", err, "raw", string(data))
			continue
		}

		switch inbound.Action {
		case "subscribe":
			if inbound.Channel != "" {
				c.Hub.Subscribe(c, []string{inbound.Channel})
				c.enqueue(Message{Channel: inbound.Channel, Type: TypeSubscribed})
			}
		case "unsubscribe":
			if inbound.Channel != "" {
				c.Hub.UnsubscribeFromChannel(c, inbound.Channel)
			}
		default:
			c.Log.Debug("inbound WS message unhandled", "client", c.ID, "action", inbound.Action)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.Outbound:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(msg); err != nil {
				c.Log.Warn("failed writing JSON", "client", c.ID, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Log.Debug("ping error, closing client", "client", c.ID, "error", err)
				return
			}
		}
	}
}

func (c *Client) enqueue(msg Message) {
	// The hub never sends to an unsubscribed client, but an ack races with close.
	defer func() { _ = recover() }()
	select {
	case c.Outbound <- msg:
	default:
	}
}

// close is safe to call from both pumps.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.Log.Debug("closing client connection", "client", c.ID)
		if c.cancelFn != nil {
			c.cancelFn()
		}
		c.Hub.Unsubscribe(c)
		_ = c.Conn.Close()
		close(c.Outbound)
	})
}
