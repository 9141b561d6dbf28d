package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/friendlychat/internal/config"
	"github.com/weiawesome/friendlychat/internal/domain"
	"github.com/weiawesome/friendlychat/internal/feed"
	"github.com/weiawesome/friendlychat/pkg/log"
)

// FeedMessage carries one feed op to the browser.
type FeedMessage struct {
	Type string `json:"type"`
	feed.Op
}

// Client is one browser tab's feed connection.
type Client struct {
	ID         string
	SessionKey string
	Hub        *Hub
	Conn       *websocket.Conn
	Send       chan []byte
	config     config.WebSocketConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func NewClient(id, sessionKey string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:         id,
		SessionKey: sessionKey,
		Hub:        hub,
		Conn:       conn,
		Send:       make(chan []byte, buf),
		config:     cfg,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Context is cancelled when the client leaves the hub.
func (c *Client) Context() context.Context {
	return c.ctx
}

// ReadPump reads browser frames until the connection fails, then leaves
// the hub. Pongs extend the read deadline.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	extend := func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	}
	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	_ = extend("")
	c.Conn.SetPongHandler(extend)

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger := log.L()
				logger.Warn().Err(err).Str(log.FieldClientID, c.ID).Msg("websocket read error")
			}
			return
		}
		handler(c, frame)
	}
}

// WritePump owns every write to the connection: one text frame per queued
// message and a ping every PingInterval. A closed Send ends the feed with
// a going-away close frame.
func (c *Client) WritePump() {
	ping := time.NewTicker(c.config.PingInterval)
	defer func() {
		ping.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			deadline := time.Now().Add(c.config.WriteWait)
			if !ok {
				_ = c.Conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"), deadline)
				return
			}
			_ = c.Conn.SetWriteDeadline(deadline)
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ping.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteWait)); err != nil {
				return
			}
		}
	}
}

// SendMessage queues message for the browser. A client too slow to keep
// up is disconnected; the browser reconnects and starts a fresh feed.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if !c.offer(data) && c.Hub != nil {
		go c.Hub.removeClient(c)
	}
	return nil
}

// Render forwards a feed op to the browser.
func (c *Client) Render(op feed.Op) {
	if err := c.SendMessage(FeedMessage{Type: domain.MsgTypeFeed, Op: op}); err != nil {
		logger := log.L()
		logger.Error().Err(err).Str(log.FieldClientID, c.ID).Msg("failed to encode feed op")
	}
}

func (c *Client) offer(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
	c.cancel()
}
