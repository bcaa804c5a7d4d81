package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// UserClient is one websocket connection of a signed-in user.
type UserClient struct {
	UserId string

	hub    IHub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[string]struct{}
}

func NewClient(userId string, hub IHub, conn *websocket.Conn, log *zap.Logger) *UserClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserClient{
		UserId: userId,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: log.With(zap.String("user_id", userId)),
		rooms:  make(map[string]struct{}),
	}
}

// Join adds the client to room.
func (c *UserClient) Join(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *UserClient) Leave(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (c *UserClient) InRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// ReadPump reads frames until the connection fails and hands each one to
// handle. It unregisters the client on exit.
func (c *UserClient) ReadPump(handle func(data []byte)) {
	defer func() {
		c.hub.UnregisterClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read failed", zap.Error(err))
			}
			return
		}
		handle(data)
	}
}

// WritePump drains the send queue to the connection and keeps it alive with
// pings. It returns once the hub closes the queue or a write fails.
func (c *UserClient) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands message to the write pump without blocking and reports
// whether it was accepted.
func (c *UserClient) enqueue(message []byte) bool {
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}
