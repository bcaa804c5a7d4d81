package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"wesync/infrastructure/metrics"
)

// Hub tracks the websocket clients of this instance, one per user. A newer
// connection of the same user replaces the older one.
type Hub struct {
	clients    map[string]*UserClient
	register   chan *UserClient
	unregister chan *UserClient
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
	metrics    *metrics.Server

	onClientRegister   func(client *UserClient) error
	onClientUnregister func(client *UserClient) error
}

func NewHub(log *zap.Logger, m *metrics.Server) IHub {
	return newHub(log, m)
}

func newHub(log *zap.Logger, m *metrics.Server) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewServer(nil)
	}
	return &Hub{
		clients:    make(map[string]*UserClient),
		register:   make(chan *UserClient),
		unregister: make(chan *UserClient),
		done:       make(chan struct{}),
		logger:     log.Named("hub"),
		metrics:    m,
	}
}

func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for userId, client := range h.clients {
				close(client.send)
				delete(h.clients, userId)
			}
			h.metrics.Connections.Set(0)
			h.mu.Unlock()
			return nil

		case client := <-h.register:
			h.add(client)
			h.logger.Info("client connected", zap.String("user_id", client.UserId))
			if h.onClientRegister != nil {
				if err := h.onClientRegister(client); err != nil {
					h.logger.Warn("on register", zap.String("user_id", client.UserId), zap.Error(err))
				}
			}

		case client := <-h.unregister:
			if !h.remove(client) {
				continue
			}
			h.logger.Info("client disconnected", zap.String("user_id", client.UserId))
			if h.onClientUnregister != nil {
				if err := h.onClientUnregister(client); err != nil {
					h.logger.Warn("on unregister", zap.String("user_id", client.UserId), zap.Error(err))
				}
			}
		}
	}
}

func (h *Hub) add(client *UserClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[client.UserId]; ok && old != client {
		close(old.send)
	}
	h.clients[client.UserId] = client
	h.metrics.Connections.Set(float64(len(h.clients)))
}

// remove drops client if it is still the registered connection of its user.
func (h *Hub) remove(client *UserClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.UserId] != client {
		return false
	}
	delete(h.clients, client.UserId)
	close(client.send)
	h.metrics.Connections.Set(float64(len(h.clients)))
	return true
}

func (h *Hub) RegisterClient(client *UserClient) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

func (h *Hub) UnregisterClient(client *UserClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) SendToClient(userId string, message []byte) {
	h.sendLocal(userId, message)
}

// sendLocal reports whether userId has a client on this instance.
func (h *Hub) sendLocal(userId string, message []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, exists := h.clients[userId]
	if !exists {
		return false
	}
	if !client.enqueue(message) {
		h.logger.Warn("send queue full, dropping message", zap.String("user_id", userId))
	}
	return true
}

func (h *Hub) SendToRoom(room string, message []byte, exceptUserId string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for userId, client := range h.clients {
		if userId == exceptUserId || !client.InRoom(room) {
			continue
		}
		if !client.enqueue(message) {
			h.logger.Warn("send queue full, dropping message", zap.String("user_id", userId))
		}
	}
}

func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for userId, client := range h.clients {
		if !client.enqueue(message) {
			h.logger.Warn("send queue full, dropping message", zap.String("user_id", userId))
		}
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) hasClient(userId string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userId]
	return ok
}

// The callbacks run on the hub goroutine; set them before Run.
func (h *Hub) SetOnClientRegister(callback func(client *UserClient) error) {
	h.onClientRegister = callback
}

func (h *Hub) SetOnClientUnregister(callback func(client *UserClient) error) {
	h.onClientUnregister = callback
}
