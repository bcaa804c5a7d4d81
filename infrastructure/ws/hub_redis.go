package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wesync/infrastructure/metrics"
)

const (
	channelPrefix    = "wesync:"
	userChannel      = channelPrefix + "user:"
	roomChannel      = channelPrefix + "room"
	broadcastChannel = channelPrefix + "broadcast"
	presenceTTL      = 2 * pongWait
)

// RedisHub keeps local clients like Hub and relays everything it cannot
// deliver locally through Redis pub/sub to the other instances.
type RedisHub struct {
	*Hub

	redisClient *redis.Client
	serverId    string
}

// RedisMessage is what instances exchange over Redis.
type RedisMessage struct {
	FromServerId string `json:"fromServerId"`
	ToUserId     string `json:"toUserId,omitempty"`
	Room         string `json:"room,omitempty"`
	ExceptUserId string `json:"exceptUserId,omitempty"`
	Payload      []byte `json:"payload"`
}

func NewRedisHub(redisAddr, serverId string, log *zap.Logger, m *metrics.Server) IHub {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	return newRedisHub(rdb, serverId, log, m)
}

func newRedisHub(rdb *redis.Client, serverId string, log *zap.Logger, m *metrics.Server) *RedisHub {
	hub := newHub(log, m)
	hub.logger = hub.logger.With(zap.String("server_id", serverId))

	return &RedisHub{
		Hub:         hub,
		redisClient: rdb,
		serverId:    serverId,
	}
}

func (h *RedisHub) Run(ctx context.Context) error {
	pubsub := h.redisClient.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		close(h.done)
		return errors.Join(err, h.redisClient.Close())
	}

	go h.subscribeRedis(pubsub)

	onRegister, onUnregister := h.onClientRegister, h.onClientUnregister
	h.onClientRegister = func(client *UserClient) error {
		err := h.redisClient.Set(context.Background(), presenceKey(client.UserId), h.serverId, presenceTTL).Err()
		if onRegister != nil {
			err = errors.Join(err, onRegister(client))
		}
		return err
	}
	h.onClientUnregister = func(client *UserClient) error {
		err := h.redisClient.Del(context.Background(), presenceKey(client.UserId)).Err()
		if onUnregister != nil {
			err = errors.Join(err, onUnregister(client))
		}
		return err
	}

	err := h.Hub.Run(ctx)
	return errors.Join(err, h.redisClient.Close())
}

// subscribeRedis consumes messages published by the other instances.
func (h *RedisHub) subscribeRedis(pubsub *redis.PubSub) {
	h.logger.Info("redis subscriber started")
	for msg := range pubsub.Channel() {
		h.handleRedisMessage(msg.Channel, msg.Payload)
	}
}

func (h *RedisHub) handleRedisMessage(channel, payload string) {
	var m RedisMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		h.logger.Warn("bad redis message", zap.String("channel", channel), zap.Error(err))
		return
	}
	if m.FromServerId == h.serverId {
		return
	}

	switch {
	case channel == broadcastChannel:
		h.Hub.Broadcast(m.Payload)
	case channel == roomChannel:
		h.Hub.SendToRoom(m.Room, m.Payload, m.ExceptUserId)
	case m.ToUserId != "":
		h.Hub.sendLocal(m.ToUserId, m.Payload)
	}
}

// SendToClient delivers locally when the user is connected here and publishes
// to Redis otherwise.
func (h *RedisHub) SendToClient(userId string, message []byte) {
	if h.Hub.sendLocal(userId, message) {
		return
	}
	h.publish(userChannel+userId, RedisMessage{ToUserId: userId, Payload: message})
}

func (h *RedisHub) SendToRoom(room string, message []byte, exceptUserId string) {
	h.Hub.SendToRoom(room, message, exceptUserId)
	h.publish(roomChannel, RedisMessage{Room: room, ExceptUserId: exceptUserId, Payload: message})
}

func (h *RedisHub) Broadcast(message []byte) {
	h.Hub.Broadcast(message)
	h.publish(broadcastChannel, RedisMessage{Payload: message})
}

func (h *RedisHub) publish(channel string, m RedisMessage) {
	m.FromServerId = h.serverId
	data, err := json.Marshal(m)
	if err != nil {
		h.logger.Warn("marshal redis message", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		h.logger.Warn("publish to redis", zap.String("channel", channel), zap.Error(err))
	}
}

func presenceKey(userId string) string {
	return "user:" + userId + ":server"
}
