package websocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wesync/internal/event"
)

const snapshotWriteWait = 5 * time.Second

// writePresenceSnapshot tells a fresh connection who is already online. It runs
// before the write pump starts, so it writes to conn directly.
func (h *WebsocketHandler) writePresenceSnapshot(ctx context.Context, conn *websocket.Conn, userId string) {
	users, err := h.userUc.GetOnlineUser(ctx, nil)
	if err != nil {
		h.logger.Warn("presence snapshot", zap.Error(err))
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(snapshotWriteWait))
	for _, user := range users {
		if user.Id == userId {
			continue
		}
		data, err := event.EncodeEvent(event.PresenceChanged{UserId: user.Id, Online: true})
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("write presence snapshot", zap.Error(err))
			return
		}
	}
	_ = conn.SetWriteDeadline(time.Time{})
}
