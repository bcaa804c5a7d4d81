package usecase

import (
	"go.uber.org/zap"

	"wesync/infrastructure/metrics"
	"wesync/internal/event"
)

// Publisher pushes encoded frames to connected clients. ws.IHub implements it.
type Publisher interface {
	SendToClient(userId string, message []byte)
	SendToRoom(room string, message []byte, exceptUserId string)
	Broadcast(message []byte)
}

type notifier struct {
	pub     Publisher
	metrics *metrics.Server
	logger  *zap.Logger
}

func newNotifier(pub Publisher, m *metrics.Server, log *zap.Logger) notifier {
	if m == nil {
		m = metrics.NewServer(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return notifier{pub: pub, metrics: m, logger: log}
}

func (n notifier) encode(ev event.Event) ([]byte, bool) {
	data, err := event.EncodeEvent(ev)
	if err != nil {
		n.logger.Error("encode push", zap.Stringer("kind", ev.Kind()), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (n notifier) toUsers(userIds []string, ev event.Event) {
	data, ok := n.encode(ev)
	if !ok {
		return
	}
	for _, userId := range userIds {
		n.pub.SendToClient(userId, data)
	}
	n.metrics.Pushes.WithLabelValues(ev.Kind().String()).Add(float64(len(userIds)))
}

func (n notifier) toRoom(room string, ev event.Event, exceptUserId string) {
	data, ok := n.encode(ev)
	if !ok {
		return
	}
	n.pub.SendToRoom(room, data, exceptUserId)
	n.metrics.Pushes.WithLabelValues(ev.Kind().String()).Inc()
}

func (n notifier) broadcast(ev event.Event) {
	data, ok := n.encode(ev)
	if !ok {
		return
	}
	n.pub.Broadcast(data)
	n.metrics.Pushes.WithLabelValues(ev.Kind().String()).Inc()
}
