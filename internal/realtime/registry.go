package realtime

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"wesync/internal/event"
)

// Subscription identifies one handler registered with On.
type Subscription struct {
	kind event.Kind
	id   uint64
}

type registry struct {
	mu       sync.RWMutex
	nextId   uint64
	handlers map[event.Kind]map[uint64]event.Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[event.Kind]map[uint64]event.Handler)}
}

func (r *registry) add(kind event.Kind, h event.Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextId++
	if r.handlers[kind] == nil {
		r.handlers[kind] = make(map[uint64]event.Handler)
	}
	r.handlers[kind][r.nextId] = h
	return Subscription{kind: kind, id: r.nextId}
}

func (r *registry) remove(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hs, ok := r.handlers[sub.kind]
	if !ok {
		return
	}
	delete(hs, sub.id)
	if len(hs) == 0 {
		delete(r.handlers, sub.kind)
	}
}

// snapshot returns handlers for kind in registration order.
func (r *registry) snapshot(kind event.Kind) []event.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hs := r.handlers[kind]
	if len(hs) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]event.Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, hs[id])
	}
	return out
}

// dispatcher delivers events to handlers on a single goroutine in the order they
// were queued. Queueing never blocks, so it is safe while holding manager locks.
type dispatcher struct {
	registry *registry
	logger   *zap.Logger

	mu       sync.Mutex
	queue    []event.Event
	wake     chan struct{}
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

func newDispatcher(r *registry, logger *zap.Logger) *dispatcher {
	d := &dispatcher{
		registry: r,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(ev event.Event) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.exited)
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			ev := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()

			d.deliver(ev)

			select {
			case <-d.done:
				return
			default:
			}
		}
	}
}

func (d *dispatcher) deliver(ev event.Event) {
	for _, h := range d.registry.snapshot(ev.Kind()) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("event handler panic recovered",
						zap.Stringer("kind", ev.Kind()),
						zap.Any("panic", r))
				}
			}()
			h(ev)
		}()
	}
}

func (d *dispatcher) stop() {
	d.stopOnce.Do(func() { close(d.done) })
	<-d.exited
}
