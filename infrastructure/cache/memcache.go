package cache

import (
	"sync"
	"time"
)

// MemCache is an in-memory key/value cache with per-item TTL. A background
// cleanup goroutine runs when NewMemCache is given a positive cleanupInterval.
type MemCache[V any] struct {
	mu    sync.Mutex
	items map[string]item[V]
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type item[V any] struct {
	value      V
	expiration int64 // unix nano; 0 means no expiration
}

func NewMemCache[V any](cleanupInterval time.Duration) *MemCache[V] {
	m := &MemCache[V]{
		items: make(map[string]item[V]),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		m.wg.Add(1)
		go func() {
			ticker := time.NewTicker(cleanupInterval)
			defer ticker.Stop()
			defer m.wg.Done()
			for {
				select {
				case <-ticker.C:
					m.cleanup()
				case <-m.stop:
					return
				}
			}
		}()
	}
	return m
}

func (m *MemCache[V]) Set(key string, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = m.newItem(value, ttl)
}

func (m *MemCache[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if it.expired(m.now().UnixNano()) {
		delete(m.items, key)
		var zero V
		return zero, false
	}
	return it.value, true
}

// SetIfAbsent stores value unless a live item exists under key. It returns the
// value held after the call and whether it was already there.
func (m *MemCache[V]) SetIfAbsent(key string, value V, ttl time.Duration) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it, ok := m.items[key]; ok && !it.expired(m.now().UnixNano()) {
		return it.value, true
	}
	m.items[key] = m.newItem(value, ttl)
	return value, false
}

func (m *MemCache[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

// Len counts live items.
func (m *MemCache[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UnixNano()
	n := 0
	for _, it := range m.items {
		if !it.expired(now) {
			n++
		}
	}
	return n
}

func (m *MemCache[V]) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *MemCache[V]) newItem(value V, ttl time.Duration) item[V] {
	var exp int64
	if ttl > 0 {
		exp = m.now().Add(ttl).UnixNano()
	}
	return item[V]{value: value, expiration: exp}
}

func (it item[V]) expired(now int64) bool {
	return it.expiration != 0 && now > it.expiration
}

func (m *MemCache[V]) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UnixNano()
	for k, it := range m.items {
		if it.expired(now) {
			delete(m.items, k)
		}
	}
}
