package localstore

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	observerBufferSize = 4
	observerCacheSize  = 128
	observerCacheTTL   = 5 * time.Minute
)

// observerHub fans out per-parent list snapshots to subscribers. The last
// snapshot per parent is kept in a small expiring LRU so a new subscriber
// gets an immediate replay without re-querying.
type observerHub[T any] struct {
	mu    sync.Mutex
	subs  map[string][]chan []T
	cache *expirable.LRU[string, []T]
}

func newObserverHub[T any]() *observerHub[T] {
	return &observerHub[T]{
		subs:  make(map[string][]chan []T),
		cache: expirable.NewLRU[string, []T](observerCacheSize, nil, observerCacheTTL),
	}
}

// subscribe registers a listener for a parent id. The current snapshot is
// delivered immediately, from cache when fresh, otherwise via load.
func (h *observerHub[T]) subscribe(parentID string, load func() ([]T, error)) (<-chan []T, func()) {
	ch := make(chan []T, observerBufferSize)

	snapshot, ok := h.cache.Get(parentID)
	if !ok && load != nil {
		if list, err := load(); err == nil {
			snapshot = list
			ok = true
			h.cache.Add(parentID, list)
		}
	}
	if ok {
		ch <- snapshot
	}

	h.mu.Lock()
	h.subs[parentID] = append(h.subs[parentID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		channels := h.subs[parentID]
		for i, sub := range channels {
			if sub == ch {
				close(sub)
				h.subs[parentID] = append(channels[:i], channels[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

// publish caches and broadcasts a fresh snapshot for a parent id. Slow
// subscribers are skipped rather than blocked.
func (h *observerHub[T]) publish(parentID string, list []T) {
	h.cache.Add(parentID, list)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[parentID] {
		select {
		case sub <- list:
		default:
		}
	}
}

// invalidate drops the cached snapshot for a parent id.
func (h *observerHub[T]) invalidate(parentID string) {
	h.cache.Remove(parentID)
}

// closeAll closes every subscriber channel.
func (h *observerHub[T]) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for parentID, channels := range h.subs {
		for _, sub := range channels {
			close(sub)
		}
		delete(h.subs, parentID)
	}
}
