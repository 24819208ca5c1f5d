package sync

import (
	"sync"
	"time"

	"github.com/sproutlog/sproutlog/internal/model"
)

const maxDeadLetters = 100

// DeadLetter is a queue item that was dropped instead of retried, either
// because the server rejected it outright or because it hit the retry cap.
type DeadLetter struct {
	Item      model.SyncItem
	Reason    string
	DroppedAt time.Time
}

// Tracker records per-user sync bookkeeping: last successful pass, whether
// auto-sync is running, and records dropped from the queue.
type Tracker struct {
	mu          sync.RWMutex
	lastSync    map[string]time.Time
	lastErr     map[string]error
	autoEnabled map[string]bool
	deadLetters []DeadLetter
}

func NewTracker() *Tracker {
	return &Tracker{
		lastSync:    make(map[string]time.Time),
		lastErr:     make(map[string]error),
		autoEnabled: make(map[string]bool),
	}
}

func (t *Tracker) SetLastSync(userID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSync[userID] = at
}

func (t *Tracker) LastSync(userID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.lastSync[userID]
	return at, ok
}

// SetLastError records the pass-level outcome of the most recent sync for a
// user. A nil err clears it.
func (t *Tracker) SetLastError(userID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.lastErr, userID)
		return
	}
	t.lastErr[userID] = err
}

func (t *Tracker) LastError(userID string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr[userID]
}

func (t *Tracker) SetAutoSync(userID string, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.autoEnabled[userID] = enabled
}

func (t *Tracker) AutoSyncEnabled(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.autoEnabled[userID]
}

// AddDeadLetter records a dropped item, keeping only the most recent ones.
func (t *Tracker) AddDeadLetter(item model.SyncItem, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadLetters = append(t.deadLetters, DeadLetter{
		Item:      item,
		Reason:    reason,
		DroppedAt: time.Now().UTC(),
	})
	if len(t.deadLetters) > maxDeadLetters {
		t.deadLetters = t.deadLetters[len(t.deadLetters)-maxDeadLetters:]
	}
}

func (t *Tracker) DeadLetters() []DeadLetter {
	t.mu.RLock()
	defer t.mu.RUnlock()
	letters := make([]DeadLetter, len(t.deadLetters))
	copy(letters, t.deadLetters)
	return letters
}
