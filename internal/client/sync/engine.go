package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/sproutlog/sproutlog/internal/localstore"
	"github.com/sproutlog/sproutlog/internal/model"
	"github.com/sproutlog/sproutlog/internal/sproutsdk"
)

const (
	defaultSyncInterval = 30 * time.Second
	defaultDrainDelay   = 100 * time.Millisecond
	defaultMaxRetries   = 5
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrAutoSyncRunning    = errors.New("auto sync already running")
	ErrEngineNotStarted   = errors.New("sync engine not started")
)

// SyncResult aggregates one reconciliation pass.
type SyncResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Drained   int
	Pushed    int
	Pulled    int
	Failed    int
	Dropped   int

	firstErr error
}

// Err returns the first error the pass hit, if any. Per-item failures are
// absorbed into Failed and do not count; only pass-level failures (like the
// pull listing calls) do.
func (r *SyncResult) Err() error {
	return r.firstErr
}

func (r *SyncResult) recordErr(err error) {
	if r.firstErr == nil {
		r.firstErr = err
	}
}

// Engine runs the reconciliation passes. At most one pass is in flight per
// user at any time, whether it was triggered by the timer, a reconnect edge
// or a manual request.
type Engine struct {
	local   Local
	remote  Remote
	queue   WorkQueue
	net     Network
	tracker *Tracker

	syncInterval time.Duration
	drainDelay   time.Duration
	maxRetries   int

	flightMu sync.Mutex
	flights  map[string]*sync.Mutex
	sf       singleflight.Group

	user string

	autoMu     sync.Mutex
	autoUser   string
	autoCancel context.CancelFunc

	baseCtx     context.Context
	unsubscribe func()
	wg          sync.WaitGroup
}

// EngineOption tweaks engine timing, mainly for tests.
type EngineOption func(*Engine)

func WithSyncInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.syncInterval = d }
}

func WithDrainDelay(d time.Duration) EngineOption {
	return func(e *Engine) { e.drainDelay = d }
}

func WithMaxRetries(n int) EngineOption {
	return func(e *Engine) { e.maxRetries = n }
}

func NewEngine(local Local, remote Remote, queue WorkQueue, net Network, tracker *Tracker, opts ...EngineOption) *Engine {
	e := &Engine{
		local:        local,
		remote:       remote,
		queue:        queue,
		net:          net,
		tracker:      tracker,
		syncInterval: defaultSyncInterval,
		drainDelay:   defaultDrainDelay,
		maxRetries:   defaultMaxRetries,
		flights:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start binds the engine to a user and subscribes it to connectivity
// transitions. Each edge into connected triggers exactly one queue drain,
// keyed by the bound user so it shares the flight lock with every other
// trigger for that user.
func (e *Engine) Start(ctx context.Context, userID string) {
	e.baseCtx = ctx
	e.user = userID

	transitions, unsubscribe := e.net.Subscribe()
	e.unsubscribe = unsubscribe

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case state, ok := <-transitions:
				if !ok {
					return
				}
				if state != model.NetworkConnected {
					continue
				}
				if _, err := e.DrainQueue(ctx, e.user); err != nil && !errors.Is(err, ErrSyncAlreadyRunning) {
					slog.Error("reconnect drain", "error", err)
				}
			}
		}
	}()

	slog.Info("sync engine start")
}

// Shutdown stops auto-sync, detaches from the connectivity monitor and
// waits for background work to finish. In-flight item operations run to
// completion so no record is left half-written.
func (e *Engine) Shutdown() {
	e.StopAutoSync()
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	e.wg.Wait()
	slog.Info("sync engine stop")
}

// StartAutoSync begins the periodic reconciliation loop for a user. The
// first pass runs immediately, then on a fixed interval.
func (e *Engine) StartAutoSync(userID string) error {
	if e.baseCtx == nil {
		return ErrEngineNotStarted
	}

	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if e.autoCancel != nil {
		return ErrAutoSyncRunning
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.autoUser = userID
	e.autoCancel = cancel
	e.tracker.SetAutoSync(userID, true)

	e.wg.Add(1)
	go e.autoSyncLoop(loopCtx, userID)

	slog.Info("auto sync start", "user", userID, "interval", e.syncInterval)
	return nil
}

// StopAutoSync cancels future iterations. It does not cancel a pass that is
// already running.
func (e *Engine) StopAutoSync() {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if e.autoCancel == nil {
		return
	}
	e.autoCancel()
	e.autoCancel = nil
	e.tracker.SetAutoSync(e.autoUser, false)
	slog.Info("auto sync stop", "user", e.autoUser)
	e.autoUser = ""
}

func (e *Engine) autoSyncLoop(loopCtx context.Context, userID string) {
	defer e.wg.Done()

	// timer, not ticker, so a slow pass never queues ticks
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-timer.C:
			// the pass runs on the engine context: stopping auto-sync
			// must not abort an iteration already in progress
			result, err := e.runPass(e.baseCtx, userID)
			switch {
			case errors.Is(err, ErrSyncAlreadyRunning):
				// coalesced with another trigger
			case err != nil:
				slog.Error("periodic sync", "user", userID, "error", err)
			case result.Err() != nil:
				slog.Error("periodic sync", "user", userID, "error", result.Err())
			default:
				logResult("periodic sync", userID, result)
			}
			timer.Reset(e.syncInterval)
		}
	}
}

// ManualSync runs one reconciliation pass and returns its aggregate result.
// Concurrent manual requests for the same user share a single pass.
func (e *Engine) ManualSync(ctx context.Context, userID string) (*SyncResult, error) {
	value, err, _ := e.sf.Do(userID, func() (any, error) {
		return e.runPass(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	result := value.(*SyncResult)
	logResult("manual sync", userID, result)
	return result, nil
}

// DrainQueue processes the queue's current snapshot sequentially against the
// remote store. An empty queue is a clean no-op.
func (e *Engine) DrainQueue(ctx context.Context, userID string) (*SyncResult, error) {
	mu := e.userFlight(userID)
	if !mu.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer mu.Unlock()

	result := &SyncResult{StartTime: time.Now()}
	e.drainLocked(ctx, result)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	logResult("drain", userID, result)
	return result, nil
}

// runPass is the single reconciliation pass: drain queued work, push
// unsynced records, pull authoritative remote state. Push always precedes
// pull so a successful local-origin write is never clobbered by a stale
// pull in the same pass.
func (e *Engine) runPass(ctx context.Context, userID string) (*SyncResult, error) {
	mu := e.userFlight(userID)
	if !mu.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer mu.Unlock()

	result := &SyncResult{StartTime: time.Now()}

	e.drainLocked(ctx, result)
	e.pushLocked(ctx, result)
	e.pullLocked(ctx, userID, result)

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.tracker.SetLastError(userID, result.Err())
	if result.Err() == nil {
		e.tracker.SetLastSync(userID, result.EndTime)
	}
	return result, nil
}

// drainLocked walks the queue snapshot sequentially. Items that succeed are
// removed; retryable failures stay queued with a bumped retry count;
// rejections and items past the retry cap are dropped to the dead-letter
// record. A small delay between items avoids bursting the server.
func (e *Engine) drainLocked(ctx context.Context, result *SyncResult) {
	items, err := e.queue.Snapshot()
	if err != nil {
		result.recordErr(fmt.Errorf("queue snapshot: %w", err))
		return
	}

	for i, item := range items {
		if i > 0 {
			select {
			case <-ctx.Done():
				result.recordErr(ctx.Err())
				return
			case <-time.After(e.drainDelay):
			}
		}

		err := e.applyItem(ctx, item)
		if err == nil {
			if err := e.queue.Remove(item.EntityType, item.EntityID); err != nil {
				result.recordErr(err)
				return
			}
			result.Drained++
			continue
		}

		result.Failed++

		if !sproutsdk.IsRetryable(err) {
			slog.Warn("sync item rejected, dropping", "entityType", item.EntityType, "id", item.EntityID, "op", item.Op, "error", err)
			e.dropItem(item, err.Error(), result)
			continue
		}

		count, bumpErr := e.queue.BumpRetry(item.EntityType, item.EntityID)
		if bumpErr != nil {
			result.recordErr(bumpErr)
			return
		}
		if count >= e.maxRetries {
			slog.Warn("sync item over retry cap, dropping", "entityType", item.EntityType, "id", item.EntityID, "retries", count, "error", err)
			e.dropItem(item, fmt.Sprintf("retry cap reached: %v", err), result)
			continue
		}
		slog.Debug("sync item failed, kept for retry", "entityType", item.EntityType, "id", item.EntityID, "retries", count, "error", err)
	}
}

func (e *Engine) dropItem(item model.SyncItem, reason string, result *SyncResult) {
	if err := e.queue.Remove(item.EntityType, item.EntityID); err != nil {
		result.recordErr(err)
		return
	}
	e.tracker.AddDeadLetter(item, reason)
	result.Dropped++
}

// applyItem performs the remote operation a queued item stands for.
func (e *Engine) applyItem(ctx context.Context, item model.SyncItem) error {
	if item.Op == model.OpDelete {
		switch item.EntityType {
		case model.EntityChild:
			return e.remote.Children.Delete(ctx, item.EntityID)
		case model.EntityDiary:
			return e.remote.Diary.Delete(ctx, item.EntityID)
		case model.EntityMedia:
			return e.remote.Media.Delete(ctx, item.EntityID)
		}
		return fmt.Errorf("unknown entity type %q", item.EntityType)
	}

	switch item.EntityType {
	case model.EntityChild:
		child, err := e.local.Children.GetByID(item.EntityID)
		if errors.Is(err, localstore.ErrNotFound) {
			// deleted locally since it was queued, nothing left to push
			return nil
		}
		if err != nil {
			return err
		}
		return e.pushChild(ctx, child)
	case model.EntityDiary:
		entry, err := e.local.Diary.GetByID(item.EntityID)
		if errors.Is(err, localstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return e.pushDiary(ctx, entry)
	case model.EntityMedia:
		record, err := e.local.Media.GetByID(item.EntityID)
		if errors.Is(err, localstore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return e.pushMedia(ctx, record)
	}
	return fmt.Errorf("unknown entity type %q", item.EntityType)
}

// pushLocked uploads every locally-unsynced diary and media record. Each
// item is independent: one failure enqueues that item and moves on.
func (e *Engine) pushLocked(ctx context.Context, result *SyncResult) {
	entries, err := e.local.Diary.GetUnsynced()
	if err != nil {
		result.recordErr(fmt.Errorf("scan unsynced diary entries: %w", err))
		return
	}
	for _, entry := range entries {
		if err := e.pushDiary(ctx, entry); err != nil {
			result.Failed++
			slog.Debug("push diary entry failed, queued", "id", entry.ID, "error", err)
			if err := e.queue.Enqueue(model.SyncItem{EntityType: model.EntityDiary, EntityID: entry.ID, Op: model.OpUpsert}); err != nil {
				result.recordErr(err)
				return
			}
			continue
		}
		result.Pushed++
	}

	records, err := e.local.Media.GetUnsynced()
	if err != nil {
		result.recordErr(fmt.Errorf("scan unuploaded media records: %w", err))
		return
	}
	for _, record := range records {
		if err := e.pushMedia(ctx, record); err != nil {
			result.Failed++
			slog.Debug("push media record failed, queued", "id", record.ID, "error", err)
			if err := e.queue.Enqueue(model.SyncItem{EntityType: model.EntityMedia, EntityID: record.ID, Op: model.OpUpsert}); err != nil {
				result.recordErr(err)
				return
			}
			continue
		}
		result.Pushed++
	}
}

func (e *Engine) pushChild(ctx context.Context, child model.Child) error {
	err := e.remote.Children.Update(ctx, child)
	if errors.Is(err, sproutsdk.ErrNotFound) {
		created, createErr := e.remote.Children.Create(ctx, child)
		if createErr != nil {
			return createErr
		}
		// server response is authoritative once accepted
		return e.local.Children.Upsert(*created)
	}
	return err
}

func (e *Engine) pushDiary(ctx context.Context, entry model.DiaryEntry) error {
	err := e.remote.Diary.Update(ctx, entry)
	if errors.Is(err, sproutsdk.ErrNotFound) {
		if _, err := e.remote.Diary.Create(ctx, entry); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return e.local.Diary.MarkSynced(entry.ID)
}

func (e *Engine) pushMedia(ctx context.Context, record model.MediaRecord) error {
	err := e.remote.Media.Update(ctx, record)
	if errors.Is(err, sproutsdk.ErrNotFound) {
		if _, err := e.remote.Media.Create(ctx, record); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	slog.Debug("media record uploaded", "id", record.ID, "file", record.FileName, "size", humanize.Bytes(uint64(record.SizeBytes)))
	return e.local.Media.MarkSynced(record.ID)
}

// pullLocked downloads the authoritative remote collections and upserts
// them locally as synced. Records the response omits stay untouched: the
// local store is the union, never replaced wholesale.
func (e *Engine) pullLocked(ctx context.Context, userID string, result *SyncResult) {
	children, err := e.remote.Children.ListByParent(ctx, userID)
	if err != nil {
		result.recordErr(fmt.Errorf("pull children: %w", err))
		return
	}

	for _, child := range children {
		if err := e.local.Children.Upsert(child); err != nil {
			result.recordErr(err)
			return
		}
		result.Pulled++

		entries, err := e.remote.Diary.ListByParent(ctx, child.ID)
		if err != nil {
			// keep going: one child's diary failing must not abort the rest
			result.Failed++
			slog.Debug("pull diary entries failed", "child", child.ID, "error", err)
		} else {
			for _, entry := range entries {
				entry.IsSynced = true
				if err := e.local.Diary.Upsert(entry); err != nil {
					result.recordErr(err)
					return
				}
				result.Pulled++
			}
		}

		records, err := e.remote.Media.ListByParent(ctx, child.ID)
		if err != nil {
			result.Failed++
			slog.Debug("pull media records failed", "child", child.ID, "error", err)
			continue
		}
		for _, record := range records {
			record.IsUploaded = true
			if err := e.local.Media.Upsert(record); err != nil {
				result.recordErr(err)
				return
			}
			result.Pulled++
		}
	}
}

func (e *Engine) userFlight(userID string) *sync.Mutex {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	mu, ok := e.flights[userID]
	if !ok {
		mu = &sync.Mutex{}
		e.flights[userID] = mu
	}
	return mu
}

func logResult(kind, userID string, result *SyncResult) {
	if result.Drained == 0 && result.Pushed == 0 && result.Pulled == 0 && result.Failed == 0 && result.Dropped == 0 {
		return
	}
	slog.Info(kind,
		"user", userID,
		"drained", result.Drained,
		"pushed", result.Pushed,
		"pulled", result.Pulled,
		"failed", result.Failed,
		"dropped", result.Dropped,
		"took", result.Duration,
	)
}
