package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sproutlog/sproutlog/internal/localstore"
	"github.com/sproutlog/sproutlog/internal/model"
	"github.com/sproutlog/sproutlog/internal/sproutsdk"
)

// EventFeed is the realtime remote-change stream the repository merges
// into the local store.
type EventFeed interface {
	Get() <-chan *sproutsdk.RemoteEvent
}

// Repository is the app-facing data surface. Every read is served from the
// local store, every write lands locally first, and the remote store is
// reconciled behind the scenes. The UI never talks to the server directly.
type Repository struct {
	local  Local
	remote Remote
	queue  WorkQueue
	net    Network
	engine *Engine
	feed   EventFeed

	tracker *Tracker
	userID  string
	cancel  context.CancelFunc
	done    chan struct{}
}

// RepoStatus is a point-in-time summary for the UI's sync indicator.
type RepoStatus struct {
	Network     model.NetworkState
	Pending     map[model.EntityType]int
	LastSync    time.Time
	LastError   error
	AutoSync    bool
	DeadLetters int
}

func NewRepository(local Local, remote Remote, queue WorkQueue, net Network, engine *Engine, feed EventFeed, tracker *Tracker) *Repository {
	return &Repository{
		local:   local,
		remote:  remote,
		queue:   queue,
		net:     net,
		engine:  engine,
		feed:    feed,
		tracker: tracker,
	}
}

// Start binds the repository to a user and begins merging the realtime
// event feed into the local store.
func (r *Repository) Start(ctx context.Context, userID string) {
	r.userID = userID
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.mergeLoop(ctx)
	slog.Info("repository start", "user", userID)
}

func (r *Repository) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
}

// SyncNow runs one full reconciliation pass for the bound user.
func (r *Repository) SyncNow(ctx context.Context) (*SyncResult, error) {
	return r.engine.ManualSync(ctx, r.userID)
}

func (r *Repository) StartAutoSync() error {
	return r.engine.StartAutoSync(r.userID)
}

func (r *Repository) StopAutoSync() {
	r.engine.StopAutoSync()
}

func (r *Repository) Status() (*RepoStatus, error) {
	pending, err := r.queue.Stats()
	if err != nil {
		return nil, err
	}
	lastSync, _ := r.tracker.LastSync(r.userID)
	return &RepoStatus{
		Network:     r.net.State(),
		Pending:     pending,
		LastSync:    lastSync,
		LastError:   r.tracker.LastError(r.userID),
		AutoSync:    r.tracker.AutoSyncEnabled(r.userID),
		DeadLetters: len(r.tracker.DeadLetters()),
	}, nil
}

// NetworkAvailable reports whether the remote store is currently reachable.
func (r *Repository) NetworkAvailable() bool {
	return r.net.Connected()
}

// QueueStats returns pending sync work counts by entity type.
func (r *Repository) QueueStats() (map[model.EntityType]int, error) {
	return r.queue.Stats()
}

// --- children ---

func (r *Repository) CreateChild(ctx context.Context, child model.Child) (*model.Child, error) {
	if child.ID == "" {
		child.ID = uuid.NewString()
	}
	child.UserID = r.userID
	now := time.Now().UTC()
	if child.CreatedAt.IsZero() {
		child.CreatedAt = now
	}
	child.UpdatedAt = now

	if err := r.local.Children.Upsert(child); err != nil {
		return nil, err
	}
	if err := r.reconcileChild(ctx, &child); err != nil {
		return nil, err
	}
	return &child, nil
}

func (r *Repository) UpdateChild(ctx context.Context, child model.Child) error {
	child.UpdatedAt = time.Now().UTC()
	if err := r.local.Children.Upsert(child); err != nil {
		return err
	}
	return r.reconcileChild(ctx, &child)
}

// reconcileChild pushes a locally-written child to the server when it is
// reachable, or queues it otherwise. A server rejection is surfaced to the
// caller; the local copy stays so nothing the user typed is lost.
func (r *Repository) reconcileChild(ctx context.Context, child *model.Child) error {
	if !r.net.Connected() {
		return r.enqueue(model.EntityChild, child.ID, model.OpUpsert)
	}

	err := r.remote.Children.Update(ctx, *child)
	if errors.Is(err, sproutsdk.ErrNotFound) {
		created, createErr := r.remote.Children.Create(ctx, *child)
		if createErr == nil {
			*child = *created
			return r.local.Children.Upsert(*created)
		}
		err = createErr
	}
	if err == nil {
		return nil
	}
	if sproutsdk.IsRetryable(err) {
		slog.Debug("child push failed, queued", "id", child.ID, "error", err)
		return r.enqueue(model.EntityChild, child.ID, model.OpUpsert)
	}
	return fmt.Errorf("server rejected child: %w", err)
}

func (r *Repository) GetChild(id string) (model.Child, error) {
	return r.local.Children.GetByID(id)
}

func (r *Repository) ListChildren() ([]model.Child, error) {
	return r.local.Children.GetByParent(r.userID)
}

func (r *Repository) ObserveChildren() (<-chan []model.Child, func()) {
	return r.local.Children.ObserveByParent(r.userID)
}

// DeleteChild removes the child everywhere. When the server is reachable it
// is deleted remotely first so a rejection never leaves a ghost record that
// the next pull would resurrect.
func (r *Repository) DeleteChild(ctx context.Context, id string) error {
	if r.net.Connected() {
		err := r.remote.Children.Delete(ctx, id)
		if err != nil && !sproutsdk.IsRetryable(err) {
			return fmt.Errorf("server rejected child delete: %w", err)
		}
		if err == nil {
			if err := r.local.Children.Delete(id); err != nil {
				return err
			}
			return r.queue.Remove(model.EntityChild, id)
		}
	}
	if err := r.local.Children.Delete(id); err != nil {
		return err
	}
	return r.enqueue(model.EntityChild, id, model.OpDelete)
}

// --- diary ---

func (r *Repository) CreateDiaryEntry(ctx context.Context, entry model.DiaryEntry) (*model.DiaryEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.IsSynced = false

	if err := r.local.Diary.Upsert(entry); err != nil {
		return nil, err
	}
	if err := r.reconcileDiary(ctx, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *Repository) UpdateDiaryEntry(ctx context.Context, entry model.DiaryEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	entry.IsSynced = false
	if err := r.local.Diary.Upsert(entry); err != nil {
		return err
	}
	return r.reconcileDiary(ctx, &entry)
}

func (r *Repository) reconcileDiary(ctx context.Context, entry *model.DiaryEntry) error {
	if !r.net.Connected() {
		return r.enqueue(model.EntityDiary, entry.ID, model.OpUpsert)
	}

	err := r.remote.Diary.Update(ctx, *entry)
	if errors.Is(err, sproutsdk.ErrNotFound) {
		_, err = r.remote.Diary.Create(ctx, *entry)
	}
	if err == nil {
		entry.IsSynced = true
		return r.local.Diary.MarkSynced(entry.ID)
	}
	if sproutsdk.IsRetryable(err) {
		slog.Debug("diary push failed, queued", "id", entry.ID, "error", err)
		return r.enqueue(model.EntityDiary, entry.ID, model.OpUpsert)
	}
	return fmt.Errorf("server rejected diary entry: %w", err)
}

func (r *Repository) GetDiaryEntry(id string) (model.DiaryEntry, error) {
	return r.local.Diary.GetByID(id)
}

func (r *Repository) ListDiaryEntries(childID string) ([]model.DiaryEntry, error) {
	return r.local.Diary.GetByParent(childID)
}

func (r *Repository) ObserveDiaryEntries(childID string) (<-chan []model.DiaryEntry, func()) {
	return r.local.Diary.ObserveByParent(childID)
}

func (r *Repository) DeleteDiaryEntry(ctx context.Context, id string) error {
	if r.net.Connected() {
		err := r.remote.Diary.Delete(ctx, id)
		if err != nil && !sproutsdk.IsRetryable(err) {
			return fmt.Errorf("server rejected diary delete: %w", err)
		}
		if err == nil {
			if err := r.local.Diary.Delete(id); err != nil {
				return err
			}
			return r.queue.Remove(model.EntityDiary, id)
		}
	}
	if err := r.local.Diary.Delete(id); err != nil {
		return err
	}
	return r.enqueue(model.EntityDiary, id, model.OpDelete)
}

// --- media ---

func (r *Repository) CreateMediaRecord(ctx context.Context, record model.MediaRecord) (*model.MediaRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.IsUploaded = false

	if err := r.local.Media.Upsert(record); err != nil {
		return nil, err
	}
	if err := r.reconcileMedia(ctx, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *Repository) UpdateMediaRecord(ctx context.Context, record model.MediaRecord) error {
	record.UpdatedAt = time.Now().UTC()
	record.IsUploaded = false
	if err := r.local.Media.Upsert(record); err != nil {
		return err
	}
	return r.reconcileMedia(ctx, &record)
}

func (r *Repository) reconcileMedia(ctx context.Context, record *model.MediaRecord) error {
	if !r.net.Connected() {
		return r.enqueue(model.EntityMedia, record.ID, model.OpUpsert)
	}

	err := r.remote.Media.Update(ctx, *record)
	if errors.Is(err, sproutsdk.ErrNotFound) {
		_, err = r.remote.Media.Create(ctx, *record)
	}
	if err == nil {
		record.IsUploaded = true
		return r.local.Media.MarkSynced(record.ID)
	}
	if sproutsdk.IsRetryable(err) {
		slog.Debug("media push failed, queued", "id", record.ID, "error", err)
		return r.enqueue(model.EntityMedia, record.ID, model.OpUpsert)
	}
	return fmt.Errorf("server rejected media record: %w", err)
}

func (r *Repository) GetMediaRecord(id string) (model.MediaRecord, error) {
	return r.local.Media.GetByID(id)
}

func (r *Repository) ListMediaRecords(childID string) ([]model.MediaRecord, error) {
	return r.local.Media.GetByParent(childID)
}

func (r *Repository) ObserveMediaRecords(childID string) (<-chan []model.MediaRecord, func()) {
	return r.local.Media.ObserveByParent(childID)
}

func (r *Repository) DeleteMediaRecord(ctx context.Context, id string) error {
	if r.net.Connected() {
		err := r.remote.Media.Delete(ctx, id)
		if err != nil && !sproutsdk.IsRetryable(err) {
			return fmt.Errorf("server rejected media delete: %w", err)
		}
		if err == nil {
			if err := r.local.Media.Delete(id); err != nil {
				return err
			}
			return r.queue.Remove(model.EntityMedia, id)
		}
	}
	if err := r.local.Media.Delete(id); err != nil {
		return err
	}
	return r.enqueue(model.EntityMedia, id, model.OpDelete)
}

func (r *Repository) enqueue(entityType model.EntityType, id string, op model.SyncOp) error {
	return r.queue.Enqueue(model.SyncItem{
		EntityType: entityType,
		EntityID:   id,
		Op:         op,
		EnqueuedAt: time.Now().UTC(),
	})
}

// mergeLoop applies realtime remote changes to the local store. Records
// with unflushed local edits are left alone: the local version wins until
// it has been pushed.
func (r *Repository) mergeLoop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.feed.Get():
			if !ok {
				return
			}
			if err := r.mergeEvent(event); err != nil {
				slog.Warn("merge remote event", "entityType", event.EntityType, "parent", event.ParentID, "error", err)
			}
		}
	}
}

func (r *Repository) mergeEvent(event *sproutsdk.RemoteEvent) error {
	pending, err := r.pendingKeys()
	if err != nil {
		return err
	}

	switch event.EntityType {
	case model.EntityChild:
		children, err := event.DecodeChildren()
		if err != nil {
			return err
		}
		for _, child := range children {
			if pending[model.SyncItem{EntityType: model.EntityChild, EntityID: child.ID}.Key()] {
				continue
			}
			if err := r.local.Children.Upsert(child); err != nil {
				return err
			}
		}
	case model.EntityDiary:
		entries, err := event.DecodeDiary()
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if r.diaryDirty(entry.ID) || pending[model.SyncItem{EntityType: model.EntityDiary, EntityID: entry.ID}.Key()] {
				continue
			}
			entry.IsSynced = true
			if err := r.local.Diary.Upsert(entry); err != nil {
				return err
			}
		}
	case model.EntityMedia:
		records, err := event.DecodeMedia()
		if err != nil {
			return err
		}
		for _, record := range records {
			if r.mediaDirty(record.ID) || pending[model.SyncItem{EntityType: model.EntityMedia, EntityID: record.ID}.Key()] {
				continue
			}
			record.IsUploaded = true
			if err := r.local.Media.Upsert(record); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown entity type %q", event.EntityType)
	}
	return nil
}

func (r *Repository) diaryDirty(id string) bool {
	entry, err := r.local.Diary.GetByID(id)
	if errors.Is(err, localstore.ErrNotFound) {
		return false
	}
	return err == nil && !entry.IsSynced
}

func (r *Repository) mediaDirty(id string) bool {
	record, err := r.local.Media.GetByID(id)
	if errors.Is(err, localstore.ErrNotFound) {
		return false
	}
	return err == nil && !record.IsUploaded
}

func (r *Repository) pendingKeys() (map[string]bool, error) {
	items, err := r.queue.Snapshot()
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(items))
	for _, item := range items {
		keys[item.Key()] = true
	}
	return keys, nil
}
