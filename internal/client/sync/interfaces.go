// Package sync orchestrates convergence between the local store and the
// Sproutlog server: periodic reconciliation passes, reconnect-triggered
// queue drains and user-requested manual syncs.
package sync

import (
	"context"

	"github.com/sproutlog/sproutlog/internal/model"
)

// ChildLocal is the local persistence surface for child profiles.
type ChildLocal interface {
	GetByID(id string) (model.Child, error)
	GetByParent(userID string) ([]model.Child, error)
	Upsert(child model.Child) error
	Delete(id string) error
	ObserveByParent(userID string) (<-chan []model.Child, func())
}

// DiaryLocal is the local persistence surface for diary entries.
type DiaryLocal interface {
	GetByID(id string) (model.DiaryEntry, error)
	GetByParent(childID string) ([]model.DiaryEntry, error)
	GetUnsynced() ([]model.DiaryEntry, error)
	Upsert(entry model.DiaryEntry) error
	MarkSynced(id string) error
	Delete(id string) error
	ObserveByParent(childID string) (<-chan []model.DiaryEntry, func())
}

// MediaLocal is the local persistence surface for media records.
type MediaLocal interface {
	GetByID(id string) (model.MediaRecord, error)
	GetByParent(childID string) ([]model.MediaRecord, error)
	GetUnsynced() ([]model.MediaRecord, error)
	Upsert(record model.MediaRecord) error
	MarkSynced(id string) error
	Delete(id string) error
	ObserveByParent(childID string) (<-chan []model.MediaRecord, func())
}

// ChildRemote is the remote store surface for child profiles.
type ChildRemote interface {
	Create(ctx context.Context, child model.Child) (*model.Child, error)
	ListByParent(ctx context.Context, userID string) ([]model.Child, error)
	Update(ctx context.Context, child model.Child) error
	Delete(ctx context.Context, id string) error
}

// DiaryRemote is the remote store surface for diary entries.
type DiaryRemote interface {
	Create(ctx context.Context, entry model.DiaryEntry) (*model.DiaryEntry, error)
	ListByParent(ctx context.Context, childID string) ([]model.DiaryEntry, error)
	Update(ctx context.Context, entry model.DiaryEntry) error
	Delete(ctx context.Context, id string) error
}

// MediaRemote is the remote store surface for media records.
type MediaRemote interface {
	Create(ctx context.Context, record model.MediaRecord) (*model.MediaRecord, error)
	ListByParent(ctx context.Context, childID string) ([]model.MediaRecord, error)
	Update(ctx context.Context, record model.MediaRecord) error
	Delete(ctx context.Context, id string) error
}

// Local bundles the per-entity local stores.
type Local struct {
	Children ChildLocal
	Diary    DiaryLocal
	Media    MediaLocal
}

// Remote bundles the per-entity remote stores.
type Remote struct {
	Children ChildRemote
	Diary    DiaryRemote
	Media    MediaRemote
}

// Network is the connectivity monitor surface the engine consumes.
type Network interface {
	State() model.NetworkState
	Connected() bool
	Subscribe() (<-chan model.NetworkState, func())
}

// WorkQueue is the pending-sync queue surface.
type WorkQueue interface {
	Enqueue(item model.SyncItem) error
	Remove(entityType model.EntityType, entityID string) error
	BumpRetry(entityType model.EntityType, entityID string) (int, error)
	Snapshot() ([]model.SyncItem, error)
	Stats() (map[model.EntityType]int, error)
}
