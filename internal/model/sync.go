package model

import "time"

// SyncOp is the remote operation a queued item represents.
type SyncOp string

const (
	OpUpsert SyncOp = "upsert"
	OpDelete SyncOp = "delete"
)

// SyncItem is one unit of pending sync work. At most one item exists per
// (EntityType, EntityID) pair; re-enqueuing the same key replaces the stored
// item instead of duplicating it.
type SyncItem struct {
	EntityType EntityType `db:"entity_type"`
	EntityID   string     `db:"entity_id"`
	Op         SyncOp     `db:"op"`
	EnqueuedAt time.Time  `db:"enqueued_at"`
	RetryCount int        `db:"retry_count"`
}

// Key returns the dedup key of the item.
func (s SyncItem) Key() string {
	return string(s.EntityType) + "/" + s.EntityID
}

// NetworkState is the de-flickered reachability state of the remote store.
// Connected means the transport is present and the server answered a probe,
// not merely that a link exists.
type NetworkState string

const (
	NetworkUnknown      NetworkState = "unknown"
	NetworkConnected    NetworkState = "connected"
	NetworkDisconnected NetworkState = "disconnected"
)
