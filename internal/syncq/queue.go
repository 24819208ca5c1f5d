// Package syncq holds pending sync operations in a SQLite-backed queue.
//
// The queue is keyed by (entity type, entity id): enqueuing an existing key
// replaces the stored item instead of duplicating it. Persisting the queue
// means a crash between a local write and the next drain does not lose the
// pending-sync intent.
package syncq

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sproutlog/sproutlog/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_queue (
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    op          TEXT NOT NULL,
    enqueued_at TEXT NOT NULL, -- RFC3339
    retry_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (entity_type, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_sync_queue_enqueued_at ON sync_queue(enqueued_at);
`

// dbSyncItem is the row shape; timestamps are stored as TEXT.
type dbSyncItem struct {
	EntityType string `db:"entity_type"`
	EntityID   string `db:"entity_id"`
	Op         string `db:"op"`
	EnqueuedAt string `db:"enqueued_at"`
	RetryCount int    `db:"retry_count"`
}

// Queue is the pending-sync work list. Only the sync engine and the sync
// repository may enqueue or remove items.
type Queue struct {
	db *sqlx.DB
	mu sync.Mutex
}

// New initializes the queue schema on the shared database handle.
func New(db *sqlx.DB) (*Queue, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialize sync queue schema: %w", err)
	}
	return &Queue{db: db}, nil
}

// Enqueue inserts the item, or replaces the stored item for the same key.
// On replace the op and enqueue time follow the new item, but the retry count
// never decreases, so a flapping record cannot dodge the retry cap.
func (q *Queue) Enqueue(item model.SyncItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}

	row := dbSyncItem{
		EntityType: string(item.EntityType),
		EntityID:   item.EntityID,
		Op:         string(item.Op),
		EnqueuedAt: item.EnqueuedAt.Format(time.RFC3339Nano),
		RetryCount: item.RetryCount,
	}

	query := `INSERT INTO sync_queue (entity_type, entity_id, op, enqueued_at, retry_count)
	          VALUES (:entity_type, :entity_id, :op, :enqueued_at, :retry_count)
	          ON CONFLICT(entity_type, entity_id) DO UPDATE SET
	              op = excluded.op,
	              enqueued_at = excluded.enqueued_at,
	              retry_count = MAX(sync_queue.retry_count, excluded.retry_count)`
	if _, err := q.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", item.EntityType, item.EntityID, err)
	}
	return nil
}

// Remove deletes the item for the key. Removing a missing key is a no-op.
func (q *Queue) Remove(entityType model.EntityType, entityID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.Exec("DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ?",
		string(entityType), entityID)
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", entityType, entityID, err)
	}
	return nil
}

// BumpRetry increments the retry count for the key and returns the new count.
func (q *Queue) BumpRetry(entityType model.EntityType, entityID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.Exec("UPDATE sync_queue SET retry_count = retry_count + 1 WHERE entity_type = ? AND entity_id = ?",
		string(entityType), entityID)
	if err != nil {
		return 0, fmt.Errorf("bump retry %s/%s: %w", entityType, entityID, err)
	}

	var count int
	err = q.db.Get(&count, "SELECT retry_count FROM sync_queue WHERE entity_type = ? AND entity_id = ?",
		string(entityType), entityID)
	if err != nil {
		return 0, fmt.Errorf("read retry %s/%s: %w", entityType, entityID, err)
	}
	return count, nil
}

// Snapshot returns the current contents ordered by enqueue time without
// mutating the queue.
func (q *Queue) Snapshot() ([]model.SyncItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var rows []dbSyncItem
	err := q.db.Select(&rows, `SELECT entity_type, entity_id, op, enqueued_at, retry_count
	                           FROM sync_queue ORDER BY enqueued_at, entity_type, entity_id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot sync queue: %w", err)
	}

	items := make([]model.SyncItem, 0, len(rows))
	for _, row := range rows {
		enqueuedAt, err := time.Parse(time.RFC3339Nano, row.EnqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("parse enqueued_at for %s/%s: %w", row.EntityType, row.EntityID, err)
		}
		items = append(items, model.SyncItem{
			EntityType: model.EntityType(row.EntityType),
			EntityID:   row.EntityID,
			Op:         model.SyncOp(row.Op),
			EnqueuedAt: enqueuedAt,
			RetryCount: row.RetryCount,
		})
	}
	return items, nil
}

// Stats returns pending counts grouped by entity type.
func (q *Queue) Stats() (map[model.EntityType]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.Query("SELECT entity_type, COUNT(*) FROM sync_queue GROUP BY entity_type")
	if err != nil {
		return nil, fmt.Errorf("sync queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[model.EntityType]int)
	for rows.Next() {
		var entityType string
		var count int
		if err := rows.Scan(&entityType, &count); err != nil {
			return nil, fmt.Errorf("scan sync queue stats: %w", err)
		}
		stats[model.EntityType(entityType)] = count
	}
	return stats, rows.Err()
}

// Len returns the number of queued items.
func (q *Queue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var count int
	if err := q.db.Get(&count, "SELECT COUNT(*) FROM sync_queue"); err != nil {
		return 0, fmt.Errorf("count sync queue: %w", err)
	}
	return count, nil
}
