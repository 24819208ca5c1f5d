// Package localstore is the client's source of truth while offline. Every
// user write lands here first; sync flags record whether the version on disk
// has been confirmed accepted by the server.
package localstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sproutlog/sproutlog/internal/model"
)

// ErrNotFound is returned when a record does not exist locally.
var ErrNotFound = errors.New("localstore: record not found")

const schema = `
CREATE TABLE IF NOT EXISTS children (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    name       TEXT NOT NULL,
    birth_date TEXT NOT NULL,
    notes      TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_children_user ON children(user_id);

CREATE TABLE IF NOT EXISTS diary_entries (
    id         TEXT PRIMARY KEY,
    child_id   TEXT NOT NULL,
    title      TEXT NOT NULL,
    body       TEXT NOT NULL,
    mood       TEXT NOT NULL DEFAULT '',
    entry_date TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    is_synced  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_diary_child ON diary_entries(child_id);
CREATE INDEX IF NOT EXISTS idx_diary_unsynced ON diary_entries(is_synced);

CREATE TABLE IF NOT EXISTS media_records (
    id           TEXT PRIMARY KEY,
    child_id     TEXT NOT NULL,
    kind         TEXT NOT NULL,
    file_name    TEXT NOT NULL,
    content_type TEXT NOT NULL DEFAULT '',
    size_bytes   INTEGER NOT NULL DEFAULT 0,
    taken_at     TEXT NOT NULL,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL,
    is_uploaded  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_media_child ON media_records(child_id);
CREATE INDEX IF NOT EXISTS idx_media_unuploaded ON media_records(is_uploaded);
`

// Stores bundles the per-entity local stores sharing one database.
type Stores struct {
	Children *ChildStore
	Diary    *DiaryStore
	Media    *MediaStore
}

// New initializes the entity schema and returns the per-entity stores.
func New(db *sqlx.DB) (*Stores, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialize local store schema: %w", err)
	}
	return &Stores{
		Children: &ChildStore{db: db, obs: newObserverHub[model.Child]()},
		Diary:    &DiaryStore{db: db, obs: newObserverHub[model.DiaryEntry]()},
		Media:    &MediaStore{db: db, obs: newObserverHub[model.MediaRecord]()},
	}, nil
}

// Close shuts down all observer channels. The database handle is owned by
// the caller.
func (s *Stores) Close() {
	s.Children.obs.closeAll()
	s.Diary.obs.closeAll()
	s.Media.obs.closeAll()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}
