// Package model holds the core domain types shared by the local store,
// the remote SDK and the sync engine.
package model

import "time"

// EntityType identifies which collection a record belongs to.
type EntityType string

const (
	EntityChild EntityType = "child"
	EntityDiary EntityType = "diary"
	EntityMedia EntityType = "media"
)

// MediaKind is the type of a media record.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// Child is a child profile. Child records are considered synced once the
// server has accepted them, so they carry no sync flag.
type Child struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	BirthDate time.Time `json:"birth_date" db:"birth_date"`
	Notes     string    `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DiaryEntry is a dated diary note for a child.
//
// IsSynced means the version currently in the local store has been confirmed
// accepted by the server. A local edit always resets it to false.
type DiaryEntry struct {
	ID        string    `json:"id" db:"id"`
	ChildID   string    `json:"child_id" db:"child_id"`
	Title     string    `json:"title" db:"title"`
	Body      string    `json:"body" db:"body"`
	Mood      string    `json:"mood,omitempty" db:"mood"`
	EntryDate time.Time `json:"entry_date" db:"entry_date"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	IsSynced  bool      `json:"is_synced" db:"is_synced"`
}

// MediaRecord is metadata for a photo or video attached to a child.
// IsUploaded mirrors DiaryEntry.IsSynced.
type MediaRecord struct {
	ID          string    `json:"id" db:"id"`
	ChildID     string    `json:"child_id" db:"child_id"`
	Kind        MediaKind `json:"kind" db:"kind"`
	FileName    string    `json:"file_name" db:"file_name"`
	ContentType string    `json:"content_type" db:"content_type"`
	SizeBytes   int64     `json:"size_bytes" db:"size_bytes"`
	TakenAt     time.Time `json:"taken_at" db:"taken_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
	IsUploaded  bool      `json:"is_uploaded" db:"is_uploaded"`
}
