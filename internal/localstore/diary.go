package localstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sproutlog/sproutlog/internal/model"
)

type dbDiaryEntry struct {
	ID        string `db:"id"`
	ChildID   string `db:"child_id"`
	Title     string `db:"title"`
	Body      string `db:"body"`
	Mood      string `db:"mood"`
	EntryDate string `db:"entry_date"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
	IsSynced  bool   `db:"is_synced"`
}

func (r dbDiaryEntry) toModel() (model.DiaryEntry, error) {
	entryDate, err := parseTime(r.EntryDate)
	if err != nil {
		return model.DiaryEntry{}, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return model.DiaryEntry{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return model.DiaryEntry{}, err
	}
	return model.DiaryEntry{
		ID:        r.ID,
		ChildID:   r.ChildID,
		Title:     r.Title,
		Body:      r.Body,
		Mood:      r.Mood,
		EntryDate: entryDate,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		IsSynced:  r.IsSynced,
	}, nil
}

func toDBDiaryEntry(e model.DiaryEntry) dbDiaryEntry {
	return dbDiaryEntry{
		ID:        e.ID,
		ChildID:   e.ChildID,
		Title:     e.Title,
		Body:      e.Body,
		Mood:      e.Mood,
		EntryDate: fmtTime(e.EntryDate),
		CreatedAt: fmtTime(e.CreatedAt),
		UpdatedAt: fmtTime(e.UpdatedAt),
		IsSynced:  e.IsSynced,
	}
}

// DiaryStore persists diary entries. The parent of an entry is its child.
type DiaryStore struct {
	db  *sqlx.DB
	obs *observerHub[model.DiaryEntry]
}

func (s *DiaryStore) GetByID(id string) (model.DiaryEntry, error) {
	var row dbDiaryEntry
	err := s.db.Get(&row, "SELECT * FROM diary_entries WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DiaryEntry{}, ErrNotFound
	}
	if err != nil {
		return model.DiaryEntry{}, fmt.Errorf("get diary entry %s: %w", id, err)
	}
	return row.toModel()
}

func (s *DiaryStore) GetByParent(childID string) ([]model.DiaryEntry, error) {
	var rows []dbDiaryEntry
	err := s.db.Select(&rows, "SELECT * FROM diary_entries WHERE child_id = ? ORDER BY entry_date DESC", childID)
	if err != nil {
		return nil, fmt.Errorf("list diary entries for %s: %w", childID, err)
	}
	entries := make([]model.DiaryEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetUnsynced returns every entry whose local version has not been confirmed
// accepted by the server.
func (s *DiaryStore) GetUnsynced() ([]model.DiaryEntry, error) {
	var rows []dbDiaryEntry
	err := s.db.Select(&rows, "SELECT * FROM diary_entries WHERE is_synced = 0 ORDER BY updated_at")
	if err != nil {
		return nil, fmt.Errorf("list unsynced diary entries: %w", err)
	}
	entries := make([]model.DiaryEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Upsert writes the record as the latest local version. The caller decides
// the sync flag: user edits carry IsSynced=false, pull merges carry true.
func (s *DiaryStore) Upsert(entry model.DiaryEntry) error {
	row := toDBDiaryEntry(entry)
	query := `INSERT OR REPLACE INTO diary_entries (id, child_id, title, body, mood, entry_date, created_at, updated_at, is_synced)
	          VALUES (:id, :child_id, :title, :body, :mood, :entry_date, :created_at, :updated_at, :is_synced)`
	if _, err := s.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("upsert diary entry %s: %w", entry.ID, err)
	}
	s.notify(entry.ChildID)
	return nil
}

// MarkSynced flips the sync flag after the server confirmed this version.
func (s *DiaryStore) MarkSynced(id string) error {
	res, err := s.db.Exec("UPDATE diary_entries SET is_synced = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark diary entry %s synced: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if entry, err := s.GetByID(id); err == nil {
			s.notify(entry.ChildID)
		}
	}
	return nil
}

func (s *DiaryStore) Delete(id string) error {
	entry, err := s.GetByID(id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM diary_entries WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete diary entry %s: %w", id, err)
	}
	s.notify(entry.ChildID)
	return nil
}

func (s *DiaryStore) ObserveByParent(childID string) (<-chan []model.DiaryEntry, func()) {
	return s.obs.subscribe(childID, func() ([]model.DiaryEntry, error) {
		return s.GetByParent(childID)
	})
}

func (s *DiaryStore) notify(childID string) {
	entries, err := s.GetByParent(childID)
	if err != nil {
		s.obs.invalidate(childID)
		return
	}
	s.obs.publish(childID, entries)
}
