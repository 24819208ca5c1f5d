package localstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sproutlog/sproutlog/internal/model"
)

type dbMediaRecord struct {
	ID          string `db:"id"`
	ChildID     string `db:"child_id"`
	Kind        string `db:"kind"`
	FileName    string `db:"file_name"`
	ContentType string `db:"content_type"`
	SizeBytes   int64  `db:"size_bytes"`
	TakenAt     string `db:"taken_at"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
	IsUploaded  bool   `db:"is_uploaded"`
}

func (r dbMediaRecord) toModel() (model.MediaRecord, error) {
	takenAt, err := parseTime(r.TakenAt)
	if err != nil {
		return model.MediaRecord{}, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return model.MediaRecord{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return model.MediaRecord{}, err
	}
	return model.MediaRecord{
		ID:          r.ID,
		ChildID:     r.ChildID,
		Kind:        model.MediaKind(r.Kind),
		FileName:    r.FileName,
		ContentType: r.ContentType,
		SizeBytes:   r.SizeBytes,
		TakenAt:     takenAt,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
		IsUploaded:  r.IsUploaded,
	}, nil
}

func toDBMediaRecord(m model.MediaRecord) dbMediaRecord {
	return dbMediaRecord{
		ID:          m.ID,
		ChildID:     m.ChildID,
		Kind:        string(m.Kind),
		FileName:    m.FileName,
		ContentType: m.ContentType,
		SizeBytes:   m.SizeBytes,
		TakenAt:     fmtTime(m.TakenAt),
		CreatedAt:   fmtTime(m.CreatedAt),
		UpdatedAt:   fmtTime(m.UpdatedAt),
		IsUploaded:  m.IsUploaded,
	}
}

// MediaStore persists photo/video metadata. The parent of a record is its
// child.
type MediaStore struct {
	db  *sqlx.DB
	obs *observerHub[model.MediaRecord]
}

func (s *MediaStore) GetByID(id string) (model.MediaRecord, error) {
	var row dbMediaRecord
	err := s.db.Get(&row, "SELECT * FROM media_records WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MediaRecord{}, ErrNotFound
	}
	if err != nil {
		return model.MediaRecord{}, fmt.Errorf("get media record %s: %w", id, err)
	}
	return row.toModel()
}

func (s *MediaStore) GetByParent(childID string) ([]model.MediaRecord, error) {
	var rows []dbMediaRecord
	err := s.db.Select(&rows, "SELECT * FROM media_records WHERE child_id = ? ORDER BY taken_at DESC", childID)
	if err != nil {
		return nil, fmt.Errorf("list media records for %s: %w", childID, err)
	}
	records := make([]model.MediaRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toModel()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// GetUnsynced returns every record not yet confirmed uploaded.
func (s *MediaStore) GetUnsynced() ([]model.MediaRecord, error) {
	var rows []dbMediaRecord
	err := s.db.Select(&rows, "SELECT * FROM media_records WHERE is_uploaded = 0 ORDER BY updated_at")
	if err != nil {
		return nil, fmt.Errorf("list unuploaded media records: %w", err)
	}
	records := make([]model.MediaRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toModel()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *MediaStore) Upsert(record model.MediaRecord) error {
	row := toDBMediaRecord(record)
	query := `INSERT OR REPLACE INTO media_records (id, child_id, kind, file_name, content_type, size_bytes, taken_at, created_at, updated_at, is_uploaded)
	          VALUES (:id, :child_id, :kind, :file_name, :content_type, :size_bytes, :taken_at, :created_at, :updated_at, :is_uploaded)`
	if _, err := s.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("upsert media record %s: %w", record.ID, err)
	}
	s.notify(record.ChildID)
	return nil
}

// MarkSynced flips the upload flag after the server confirmed this version.
func (s *MediaStore) MarkSynced(id string) error {
	res, err := s.db.Exec("UPDATE media_records SET is_uploaded = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark media record %s uploaded: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if record, err := s.GetByID(id); err == nil {
			s.notify(record.ChildID)
		}
	}
	return nil
}

func (s *MediaStore) Delete(id string) error {
	record, err := s.GetByID(id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM media_records WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete media record %s: %w", id, err)
	}
	s.notify(record.ChildID)
	return nil
}

func (s *MediaStore) ObserveByParent(childID string) (<-chan []model.MediaRecord, func()) {
	return s.obs.subscribe(childID, func() ([]model.MediaRecord, error) {
		return s.GetByParent(childID)
	})
}

func (s *MediaStore) notify(childID string) {
	records, err := s.GetByParent(childID)
	if err != nil {
		s.obs.invalidate(childID)
		return
	}
	s.obs.publish(childID, records)
}
