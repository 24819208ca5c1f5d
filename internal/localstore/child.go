package localstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sproutlog/sproutlog/internal/model"
)

// dbChild is the row shape; timestamps are stored as RFC3339 TEXT.
type dbChild struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Name      string `db:"name"`
	BirthDate string `db:"birth_date"`
	Notes     string `db:"notes"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r dbChild) toModel() (model.Child, error) {
	birthDate, err := parseTime(r.BirthDate)
	if err != nil {
		return model.Child{}, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return model.Child{}, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return model.Child{}, err
	}
	return model.Child{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		BirthDate: birthDate,
		Notes:     r.Notes,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func toDBChild(c model.Child) dbChild {
	return dbChild{
		ID:        c.ID,
		UserID:    c.UserID,
		Name:      c.Name,
		BirthDate: fmtTime(c.BirthDate),
		Notes:     c.Notes,
		CreatedAt: fmtTime(c.CreatedAt),
		UpdatedAt: fmtTime(c.UpdatedAt),
	}
}

// ChildStore persists child profiles. The parent of a child is its owning
// user.
type ChildStore struct {
	db  *sqlx.DB
	obs *observerHub[model.Child]
}

func (s *ChildStore) GetByID(id string) (model.Child, error) {
	var row dbChild
	err := s.db.Get(&row, "SELECT * FROM children WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Child{}, ErrNotFound
	}
	if err != nil {
		return model.Child{}, fmt.Errorf("get child %s: %w", id, err)
	}
	return row.toModel()
}

func (s *ChildStore) GetByParent(userID string) ([]model.Child, error) {
	var rows []dbChild
	err := s.db.Select(&rows, "SELECT * FROM children WHERE user_id = ? ORDER BY created_at", userID)
	if err != nil {
		return nil, fmt.Errorf("list children for %s: %w", userID, err)
	}
	children := make([]model.Child, 0, len(rows))
	for _, row := range rows {
		child, err := row.toModel()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// Upsert writes the record as the latest local version.
func (s *ChildStore) Upsert(child model.Child) error {
	row := toDBChild(child)
	query := `INSERT OR REPLACE INTO children (id, user_id, name, birth_date, notes, created_at, updated_at)
	          VALUES (:id, :user_id, :name, :birth_date, :notes, :created_at, :updated_at)`
	if _, err := s.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("upsert child %s: %w", child.ID, err)
	}
	s.notify(child.UserID)
	return nil
}

func (s *ChildStore) Delete(id string) error {
	child, err := s.GetByID(id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM children WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete child %s: %w", id, err)
	}
	s.notify(child.UserID)
	return nil
}

// ObserveByParent emits the user's child list on every local change,
// starting with the current snapshot.
func (s *ChildStore) ObserveByParent(userID string) (<-chan []model.Child, func()) {
	return s.obs.subscribe(userID, func() ([]model.Child, error) {
		return s.GetByParent(userID)
	})
}

func (s *ChildStore) notify(userID string) {
	children, err := s.GetByParent(userID)
	if err != nil {
		s.obs.invalidate(userID)
		return
	}
	s.obs.publish(userID, children)
}
