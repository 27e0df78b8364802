package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/pavelanni/gradedesk/internal/model"
)

// UpsertProfessor stores the profile returned by the backend at login.
func (s *Store) UpsertProfessor(ctx context.Context, p model.Professor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO professors (id, name, email, last_login) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, last_login = excluded.last_login`,
		p.ID, p.Name, p.Email, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("failed to store professor", "id", p.ID, "error", err)
		return err
	}
	return nil
}

// GetProfessor returns a professor by ID, or nil if unknown.
func (s *Store) GetProfessor(ctx context.Context, id int64) (*model.Professor, error) {
	var p model.Professor
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email FROM professors WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
