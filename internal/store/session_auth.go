package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/pavelanni/gradedesk/internal/model"
)

// AuthSessionTTL is how long a portal login stays valid.
const AuthSessionTTL = 24 * time.Hour

// CreateAuthSession stores a logged-in session under a new random ID, which
// it returns. The professor is upserted first.
func (s *Store) CreateAuthSession(ctx context.Context, sess *model.Session) (string, error) {
	id, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := s.UpsertProfessor(ctx, sess.Professor); err != nil {
		return "", err
	}
	now := time.Now()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	sess.ID = id
	sess.ExpiresAt = now.Add(AuthSessionTTL)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, token, professor_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		id, sess.Token, sess.Professor.ID, sess.StartedAt.UTC(), sess.ExpiresAt.UTC(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetAuthSession returns the session with the given ID, or nil if not found/expired.
func (s *Store) GetAuthSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.token, a.created_at, a.expires_at, p.id, p.name, p.email
		 FROM auth_sessions a JOIN professors p ON p.id = a.professor_id
		 WHERE a.id = ?`, id,
	).Scan(&sess.ID, &sess.Token, &sess.StartedAt, &sess.ExpiresAt,
		&sess.Professor.ID, &sess.Professor.Name, &sess.Professor.Email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.Expired(time.Now()) {
		_ = s.DeleteAuthSession(ctx, id)
		return nil, nil
	}
	return &sess, nil
}

// DeleteAuthSession removes a session.
func (s *Store) DeleteAuthSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id = ?`, id)
	return err
}

// CleanupExpiredSessions removes all expired auth sessions.
func (s *Store) CleanupExpiredSessions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now().UTC())
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
