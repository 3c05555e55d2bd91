package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"
)

// AuthSession is a browser session token.
type AuthSession struct {
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

// CreateAuthSession creates a new session token valid for ttl.
func (s *Store) CreateAuthSession(ctx context.Context, ttl time.Duration) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	t := now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, created_at, expires_at) VALUES (?, ?, ?)`,
		token, t, t.Add(ttl),
	)
	if err != nil {
		return "", classify(err)
	}
	return token, nil
}

// GetAuthSession returns the session for the given token, or nil if not found/expired.
func (s *Store) GetAuthSession(ctx context.Context, token string) (*AuthSession, error) {
	var sess AuthSession
	err := s.db.GetContext(ctx, &sess,
		`SELECT id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	if now().After(sess.ExpiresAt) {
		_ = s.DeleteAuthSession(ctx, token)
		return nil, nil
	}
	return &sess, nil
}

// DeleteAuthSession removes a session token.
func (s *Store) DeleteAuthSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE id = ?`, token)
	return classify(err)
}

// CleanupExpiredSessions removes all expired session tokens and returns their ids.
func (s *Store) CleanupExpiredSessions(ctx context.Context) ([]string, error) {
	t := now()
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM auth_sessions WHERE expires_at < ?`, t); err != nil {
		return nil, classify(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at < ?`, t)
	return ids, classify(err)
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
