package store

import (
	"context"
	"fmt"

	"github.com/ppmgo/ppm/internal/model"
)

// GetUserByUsername looks up an admin-surface account for login verification.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	var u model.User
	var role string
	row := s.db.QueryRowContext(ctx, `SELECT id, username, verifier, role, created_at, updated_at FROM users WHERE username = ?`, username)
	if err := row.Scan(&u.ID, &u.Username, &u.Verifier, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	return u, nil
}

// GetUser looks up an admin-surface account by id.
func (s *Store) GetUser(ctx context.Context, id int64) (model.User, error) {
	var u model.User
	var role string
	row := s.db.QueryRowContext(ctx, `SELECT id, username, verifier, role, created_at, updated_at FROM users WHERE id = ?`, id)
	if err := row.Scan(&u.ID, &u.Username, &u.Verifier, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	return u, nil
}

// ListUsers returns every admin-surface account (verifiers included — callers
// rendering this to JSON must strip it themselves).
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, verifier, role, created_at, updated_at FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("reading users: %w", err)
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		var role string
		if err := rows.Scan(&u.ID, &u.Username, &u.Verifier, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.Role = model.Role(role)
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpsertUser creates or updates an admin-surface account.
func (s *Store) UpsertUser(ctx context.Context, u model.User, audit model.AuditEvent) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ts := now()
	if u.ID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO users (username, verifier, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		`, u.Username, u.Verifier, string(u.Role), ts, ts)
		if err != nil {
			return 0, fmt.Errorf("inserting user %s: %w", u.Username, err)
		}
		u.ID, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET username=?, verifier=?, role=?, updated_at=? WHERE id=?
		`, u.Username, u.Verifier, string(u.Role), ts, u.ID); err != nil {
			return 0, fmt.Errorf("updating user %d: %w", u.ID, err)
		}
	}

	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return u.ID, nil
}

// DeleteUser removes an admin-surface account.
func (s *Store) DeleteUser(ctx context.Context, id int64, audit model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d not found", id)
	}
	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}
