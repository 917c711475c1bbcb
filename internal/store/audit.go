package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ppmgo/ppm/internal/model"
)

// insertAuditEvent appends one audit row within an already-open transaction,
// so every mutation and its audit trail commit or roll back together.
// A zero-value AuditEvent (Action == "") is treated as "no event to record",
// so a caller can pass model.AuditEvent{} to skip the audit row.
func insertAuditEvent(ctx context.Context, tx *sql.Tx, ev model.AuditEvent) error {
	if ev.Action == "" {
		return nil
	}
	ts := ev.Timestamp
	if ts == 0 {
		ts = now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_events (ts, actor, action, resource_type, resource_id, detail, origin_ip)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ts, ev.Actor, ev.Action, ev.ResourceType, ev.ResourceID, ev.Detail, ev.OriginIP)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// AppendAuditEvent records a standalone audit event outside any other
// mutation's transaction (used by the ACME Worker and by certificate
// requests, for example).
func (s *Store) AppendAuditEvent(ctx context.Context, ev model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertAuditEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

// AuditFilter narrows ListAuditEvents to a page and/or a subset of actors
// and resource types. Zero-value fields are unconstrained.
type AuditFilter struct {
	Limit        int
	Offset       int
	Username     string
	ResourceType string
}

// ListAuditEvents returns audit events newest-first, capped at f.Limit (0
// means "use a sane default of 200"), offset by f.Offset, and optionally
// narrowed to one actor and/or resource type.
func (s *Store) ListAuditEvents(ctx context.Context, f AuditFilter) ([]model.AuditEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT id, ts, actor, action, resource_type, resource_id, detail, origin_ip FROM audit_events WHERE 1=1`
	var args []any
	if f.Username != "" {
		query += ` AND actor = ?`
		args = append(args, f.Username)
	}
	if f.ResourceType != "" {
		query += ` AND resource_type = ?`
		args = append(args, f.ResourceType)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading audit events: %w", err)
	}
	defer rows.Close()
	var out []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Actor, &ev.Action, &ev.ResourceType, &ev.ResourceID, &ev.Detail, &ev.OriginIP); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetSetting reads one raw setting value by key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	if err := row.Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

// SetSetting writes one raw setting value, replacing any prior value.
func (s *Store) SetSetting(ctx context.Context, key, value string, audit model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// AddTrustedProxyIP appends one trusted-proxy CIDR/IP entry.
func (s *Store) AddTrustedProxyIP(ctx context.Context, ip string, audit model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO trusted_proxy_ips (ip) VALUES (?)`, ip)
	if err != nil {
		return fmt.Errorf("adding trusted proxy ip: %w", err)
	}
	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveTrustedProxyIP deletes one trusted-proxy CIDR/IP entry.
func (s *Store) RemoveTrustedProxyIP(ctx context.Context, ip string, audit model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM trusted_proxy_ips WHERE ip = ?`, ip)
	if err != nil {
		return fmt.Errorf("removing trusted proxy ip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("trusted proxy ip %s not found", ip)
	}
	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}
