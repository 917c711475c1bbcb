package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ppmgo/ppm/internal/model"
)

func readStreams(ctx context.Context, tx *sql.Tx) ([]model.Stream, error) {
	rows, err := tx.QueryContext(ctx, `SELECT listen_port, protocol, forward_host, forward_port FROM streams ORDER BY protocol, listen_port`)
	if err != nil {
		return nil, fmt.Errorf("reading streams: %w", err)
	}
	defer rows.Close()

	var out []model.Stream
	for rows.Next() {
		var st model.Stream
		var proto string
		if err := rows.Scan(&st.ListenPort, &proto, &st.ForwardHost, &st.ForwardPort); err != nil {
			return nil, fmt.Errorf("scanning stream: %w", err)
		}
		st.Protocol = model.Protocol(proto)
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpsertStream inserts or replaces the forward target for a (protocol,
// listen_port) pair.
func (s *Store) UpsertStream(ctx context.Context, st model.Stream, audit model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO streams (listen_port, protocol, forward_host, forward_port)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(listen_port, protocol) DO UPDATE SET
			forward_host=excluded.forward_host, forward_port=excluded.forward_port
	`, st.ListenPort, string(st.Protocol), st.ForwardHost, st.ForwardPort)
	if err != nil {
		return fmt.Errorf("upserting stream %d/%s: %w", st.ListenPort, st.Protocol, err)
	}
	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteStream removes a stream's forward rule.
func (s *Store) DeleteStream(ctx context.Context, key model.StreamKey, audit model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM streams WHERE listen_port = ? AND protocol = ?`, key.ListenPort, string(key.Protocol))
	if err != nil {
		return fmt.Errorf("deleting stream %d/%s: %w", key.ListenPort, key.Protocol, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stream %d/%s not found", key.ListenPort, key.Protocol)
	}
	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}
