package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ppmgo/ppm/internal/model"
)

func readAccessLists(ctx context.Context, tx *sql.Tx) ([]model.AccessList, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, name FROM access_lists ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("reading access lists: %w", err)
	}
	listsByID := make(map[int64]*model.AccessList)
	var order []int64
	for rows.Next() {
		var al model.AccessList
		if err := rows.Scan(&al.ID, &al.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning access list: %w", err)
		}
		listsByID[al.ID] = &al
		order = append(order, al.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := attachClientCredentials(ctx, tx, listsByID); err != nil {
		return nil, err
	}
	if err := attachIPRules(ctx, tx, listsByID); err != nil {
		return nil, err
	}

	out := make([]model.AccessList, 0, len(order))
	for _, id := range order {
		out = append(out, *listsByID[id])
	}
	return out, nil
}

func attachClientCredentials(ctx context.Context, tx *sql.Tx, lists map[int64]*model.AccessList) error {
	rows, err := tx.QueryContext(ctx, `SELECT access_list_id, username, verifier FROM client_credentials ORDER BY access_list_id, username`)
	if err != nil {
		return fmt.Errorf("reading client credentials: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var listID int64
		var cred model.ClientCredential
		if err := rows.Scan(&listID, &cred.Username, &cred.Verifier); err != nil {
			return fmt.Errorf("scanning client credential: %w", err)
		}
		if al, ok := lists[listID]; ok {
			al.Clients = append(al.Clients, cred)
		}
	}
	return rows.Err()
}

func attachIPRules(ctx context.Context, tx *sql.Tx, lists map[int64]*model.AccessList) error {
	rows, err := tx.QueryContext(ctx, `SELECT access_list_id, cidr, action FROM ip_rules ORDER BY access_list_id, seq`)
	if err != nil {
		return fmt.Errorf("reading ip rules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var listID int64
		var rule model.IPRule
		var action string
		if err := rows.Scan(&listID, &rule.CIDR, &action); err != nil {
			return fmt.Errorf("scanning ip rule: %w", err)
		}
		rule.Action = model.RuleAction(action)
		if al, ok := lists[listID]; ok {
			al.IPRules = append(al.IPRules, rule)
		}
	}
	return rows.Err()
}

// UpsertAccessList writes an access list's name, client credentials, and
// ordered IP rules as one transaction (the ordered rule list is always
// replaced wholesale — partial reordering has no natural "patch" semantics).
func (s *Store) UpsertAccessList(ctx context.Context, al model.AccessList, audit model.AuditEvent) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if al.ID == 0 {
		res, err := tx.ExecContext(ctx, `INSERT INTO access_lists (name) VALUES (?)`, al.Name)
		if err != nil {
			return 0, fmt.Errorf("inserting access list: %w", err)
		}
		al.ID, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO access_lists (id, name) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET name=excluded.name
		`, al.ID, al.Name); err != nil {
			return 0, fmt.Errorf("upserting access list %d: %w", al.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM client_credentials WHERE access_list_id = ?`, al.ID); err != nil {
		return 0, err
	}
	for _, c := range al.Clients {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO client_credentials (access_list_id, username, verifier) VALUES (?, ?, ?)
		`, al.ID, c.Username, c.Verifier); err != nil {
			return 0, fmt.Errorf("inserting client credential %s: %w", c.Username, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ip_rules WHERE access_list_id = ?`, al.ID); err != nil {
		return 0, err
	}
	for i, r := range al.IPRules {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ip_rules (access_list_id, seq, cidr, action) VALUES (?, ?, ?, ?)
		`, al.ID, i, r.CIDR, string(r.Action)); err != nil {
			return 0, fmt.Errorf("inserting ip rule %d: %w", i, err)
		}
	}

	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return al.ID, nil
}

// GetAccessList returns a single access list by id, or sql.ErrNoRows if absent.
func (s *Store) GetAccessList(ctx context.Context, id int64) (model.AccessList, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return model.AccessList{}, err
	}
	defer tx.Rollback()
	lists, err := readAccessLists(ctx, tx)
	if err != nil {
		return model.AccessList{}, err
	}
	for _, al := range lists {
		if al.ID == id {
			return al, nil
		}
	}
	return model.AccessList{}, sql.ErrNoRows
}

// DeleteAccessList removes an access list and its client credentials/IP
// rules (cascade via FK). Hosts referencing it keep their access_list_id,
// which the Publisher must then treat as dangling and skip ACL enforcement
// for — deleting a list in active use is an operator error, not a crash.
func (s *Store) DeleteAccessList(ctx context.Context, id int64, audit model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM access_lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting access list %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("access list %d not found", id)
	}
	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}
