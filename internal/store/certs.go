package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ppmgo/ppm/internal/model"
)

func readCertificates(ctx context.Context, tx *sql.Tx) ([]model.Certificate, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, domain, chain_pem, key_pem, expires_at, dns_provider_id FROM certificates ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("reading certificates: %w", err)
	}
	defer rows.Close()
	var out []model.Certificate
	for rows.Next() {
		var c model.Certificate
		if err := rows.Scan(&c.ID, &c.Domain, &c.ChainPEM, &c.KeyPEM, &c.ExpiresAt, &c.DNSProviderID); err != nil {
			return nil, fmt.Errorf("scanning certificate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertCertificate stores (or replaces) one issued/renewed certificate. The
// ACME Worker is the sole caller. This method writes no audit row; the
// worker records its own "certificate.issued" event via AppendAuditEvent.
func (s *Store) UpsertCertificate(ctx context.Context, c model.Certificate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates (id, domain, chain_pem, key_pem, expires_at, dns_provider_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			domain=excluded.domain, chain_pem=excluded.chain_pem, key_pem=excluded.key_pem,
			expires_at=excluded.expires_at, dns_provider_id=excluded.dns_provider_id
	`, c.ID, c.Domain, c.ChainPEM, c.KeyPEM, c.ExpiresAt, c.DNSProviderID)
	if err != nil {
		return fmt.Errorf("upserting certificate %s: %w", c.ID, err)
	}
	return nil
}

// GetCertificate fetches a single certificate by id.
func (s *Store) GetCertificate(ctx context.Context, id string) (model.Certificate, error) {
	var c model.Certificate
	row := s.db.QueryRowContext(ctx, `SELECT id, domain, chain_pem, key_pem, expires_at, dns_provider_id FROM certificates WHERE id = ?`, id)
	if err := row.Scan(&c.ID, &c.Domain, &c.ChainPEM, &c.KeyPEM, &c.ExpiresAt, &c.DNSProviderID); err != nil {
		return model.Certificate{}, err
	}
	return c, nil
}

// DeleteCertificate removes a certificate from the store.
func (s *Store) DeleteCertificate(ctx context.Context, id string, audit model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM certificates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting certificate %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("certificate %s not found", id)
	}
	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDNSProviders returns every configured DNS-01 credential set.
func (s *Store) ListDNSProviders(ctx context.Context) ([]model.DNSProvider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type, cred_ini FROM dns_providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("reading dns providers: %w", err)
	}
	defer rows.Close()
	var out []model.DNSProvider
	for rows.Next() {
		var p model.DNSProvider
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.CredINI); err != nil {
			return nil, fmt.Errorf("scanning dns provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetDNSProvider fetches one DNS provider's credentials by id.
func (s *Store) GetDNSProvider(ctx context.Context, id string) (model.DNSProvider, error) {
	var p model.DNSProvider
	row := s.db.QueryRowContext(ctx, `SELECT id, name, type, cred_ini FROM dns_providers WHERE id = ?`, id)
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &p.CredINI); err != nil {
		return model.DNSProvider{}, err
	}
	return p, nil
}

// UpsertDNSProvider inserts or replaces a DNS-01 credential set.
func (s *Store) UpsertDNSProvider(ctx context.Context, p model.DNSProvider, audit model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO dns_providers (id, name, type, cred_ini) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, cred_ini=excluded.cred_ini
	`, p.ID, p.Name, p.Type, p.CredINI)
	if err != nil {
		return fmt.Errorf("upserting dns provider %s: %w", p.ID, err)
	}
	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteDNSProvider removes a DNS-01 credential set.
func (s *Store) DeleteDNSProvider(ctx context.Context, id string, audit model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM dns_providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting dns provider %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dns provider %s not found", id)
	}
	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}
