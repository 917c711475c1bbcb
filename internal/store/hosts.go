package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/ppmgo/ppm/internal/model"
)

func encodeUpstreams(eps []model.Endpoint) string {
	parts := make([]string, len(eps))
	for i, e := range eps {
		parts[i] = e.String()
	}
	return strings.Join(parts, ",")
}

func decodeUpstreams(raw string) ([]model.Endpoint, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]model.Endpoint, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		host, portStr, err := splitHostPort(p)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint %q: %w", p, err)
		}
		out = append(out, model.Endpoint{Address: host, Port: portStr})
	}
	return out, nil
}

func splitHostPort(s string) (string, int, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("missing port")
	}
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return "", 0, err
	}
	return s[:idx], port, nil
}

func readHosts(ctx context.Context, tx *sql.Tx) ([]model.Host, error) {
	rows, err := tx.QueryContext(ctx, `SELECT domain, upstreams, scheme, upstream_sni, verify_ssl, ssl_forced, redirect_to, redirect_code, access_list_id FROM hosts`)
	if err != nil {
		return nil, fmt.Errorf("reading hosts: %w", err)
	}
	defer rows.Close()

	hostsByDomain := make(map[string]*model.Host)
	var order []string
	for rows.Next() {
		var (
			domain, upstreamsRaw, scheme, sni, redirectTo string
			verifySSL                                     sql.NullBool
			sslForced                                     bool
			redirectCode                                  int
			accessListID                                  sql.NullInt64
		)
		if err := rows.Scan(&domain, &upstreamsRaw, &scheme, &sni, &verifySSL, &sslForced, &redirectTo, &redirectCode, &accessListID); err != nil {
			return nil, fmt.Errorf("scanning host: %w", err)
		}
		eps, err := decodeUpstreams(upstreamsRaw)
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", domain, err)
		}
		h := &model.Host{
			Domain:       domain,
			Upstreams:    eps,
			Scheme:       model.Scheme(scheme),
			UpstreamSNI:  sni,
			SSLForced:    sslForced,
			RedirectTo:   redirectTo,
			RedirectCode: redirectCode,
		}
		if verifySSL.Valid {
			v := verifySSL.Bool
			h.VerifySSL = &v
		}
		if accessListID.Valid {
			h.AccessListID = accessListID.Int64
			h.HasAccessList = true
		}
		hostsByDomain[domain] = h
		order = append(order, domain)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := attachLocations(ctx, tx, hostsByDomain); err != nil {
		return nil, err
	}
	if err := attachHeaderRules(ctx, tx, hostsByDomain); err != nil {
		return nil, err
	}

	out := make([]model.Host, 0, len(order))
	for _, d := range order {
		out = append(out, *hostsByDomain[d])
	}
	return out, nil
}

func attachLocations(ctx context.Context, tx *sql.Tx, hosts map[string]*model.Host) error {
	rows, err := tx.QueryContext(ctx, `SELECT host_domain, path, upstreams, scheme, upstream_sni, verify_ssl, rewrite FROM locations ORDER BY host_domain, rowid`)
	if err != nil {
		return fmt.Errorf("reading locations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			domain, path, upstreamsRaw, scheme, sni string
			verifySSL                                sql.NullBool
			rewrite                                  bool
		)
		if err := rows.Scan(&domain, &path, &upstreamsRaw, &scheme, &sni, &verifySSL, &rewrite); err != nil {
			return fmt.Errorf("scanning location: %w", err)
		}
		h, ok := hosts[domain]
		if !ok {
			continue
		}
		eps, err := decodeUpstreams(upstreamsRaw)
		if err != nil {
			return fmt.Errorf("location %s%s: %w", domain, path, err)
		}
		loc := model.Location{
			Path:        path,
			Upstreams:   eps,
			Scheme:      model.Scheme(scheme),
			UpstreamSNI: sni,
			Rewrite:     rewrite,
		}
		if verifySSL.Valid {
			v := verifySSL.Bool
			loc.VerifySSL = &v
		}
		h.Locations = append(h.Locations, loc)
	}
	return rows.Err()
}

func attachHeaderRules(ctx context.Context, tx *sql.Tx, hosts map[string]*model.Host) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, host_domain, name, value, direction FROM header_rules ORDER BY host_domain, id`)
	if err != nil {
		return fmt.Errorf("reading header rules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id                    int64
			domain, name, value, direction string
		)
		if err := rows.Scan(&id, &domain, &name, &value, &direction); err != nil {
			return fmt.Errorf("scanning header rule: %w", err)
		}
		h, ok := hosts[domain]
		if !ok {
			continue
		}
		h.Headers = append(h.Headers, model.HeaderRule{
			ID:        id,
			Name:      name,
			Value:     value,
			Direction: model.Direction(direction),
		})
	}
	return rows.Err()
}

// UpsertHost inserts or replaces a host row and its locations/header rules,
// appending an audit event in the same transaction.
func (s *Store) UpsertHost(ctx context.Context, h model.Host, audit model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	domain := model.NormalizeDomain(h.Domain)
	var verify sql.NullBool
	if h.VerifySSL != nil {
		verify = sql.NullBool{Bool: *h.VerifySSL, Valid: true}
	}
	var accessListID sql.NullInt64
	if h.HasAccessList {
		accessListID = sql.NullInt64{Int64: h.AccessListID, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO hosts (domain, upstreams, scheme, upstream_sni, verify_ssl, ssl_forced, redirect_to, redirect_code, access_list_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			upstreams=excluded.upstreams, scheme=excluded.scheme, upstream_sni=excluded.upstream_sni,
			verify_ssl=excluded.verify_ssl, ssl_forced=excluded.ssl_forced, redirect_to=excluded.redirect_to,
			redirect_code=excluded.redirect_code, access_list_id=excluded.access_list_id
	`, domain, encodeUpstreams(h.Upstreams), string(h.Scheme), h.UpstreamSNI, verify, h.SSLForced, h.RedirectTo, h.RedirectCode, accessListID)
	if err != nil {
		return fmt.Errorf("upserting host %s: %w", domain, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM locations WHERE host_domain = ?`, domain); err != nil {
		return err
	}
	for _, loc := range h.Locations {
		var lv sql.NullBool
		if loc.VerifySSL != nil {
			lv = sql.NullBool{Bool: *loc.VerifySSL, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO locations (host_domain, path, upstreams, scheme, upstream_sni, verify_ssl, rewrite)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, domain, loc.Path, encodeUpstreams(loc.Upstreams), string(loc.Scheme), loc.UpstreamSNI, lv, loc.Rewrite); err != nil {
			return fmt.Errorf("inserting location %s: %w", loc.Path, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM header_rules WHERE host_domain = ?`, domain); err != nil {
		return err
	}
	for _, hr := range h.Headers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO header_rules (host_domain, name, value, direction) VALUES (?, ?, ?, ?)
		`, domain, hr.Name, hr.Value, string(hr.Direction)); err != nil {
			return fmt.Errorf("inserting header rule: %w", err)
		}
	}

	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteHost removes a host and its locations/header rules (cascade via FK).
func (s *Store) DeleteHost(ctx context.Context, domain string, audit model.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM hosts WHERE domain = ?`, model.NormalizeDomain(domain))
	if err != nil {
		return fmt.Errorf("deleting host %s: %w", domain, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("host %s not found", domain)
	}
	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// GetHost returns a single host by domain, or sql.ErrNoRows if absent.
func (s *Store) GetHost(ctx context.Context, domain string) (model.Host, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return model.Host{}, err
	}
	defer tx.Rollback()
	hosts, err := readHosts(ctx, tx)
	if err != nil {
		return model.Host{}, err
	}
	domain = model.NormalizeDomain(domain)
	for _, h := range hosts {
		if h.Domain == domain {
			return h, nil
		}
	}
	return model.Host{}, sql.ErrNoRows
}
