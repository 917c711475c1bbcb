// Package store is the Persistent Store adapter: the durable record of
// hosts, locations, headers, streams, access lists, certificates, DNS
// providers, users, and audit events. The data plane's Publisher reads
// a consistent snapshot of it (ReadAll); the admin API adapter
// (internal/adminapi) writes operator changes, and the ACME Worker writes
// issued certificates and their audit events.
//
// Backed by SQLite via modernc.org/sqlite (pure Go, no cgo) rather than an
// embedded key-value store, because the data model is genuinely relational:
// hosts own locations/headers, access lists own ip rules/client creds.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppmgo/ppm/internal/model"
)

// Store wraps the SQLite connection. All mutation methods are single-writer
// safe via SQLite's own transaction serialization.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and runs
// schema migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: one connection, so reads and writes take turns on it.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hosts (
			domain TEXT PRIMARY KEY,
			upstreams TEXT NOT NULL,
			scheme TEXT NOT NULL,
			upstream_sni TEXT NOT NULL DEFAULT '',
			verify_ssl INTEGER,
			ssl_forced INTEGER NOT NULL DEFAULT 0,
			redirect_to TEXT NOT NULL DEFAULT '',
			redirect_code INTEGER NOT NULL DEFAULT 0,
			access_list_id INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS locations (
			host_domain TEXT NOT NULL REFERENCES hosts(domain) ON DELETE CASCADE,
			path TEXT NOT NULL,
			upstreams TEXT NOT NULL,
			scheme TEXT NOT NULL,
			upstream_sni TEXT NOT NULL DEFAULT '',
			verify_ssl INTEGER,
			rewrite INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (host_domain, path)
		)`,
		`CREATE TABLE IF NOT EXISTS header_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host_domain TEXT NOT NULL REFERENCES hosts(domain) ON DELETE CASCADE,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			direction TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS streams (
			listen_port INTEGER NOT NULL,
			protocol TEXT NOT NULL,
			forward_host TEXT NOT NULL,
			forward_port INTEGER NOT NULL,
			PRIMARY KEY (listen_port, protocol)
		)`,
		`CREATE TABLE IF NOT EXISTS access_lists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS client_credentials (
			access_list_id INTEGER NOT NULL REFERENCES access_lists(id) ON DELETE CASCADE,
			username TEXT NOT NULL,
			verifier TEXT NOT NULL,
			PRIMARY KEY (access_list_id, username)
		)`,
		`CREATE TABLE IF NOT EXISTS ip_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			access_list_id INTEGER NOT NULL REFERENCES access_lists(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			cidr TEXT NOT NULL,
			action TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS certificates (
			id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			chain_pem BLOB NOT NULL,
			key_pem BLOB NOT NULL,
			expires_at INTEGER NOT NULL,
			dns_provider_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS dns_providers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			cred_ini TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			verifier TEXT NOT NULL,
			role TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			detail TEXT NOT NULL,
			origin_ip TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trusted_proxy_ips (
			ip TEXT PRIMARY KEY
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// Snapshot is the raw, fully-read contents of the store — one consistent
// read, handed to internal/snapshot to index and publish.
type Snapshot struct {
	Hosts        []model.Host
	Streams      []model.Stream
	AccessLists  []model.AccessList
	Certificates []model.Certificate
	Settings     model.Settings
}

// ReadAll performs one logical, consistent read of every table the data
// plane needs. SQLite's default transaction isolation
// (serializable for the single writer we allow) gives us a consistent
// cross-table snapshot without any extra locking on our part.
func (s *Store) ReadAll(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	accessLists, err := readAccessLists(ctx, tx)
	if err != nil {
		return nil, err
	}
	hosts, err := readHosts(ctx, tx)
	if err != nil {
		return nil, err
	}
	streams, err := readStreams(ctx, tx)
	if err != nil {
		return nil, err
	}
	certs, err := readCertificates(ctx, tx)
	if err != nil {
		return nil, err
	}
	settings, err := readSettings(ctx, tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit read tx: %w", err)
	}

	return &Snapshot{
		Hosts:        hosts,
		Streams:      streams,
		AccessLists:  accessLists,
		Certificates: certs,
		Settings:     settings,
	}, nil
}

func readSettings(ctx context.Context, tx *sql.Tx) (model.Settings, error) {
	var s model.Settings
	row := tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'error_page_html'`)
	var html string
	if err := row.Scan(&html); err == nil {
		s.ErrorPageHTML = html
	} else if err != sql.ErrNoRows {
		return s, fmt.Errorf("reading error page setting: %w", err)
	}
	rows, err := tx.QueryContext(ctx, `SELECT ip FROM trusted_proxy_ips ORDER BY ip`)
	if err != nil {
		return s, fmt.Errorf("reading trusted proxy settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return s, err
		}
		s.TrustedProxyIPs = append(s.TrustedProxyIPs, ip)
	}
	return s, rows.Err()
}

// now is overridable in tests.
var now = func() int64 { return time.Now().Unix() }
