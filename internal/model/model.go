// Package model defines the data model read by the data plane: Hosts,
// Locations, Header Rules, Streams, Access Lists, Certificates, DNS
// Providers, Users, and Audit Events. These are plain structs; the
// Persistent Store adapter (internal/store) is the only writer, and the
// Config Snapshot (internal/snapshot) is the only structure that indexes
// them for the hot path.
package model

import (
	"fmt"
	"strings"
)

// Scheme is the upstream connection scheme for a Host or Location.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// Endpoint is one upstream "address:port" target. The admin API adapter is
// responsible for splitting any comma-separated operator input into a
// []Endpoint before it reaches the store.
type Endpoint struct {
	Address string
	Port    int
}

func (e Endpoint) String() string { return fmt.Sprintf("%s:%d", e.Address, e.Port) }

// Direction distinguishes request-bound from response-bound header rules.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// HeaderRule is a single header mutation applied by a Host's filter chain.
type HeaderRule struct {
	ID        int64
	Name      string
	Value     string
	Direction Direction
}

// Location is a path-scoped override of a Host's upstream configuration.
type Location struct {
	Path        string
	Upstreams   []Endpoint
	Scheme      Scheme
	UpstreamSNI string // optional
	VerifySSL   *bool  // nil => true; the Host's VerifySSL is not consulted
	Rewrite     bool
}

// Verify reports the effective upstream TLS verification policy (default true).
func (l Location) Verify() bool {
	if l.VerifySSL == nil {
		return true
	}
	return *l.VerifySSL
}

// Host is a virtual host: the unit the request-routing layer keys off of.
type Host struct {
	Domain        string // case-folded, globally unique
	Upstreams     []Endpoint
	Scheme        Scheme
	UpstreamSNI   string
	VerifySSL     *bool
	SSLForced     bool
	RedirectTo    string
	RedirectCode  int // 301 or 302, only meaningful if RedirectTo != ""
	AccessListID  int64
	HasAccessList bool
	Locations     []Location
	Headers       []HeaderRule
}

// Verify reports the effective upstream TLS verification policy (default true).
func (h Host) Verify() bool {
	if h.VerifySSL == nil {
		return true
	}
	return *h.VerifySSL
}

// NormalizeDomain case-folds a domain the way host-key lookups require.
func NormalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// Protocol is the L4 transport a Stream forwards.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Stream is an L4 forward from a fixed listen port to a fixed upstream.
type Stream struct {
	ListenPort   int
	Protocol     Protocol
	ForwardHost  string
	ForwardPort  int
}

// Key identifies a Stream uniquely within the stream table.
type StreamKey struct {
	Protocol   Protocol
	ListenPort int
}

func (s Stream) Key() StreamKey { return StreamKey{Protocol: s.Protocol, ListenPort: s.ListenPort} }

// RuleAction is the verdict of a single IP rule.
type RuleAction string

const (
	ActionAllow RuleAction = "allow"
	ActionDeny  RuleAction = "deny"
)

// IPRule is one line of an Access List's ordered IP policy.
type IPRule struct {
	CIDR   string // CIDR or bare literal IP; bare IPs are treated as /32 or /128
	Action RuleAction
}

// ClientCredential is one Basic-Auth username/verifier pair on an Access List.
type ClientCredential struct {
	Username string
	Verifier string // argon2id (or legacy bcrypt) encoded hash
}

// AccessList combines optional IP rules and optional Basic-Auth credentials.
type AccessList struct {
	ID      int64
	Name    string
	Clients []ClientCredential
	IPRules []IPRule
}

// HasIPRules reports whether IP-based filtering applies at all.
func (a AccessList) HasIPRules() bool { return len(a.IPRules) > 0 }

// HasAnyAllowRule reports whether default-deny applies on no-match.
func (a AccessList) HasAnyAllowRule() bool {
	for _, r := range a.IPRules {
		if r.Action == ActionAllow {
			return true
		}
	}
	return false
}

// Certificate is one TLS credential: PEM chain + key, tracked for renewal.
type Certificate struct {
	ID            string
	Domain        string // may be "*.example.com"
	ChainPEM      []byte
	KeyPEM        []byte
	ExpiresAt     int64 // unix seconds
	DNSProviderID string // optional, required for wildcard domains
}

// IsWildcard reports whether Domain is a wildcard certificate subject.
func (c Certificate) IsWildcard() bool { return strings.HasPrefix(c.Domain, "*.") }

// DNSProvider is a named credential set for DNS-01 challenges.
type DNSProvider struct {
	ID         string
	Name       string
	Type       string // "cloudflare" | "route53" | "digitalocean" | "google" | ...
	CredINI    string // opaque INI-format credential blob
}

// Role is an admin-surface user's privilege level. Not consulted on the data
// path: only internal/adminapi reads this.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// User is an admin-surface account.
type User struct {
	ID        int64
	Username  string
	Verifier  string
	Role      Role
	CreatedAt int64
	UpdatedAt int64
}

// AuditEvent records one admin-surface mutation.
type AuditEvent struct {
	ID           int64
	Timestamp    int64
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Detail       string
	OriginIP     string
}

// Settings holds the snapshot-wide, rarely-changing knobs.
type Settings struct {
	ErrorPageHTML string
	TrustedProxyIPs []string // CIDR or literal; default loopback only
}
