// Package acl evaluates Access List policy: ordered IP rules and Basic-Auth client credentials. It has no knowledge of HTTP; callers pass in the effective
// client IP and credentials already extracted by the filter chain.
package acl

import (
	"crypto/subtle"
	"net"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"

	"github.com/ppmgo/ppm/internal/model"
)

// Verdict is the result of evaluating an Access List's IP rules.
type Verdict int

const (
	// VerdictSkip means the list has no IP rules at all — no constraint.
	VerdictSkip Verdict = iota
	VerdictAllow
	VerdictDeny
)

// EvaluateIPRules walks an Access List's ordered IP rules top-to-bottom,
// first match wins. No match with at least one allow rule
// present is a default-deny.
func EvaluateIPRules(al model.AccessList, clientIP string) Verdict {
	if !al.HasIPRules() {
		return VerdictSkip
	}
	ip := net.ParseIP(clientIP)
	for _, rule := range al.IPRules {
		if ip != nil && ruleMatches(rule.CIDR, ip) {
			if rule.Action == model.ActionAllow {
				return VerdictAllow
			}
			return VerdictDeny
		}
	}
	if al.HasAnyAllowRule() {
		return VerdictDeny
	}
	return VerdictAllow
}

func ruleMatches(cidrOrIP string, ip net.IP) bool {
	if strings.Contains(cidrOrIP, "/") {
		_, network, err := net.ParseCIDR(cidrOrIP)
		if err != nil {
			return false
		}
		return network.Contains(ip)
	}
	literal := net.ParseIP(cidrOrIP)
	return literal != nil && literal.Equal(ip)
}

// VerifyCredential checks username/password against an Access List's stored
// client credentials. Verifiers are argon2id-
// encoded by default; a bcrypt-prefixed verifier ("$2") is checked via
// bcrypt for compatibility with credentials imported from an older system.
func VerifyCredential(al model.AccessList, username, password string) bool {
	for _, cred := range al.Clients {
		if subtle.ConstantTimeCompare([]byte(cred.Username), []byte(username)) != 1 {
			continue
		}
		return verifyPassword(cred.Verifier, password)
	}
	return false
}

func verifyPassword(verifier, password string) bool {
	if strings.HasPrefix(verifier, "$2a$") || strings.HasPrefix(verifier, "$2b$") || strings.HasPrefix(verifier, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(verifier), []byte(password)) == nil
	}
	match, err := argon2id.ComparePasswordAndHash(password, verifier)
	if err != nil {
		return false
	}
	return match
}

// HashPassword produces an argon2id verifier for a new/updated credential —
// the format every credential created going forward uses.
func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2id.DefaultParams)
}
