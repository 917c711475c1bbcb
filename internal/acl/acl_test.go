package acl

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ppmgo/ppm/internal/model"
)

func TestEvaluateIPRulesNoRulesSkips(t *testing.T) {
	require.Equal(t, VerdictSkip, EvaluateIPRules(model.AccessList{}, "10.1.2.3"))
}

func TestEvaluateIPRulesFirstMatchWins(t *testing.T) {
	al := model.AccessList{IPRules: []model.IPRule{
		{CIDR: "10.0.0.0/8", Action: model.ActionAllow},
		{CIDR: "0.0.0.0/0", Action: model.ActionDeny},
	}}
	require.Equal(t, VerdictAllow, EvaluateIPRules(al, "10.1.2.3"))
	require.Equal(t, VerdictDeny, EvaluateIPRules(al, "192.0.2.5"))
}

func TestEvaluateIPRulesDefaultDenyWhenAllowPresent(t *testing.T) {
	al := model.AccessList{IPRules: []model.IPRule{{CIDR: "10.0.0.0/8", Action: model.ActionAllow}}}
	require.Equal(t, VerdictDeny, EvaluateIPRules(al, "192.0.2.5"))
}

func TestEvaluateIPRulesLiteralIP(t *testing.T) {
	al := model.AccessList{IPRules: []model.IPRule{{CIDR: "203.0.113.9", Action: model.ActionDeny}}}
	require.Equal(t, VerdictDeny, EvaluateIPRules(al, "203.0.113.9"))
	require.Equal(t, VerdictAllow, EvaluateIPRules(al, "203.0.113.10"))
}

func TestVerifyCredentialArgon2id(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	al := model.AccessList{Clients: []model.ClientCredential{{Username: "alice", Verifier: hash}}}

	require.True(t, VerifyCredential(al, "alice", "correct-horse"))
	require.False(t, VerifyCredential(al, "alice", "wrong"))
	require.False(t, VerifyCredential(al, "bob", "correct-horse"))
}

func TestVerifyCredentialLegacyBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("legacy-pw"), bcrypt.DefaultCost)
	require.NoError(t, err)
	al := model.AccessList{Clients: []model.ClientCredential{{Username: "legacy", Verifier: string(hash)}}}

	require.True(t, VerifyCredential(al, "legacy", "legacy-pw"))
	require.False(t, VerifyCredential(al, "legacy", "wrong"))
}
