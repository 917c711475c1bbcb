package acme

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	ts, err := NewTokenStore(filepath.Join(t.TempDir(), "webroot"))
	require.NoError(t, err)

	_, ok := ts.Get("missing")
	require.False(t, ok)

	require.NoError(t, ts.Put("tok123", "tok123.keyauth"))
	val, ok := ts.Get("tok123")
	require.True(t, ok)
	require.Equal(t, "tok123.keyauth", val)

	require.NoError(t, ts.Delete("tok123"))
	_, ok = ts.Get("tok123")
	require.False(t, ok)

	require.NoError(t, ts.Delete("already-gone"))
}

func TestSanitizeCertName(t *testing.T) {
	require.Equal(t, "example.com", sanitizeCertName("example.com"))
	require.Equal(t, "wildcard.example.com", sanitizeCertName("*.example.com"))
}

func TestLeafExpiry(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	notAfter := time.Now().Add(90 * 24 * time.Hour).Truncate(time.Second)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	chainPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	got, err := leafExpiry(chainPEM)
	require.NoError(t, err)
	require.Equal(t, notAfter.Unix(), got)
}
