package certcache

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppmgo/ppm/internal/model"
)

func selfSignedPEM(t *testing.T, cn string) (chainPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     []string{cn},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	chainPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyBytes, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	return chainPEM, keyPEM
}

func TestCatalogExactAndWildcardPrecedence(t *testing.T) {
	fallback, err := GenerateFallback()
	require.NoError(t, err)
	cat := New(fallback)

	wildcardChain, wildcardKey := selfSignedPEM(t, "*.apps.test")
	exactChain, exactKey := selfSignedPEM(t, "billing.apps.test")

	err = cat.Rebuild([]model.Certificate{
		{ID: "c1", Domain: "*.apps.test", ChainPEM: wildcardChain, KeyPEM: wildcardKey},
		{ID: "c2", Domain: "billing.apps.test", ChainPEM: exactChain, KeyPEM: exactKey},
	})
	require.NoError(t, err)

	got, err := cat.GetCertificate(&tls.ClientHelloInfo{ServerName: "billing.apps.test"})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(got.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "billing.apps.test", leaf.Subject.CommonName)

	got, err = cat.GetCertificate(&tls.ClientHelloInfo{ServerName: "support.apps.test"})
	require.NoError(t, err)
	leaf, err = x509.ParseCertificate(got.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "*.apps.test", leaf.Subject.CommonName)

	got, err = cat.GetCertificate(&tls.ClientHelloInfo{ServerName: "apps.test"})
	require.NoError(t, err)
	require.Same(t, fallback, got)

	got, err = cat.GetCertificate(&tls.ClientHelloInfo{ServerName: "a.b.apps.test"})
	require.NoError(t, err)
	require.Same(t, fallback, got)
}

func TestCatalogUpdateInPlace(t *testing.T) {
	fallback, err := GenerateFallback()
	require.NoError(t, err)
	cat := New(fallback)

	chain1, key1 := selfSignedPEM(t, "renew.test")
	require.NoError(t, cat.Rebuild([]model.Certificate{{ID: "c1", Domain: "renew.test", ChainPEM: chain1, KeyPEM: key1}}))

	chain2, key2 := selfSignedPEM(t, "renew.test-renewed")
	require.NoError(t, cat.Update(model.Certificate{ID: "c1", Domain: "renew.test", ChainPEM: chain2, KeyPEM: key2}))

	got, err := cat.GetCertificate(&tls.ClientHelloInfo{ServerName: "renew.test"})
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(got.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "renew.test-renewed", leaf.Subject.CommonName)
}
