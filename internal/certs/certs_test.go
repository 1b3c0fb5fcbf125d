package certs

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIssueServer_VerifiesAgainstAuthority(t *testing.T) {
	t.Parallel()

	ca, err := NewAuthority("test CA")
	require.NoError(t, err)
	cert, err := ca.IssueServer("views", "views.local", "127.0.0.1")
	require.NoError(t, err)

	require.Equal(t, []string{"views.local"}, cert.Leaf.DNSNames)
	require.Len(t, cert.Leaf.IPAddresses, 1)

	_, err = cert.Leaf.Verify(x509.VerifyOptions{Roots: ca.Pool(), DNSName: "views.local"})
	require.NoError(t, err)
	_, err = cert.Leaf.Verify(x509.VerifyOptions{Roots: ca.Pool(), DNSName: "other.local"})
	require.Error(t, err)
}

func TestWriteCA(t *testing.T) {
	t.Parallel()

	_, ca, err := SelfSigned("localhost")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ca.crt")
	require.NoError(t, ca.WriteCA(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(b))
}
