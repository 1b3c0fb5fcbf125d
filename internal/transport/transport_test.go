package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/huntermatuse/crowsong/internal/certs"
	"github.com/huntermatuse/crowsong/internal/errs"
	"github.com/huntermatuse/crowsong/internal/trust"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/test/bufconn"
)

func TestParseTarget(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Target
	}{
		{"http://localhost", Target{SchemePlain, "localhost", 80}},
		{"https://views.example.com", Target{SchemeTLS, "views.example.com", 443}},
		{"https://views.example.com:55321", Target{SchemeTLS, "views.example.com", 55321}},
		{"HTTP://10.0.0.5:8080/", Target{SchemePlain, "10.0.0.5", 8080}},
		{"https://[::1]:9000", Target{SchemeTLS, "::1", 9000}},
	}
	for _, tc := range cases {
		got, err := ParseTarget(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}

	tgt, _ := ParseTarget("https://[::1]:9000")
	require.Equal(t, "[::1]:9000", tgt.Addr())
	require.Equal(t, "https://[::1]:9000", tgt.String())
}

func TestParseTarget_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"",
		"localhost:55321",
		"ftp://host",
		"https://",
		"https://host:0",
		"https://host:99999",
		"https://host/api/views",
		"https://user:pw@host",
		"https://host?x=1",
		"://broken",
	} {
		_, err := ParseTarget(in)
		require.ErrorIs(t, err, errs.ErrInvalidTarget, in)
	}
}

type countingPolicy struct {
	trust.AcceptAny
	calls atomic.Int32
}

func (c *countingPolicy) VerifyServerCert([]*x509.Certificate, string, time.Time) error {
	c.calls.Add(1)
	return nil
}

func bufDialer(lis *bufconn.Listener) DialFunc {
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
}

// echo accepts one connection, optionally wraps it in TLS and echoes bytes.
func echo(t *testing.T, lis net.Listener, cfg *tls.Config) {
	t.Helper()
	go func() {
		c, err := lis.Accept()
		if err != nil {
			return
		}
		if cfg != nil {
			c = tls.Server(c, cfg)
		}
		defer c.Close()
		_, _ = io.Copy(c, c)
	}()
}

func TestConnect_PlainNeverConsultsPolicy(t *testing.T) {
	t.Parallel()

	lis := bufconn.Listen(1 << 16)
	t.Cleanup(func() { _ = lis.Close() })
	echo(t, lis, nil)

	p := &countingPolicy{}
	c := NewConnector(p, WithDialFunc(bufDialer(lis)))
	conn, err := c.Connect(context.Background(), Target{SchemePlain, "views", 80})
	require.NoError(t, err)
	defer conn.Close()

	_, isTLS := conn.(*tls.Conn)
	require.False(t, isTLS)
	require.EqualValues(t, 0, p.calls.Load())
}

func TestConnect_TLSUpgrade(t *testing.T) {
	t.Parallel()

	cert, _, err := certs.SelfSigned("views")
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 16)
	t.Cleanup(func() { _ = lis.Close() })
	echo(t, lis, &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"h2"}})

	p := &countingPolicy{}
	c := NewConnector(p, WithDialFunc(bufDialer(lis)))
	conn, err := c.Connect(context.Background(), Target{SchemeTLS, "views", 443})
	require.NoError(t, err)
	defer conn.Close()

	tc, ok := conn.(*tls.Conn)
	require.True(t, ok)
	cs := tc.ConnectionState()
	require.Equal(t, ALPNProtocol, cs.NegotiatedProtocol)
	require.Equal(t, "views", cs.ServerName)
	require.EqualValues(t, 1, p.calls.Load())

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestConnect_HandshakeRejected(t *testing.T) {
	t.Parallel()

	cert, _, err := certs.SelfSigned("views")
	require.NoError(t, err)
	other, err := certs.NewAuthority("other")
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 16)
	t.Cleanup(func() { _ = lis.Close() })
	echo(t, lis, &tls.Config{Certificates: []tls.Certificate{cert}})

	c := NewConnector(trust.NewRoots(other.Pool()), WithDialFunc(bufDialer(lis)))
	_, err = c.Connect(context.Background(), Target{SchemeTLS, "views", 443})
	require.ErrorIs(t, err, errs.ErrHandshake)
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	c := NewConnector(nil, WithDialFunc(func(context.Context, string, string) (net.Conn, error) {
		return nil, boom
	}))
	_, err := c.Connect(context.Background(), Target{SchemeTLS, "views", 443})
	require.ErrorIs(t, err, errs.ErrTransport)
	require.ErrorIs(t, err, boom)
}
