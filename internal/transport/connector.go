// Package transport opens the single byte stream a session runs over: a TCP
// connection, upgraded to TLS for https targets.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/huntermatuse/crowsong/internal/errs"
	"github.com/huntermatuse/crowsong/internal/trust"
)

// ALPNProtocol is the only application protocol offered in the ClientHello.
const ALPNProtocol = "h2"

// DialFunc opens the raw stream to addr.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Connector dials targets and performs the TLS upgrade.
type Connector struct {
	policy   trust.Policy
	dial     DialFunc
	provider *trust.Provider
	now      func() time.Time
}

// Option configures a Connector.
type Option func(*Connector)

// WithDialFunc replaces the TCP dialer, e.g. with an in-memory listener.
func WithDialFunc(d DialFunc) Option {
	return func(c *Connector) { c.dial = d }
}

// NewConnector builds a connector that consults policy on every TLS
// handshake. A nil policy accepts any server.
func NewConnector(policy trust.Policy, opts ...Option) *Connector {
	if policy == nil {
		policy = trust.AcceptAny{}
	}
	var d net.Dialer
	c := &Connector{
		policy:   policy,
		dial:     d.DialContext,
		provider: trust.InstallDefault(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect opens a stream to t. Plain targets return the TCP connection as is
// and never consult the policy.
func (c *Connector) Connect(ctx context.Context, t Target) (net.Conn, error) {
	raw, err := c.dial(ctx, "tcp", t.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", errs.ErrTransport, t.Addr(), err)
	}
	if t.Scheme != SchemeTLS {
		return raw, nil
	}

	conn := tls.Client(raw, c.tlsConfig(t.Host))
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, fmt.Errorf("%w: handshake with %s: %w", errs.ErrTransport, t.Addr(), err)
		}
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrHandshake, t.Addr(), err)
	}
	return conn, nil
}

func (c *Connector) tlsConfig(host string) *tls.Config {
	return &tls.Config{
		ServerName: host,
		NextProtos: []string{ALPNProtocol},
		// Chain and signature decisions belong to the policy.
		InsecureSkipVerify: true,
		VerifyConnection:   trust.VerifyConnection(c.policy, c.now),
		MinVersion:         c.provider.MinVersion(),
		CipherSuites:       c.provider.CipherSuites(),
	}
}
