package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/huntermatuse/crowsong/internal/errs"
)

// Scheme selects whether the stream is upgraded to TLS.
type Scheme int

const (
	SchemePlain Scheme = iota
	SchemeTLS
)

func (s Scheme) String() string {
	if s == SchemeTLS {
		return "https"
	}
	return "http"
}

// Target is a parsed endpoint address.
type Target struct {
	Scheme Scheme
	Host   string
	Port   int
}

// ParseTarget parses "http://host[:port]" or "https://host[:port]". A missing
// port defaults to 80 or 443. Any path, query or credential is rejected.
func ParseTarget(address string) (Target, error) {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", errs.ErrInvalidTarget, err)
	}

	var t Target
	switch strings.ToLower(u.Scheme) {
	case "http":
		t.Scheme, t.Port = SchemePlain, 80
	case "https":
		t.Scheme, t.Port = SchemeTLS, 443
	default:
		return Target{}, fmt.Errorf("%w: scheme must be http or https: %q", errs.ErrInvalidTarget, address)
	}
	if u.User != nil || (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return Target{}, fmt.Errorf("%w: unexpected path or query: %q", errs.ErrInvalidTarget, address)
	}

	t.Host = u.Hostname()
	if t.Host == "" {
		return Target{}, fmt.Errorf("%w: missing host: %q", errs.ErrInvalidTarget, address)
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return Target{}, fmt.Errorf("%w: invalid port %q", errs.ErrInvalidTarget, p)
		}
		t.Port = n
	}
	return t, nil
}

// Addr is the host:port dialed for the target.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.Scheme.String() + "://" + t.Addr()
}
