// Package trust holds the certificate trust policies consulted during the TLS
// handshake. The connector never decides trust itself; it hands every
// handshake to a Policy through VerifyConnection.
package trust

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/huntermatuse/crowsong/internal/errs"
)

// Policy decides whether the server presented during a handshake is acceptable.
type Policy interface {
	// VerifyServerCert accepts or rejects the presented chain for serverName.
	VerifyServerCert(chain []*x509.Certificate, serverName string, now time.Time) error
	// VerifyTLS12Signature checks the key that signed a TLS 1.2 key exchange.
	VerifyTLS12Signature(leaf *x509.Certificate) error
	// VerifyTLS13Signature checks the key that signed a TLS 1.3 CertificateVerify.
	VerifyTLS13Signature(leaf *x509.Certificate) error
	// SupportedSchemes lists the signature schemes the policy can validate.
	SupportedSchemes() []tls.SignatureScheme
}

// VerifyConnection adapts p into a tls.Config.VerifyConnection hook. Per
// handshake it consults the chain checkpoint once, then the signature
// checkpoint of the negotiated version once.
func VerifyConnection(p Policy, now func() time.Time) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if err := p.VerifyServerCert(cs.PeerCertificates, cs.ServerName, now()); err != nil {
			return err
		}
		var leaf *x509.Certificate
		if len(cs.PeerCertificates) > 0 {
			leaf = cs.PeerCertificates[0]
		}
		if cs.Version == tls.VersionTLS13 {
			return p.VerifyTLS13Signature(leaf)
		}
		return p.VerifyTLS12Signature(leaf)
	}
}

// AcceptAny trusts every server. Canary deployments usually present
// self-signed or private-CA certificates.
type AcceptAny struct{}

var _ Policy = AcceptAny{}

func (AcceptAny) VerifyServerCert([]*x509.Certificate, string, time.Time) error { return nil }
func (AcceptAny) VerifyTLS12Signature(*x509.Certificate) error                  { return nil }
func (AcceptAny) VerifyTLS13Signature(*x509.Certificate) error                  { return nil }

// SupportedSchemes returns the default provider's scheme set.
func (AcceptAny) SupportedSchemes() []tls.SignatureScheme {
	return InstallDefault().Schemes()
}

// Roots verifies the chain against a root pool and the server name, and only
// accepts leaf keys that one of its signature schemes can validate.
type Roots struct {
	pool *x509.CertPool
}

var _ Policy = (*Roots)(nil)

// NewRoots returns a policy trusting pool. A nil pool means the system roots.
func NewRoots(pool *x509.CertPool) *Roots {
	return &Roots{pool: pool}
}

// LoadRoots reads PEM encoded CA certificates from path.
func LoadRoots(path string) (*Roots, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return NewRoots(pool), nil
}

func (r *Roots) VerifyServerCert(chain []*x509.Certificate, serverName string, now time.Time) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: server sent no certificate", errs.ErrHandshake)
	}
	inter := x509.NewCertPool()
	for _, c := range chain[1:] {
		inter.AddCert(c)
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         r.pool,
		Intermediates: inter,
		DNSName:       serverName,
		CurrentTime:   now,
	})
	return err
}

func (r *Roots) VerifyTLS12Signature(leaf *x509.Certificate) error { return r.checkKey(leaf) }
func (r *Roots) VerifyTLS13Signature(leaf *x509.Certificate) error { return r.checkKey(leaf) }

func (r *Roots) SupportedSchemes() []tls.SignatureScheme {
	return InstallDefault().Schemes()
}

func (r *Roots) checkKey(leaf *x509.Certificate) error {
	if leaf == nil {
		return fmt.Errorf("%w: no leaf certificate", errs.ErrHandshake)
	}
	for _, s := range r.SupportedSchemes() {
		if schemeFitsKey(s, leaf.PublicKeyAlgorithm) {
			return nil
		}
	}
	return fmt.Errorf("%w: no supported signature scheme for %s key", errs.ErrHandshake, leaf.PublicKeyAlgorithm)
}

func schemeFitsKey(s tls.SignatureScheme, alg x509.PublicKeyAlgorithm) bool {
	switch s {
	case tls.PSSWithSHA256, tls.PSSWithSHA384, tls.PSSWithSHA512,
		tls.PKCS1WithSHA256, tls.PKCS1WithSHA384, tls.PKCS1WithSHA512, tls.PKCS1WithSHA1:
		return alg == x509.RSA
	case tls.ECDSAWithP256AndSHA256, tls.ECDSAWithP384AndSHA384, tls.ECDSAWithP521AndSHA512, tls.ECDSAWithSHA1:
		return alg == x509.ECDSA
	case tls.Ed25519:
		return alg == x509.Ed25519
	}
	return false
}
