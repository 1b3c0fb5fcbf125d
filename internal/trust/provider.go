package trust

import (
	"crypto/tls"
	"slices"
	"sync"
)

// Provider is the process-wide set of TLS primitives handshakes are built from.
type Provider struct {
	schemes []tls.SignatureScheme
	suites  []uint16
}

var (
	installOnce sync.Once
	installed   *Provider
)

// InstallDefault installs the default provider on first use and returns it.
// Later and concurrent calls return the same instance.
func InstallDefault() *Provider {
	installOnce.Do(func() {
		suites := make([]uint16, 0, len(tls.CipherSuites()))
		for _, cs := range tls.CipherSuites() {
			suites = append(suites, cs.ID)
		}
		installed = &Provider{
			schemes: []tls.SignatureScheme{
				tls.PSSWithSHA256,
				tls.ECDSAWithP256AndSHA256,
				tls.Ed25519,
				tls.PSSWithSHA384,
				tls.PSSWithSHA512,
				tls.PKCS1WithSHA256,
				tls.PKCS1WithSHA384,
				tls.PKCS1WithSHA512,
				tls.ECDSAWithP384AndSHA384,
				tls.ECDSAWithP521AndSHA512,
			},
			suites: suites,
		}
	})
	return installed
}

// Schemes returns a copy of the signature schemes the provider can verify.
func (p *Provider) Schemes() []tls.SignatureScheme { return slices.Clone(p.schemes) }

// CipherSuites returns the TLS 1.2 suites offered in the ClientHello.
func (p *Provider) CipherSuites() []uint16 { return slices.Clone(p.suites) }

// MinVersion is the oldest protocol version a handshake may negotiate.
func (p *Provider) MinVersion() uint16 { return tls.VersionTLS12 }
