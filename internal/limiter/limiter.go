// Package limiter throttles repeated authentication failures per peer.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls token attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether a peer may try again and, if not, for how long it waits.
	Allow(ctx context.Context, peer []byte) (bool, time.Duration, error)
	// Success resets counters after an accepted token.
	Success(ctx context.Context, peer []byte) error
	// Failure records a rejected token; may place a temporary block.
	Failure(ctx context.Context, peer []byte) (bool, time.Duration, error)
}

// HashPeer returns a stable key for a peer address so raw addresses are not kept.
func HashPeer(addr string) []byte {
	h := sha256.Sum256([]byte(addr))
	return h[:]
}
