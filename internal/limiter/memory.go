package limiter

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	fails        int
	updatedAt    time.Time
	blockedUntil time.Time
}

// Memory is an in-process limiter with a sliding failure window and lockout.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*entry
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// NewMemory blocks a peer for blockFor once it fails maxFails times with no
// gap longer than window between failures.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		entries:  make(map[string]*entry),
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
	}
}

var _ Limiter = (*Memory)(nil)

// Allow reports whether the peer is currently unblocked.
func (m *Memory) Allow(_ context.Context, peer []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[string(peer)]
	if !ok {
		return true, 0, nil
	}
	now := m.now()
	if e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets the peer.
func (m *Memory) Success(_ context.Context, peer []byte) error {
	m.mu.Lock()
	delete(m.entries, string(peer))
	m.mu.Unlock()
	return nil
}

// Failure counts a rejected attempt and blocks the peer at maxFails.
func (m *Memory) Failure(_ context.Context, peer []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e, ok := m.entries[string(peer)]
	if !ok {
		e = &entry{}
		m.entries[string(peer)] = e
	}
	if now.Sub(e.updatedAt) > m.window {
		e.fails = 0
	}
	e.fails++
	e.updatedAt = now
	if e.fails >= m.maxFails {
		e.blockedUntil = now.Add(m.blockFor)
		return true, m.blockFor, nil
	}
	return false, 0, nil
}
