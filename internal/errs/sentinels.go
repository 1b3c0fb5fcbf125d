// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Transport and session sentinels.
var (
	// ErrTransport indicates the network path could not be opened (unreachable, refused, timeout).
	ErrTransport = errors.New("transport error")

	// ErrHandshake indicates the TLS upgrade failed or the server identity was rejected.
	ErrHandshake = errors.New("tls handshake failed")

	// ErrInvalidTarget indicates an endpoint URI that is not http(s)://host[:port].
	ErrInvalidTarget = errors.New("invalid target address")

	// ErrInvalidCredential indicates an api token that cannot be sent as metadata.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrNotEstablished indicates a call on a session whose setup never completed.
	ErrNotEstablished = errors.New("session not established")

	// ErrReleased indicates a call on a session after Release.
	ErrReleased = errors.New("session released")

	// ErrConnectionLost indicates the single connection owned by a session is gone.
	ErrConnectionLost = errors.New("connection lost")
)

// Timestamp codec sentinels.
var (
	// ErrParse indicates a calendar string that does not match the accepted layouts.
	ErrParse = errors.New("parse error")

	// ErrOutOfRange indicates a timestamp outside the calendar formatter's domain.
	ErrOutOfRange = errors.New("timestamp out of range")
)

// Query sentinels.
var (
	// ErrInvalidQuery indicates a history query the client refuses to send.
	ErrInvalidQuery = errors.New("invalid query")
)

// Mock service sentinels.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")
)
