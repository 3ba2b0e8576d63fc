package chat

import "errors"

// Sentinel errors returned by the session manager. Callers match with
// errors.Is; wrapped messages carry the detail.
var (
	// ErrNotConnected: no credential or no live session where one is required.
	ErrNotConnected = errors.New("not connected")

	// ErrTransport: the upstream chat connection or send failed.
	ErrTransport = errors.New("transport failure")

	// ErrNotFound: unknown message or bot identity.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamAuth: token rejected upstream; caller should re-run OAuth.
	ErrUpstreamAuth = errors.New("upstream authentication failed")

	// ErrInvalidState: operation requires state that does not exist yet,
	// e.g. connecting bot credentials before the identity was provisioned.
	ErrInvalidState = errors.New("invalid state")
)
