package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means no valid user identity was available. Fatal to
	// the connection attempt; never retried internally.
	ErrAuthentication = errors.New("chat: no authenticated user")

	// ErrConnectionTimeout means the bounded connect wait was exceeded. The
	// caller may retry EnsureConnected.
	ErrConnectionTimeout = errors.New("chat: connection attempt timed out")

	// ErrNotConnected means an operation was attempted without a live
	// transport and establishing one failed.
	ErrNotConnected = errors.New("chat: not connected")
)

// ValidationError is a local precondition failure raised before any network
// call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chat: invalid %s: %s", e.Field, e.Reason)
}

// RemoteError is a domain-level failure reported by the backend in an
// acknowledgement.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("chat: %s rejected by backend: %s", e.Op, e.Message)
}
