package edupage

import (
	"errors"
	"fmt"
)

var (
	// ErrBadCredentials means the provider rejected the login form, it is never retried.
	ErrBadCredentials = errors.New("edupage: bad credentials")
	// ErrNotLoggedIn means an operation was attempted on a client without a session.
	ErrNotLoggedIn = errors.New("edupage: not logged in")
	// ErrSessionExpired means the session was valid once but the provider now rejects it,
	// the persisted snapshot should be dropped and the user asked to log in again.
	ErrSessionExpired = errors.New("edupage: session expired")
	// ErrProviderProtocol means the shape of a provider response no longer matches
	// what the scraper expects.
	ErrProviderProtocol = errors.New("edupage: unexpected provider response")
	// ErrFailedToChangeMeal means the provider explicitly refused an order or cancel.
	ErrFailedToChangeMeal = errors.New("edupage: failed to change meal")
	// ErrNetwork is a transport level failure (timeouts, dns, tls), callers may retry.
	ErrNetwork = errors.New("edupage: network failure")

	// ErrMarkerNotFound is wrapped by a ProtocolError when a textual marker is absent.
	ErrMarkerNotFound = errors.New("marker not found")
)

// ProtocolError describes where the scraper lost track of the provider's format.
type ProtocolError struct {
	Op string
	// Heuristic is the boundary detection that was being applied when the failure happened.
	Heuristic string
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.Heuristic != "" {
		return fmt.Sprintf("%s: %s (heuristic %q): %v", ErrProviderProtocol, e.Op, e.Heuristic, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrProviderProtocol, e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() []error {
	return []error{ErrProviderProtocol, e.Err}
}

func protocolError(op, heuristic string, err error) error {
	return &ProtocolError{Op: op, Heuristic: heuristic, Err: err}
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrNetwork, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

// ChangeMealError carries the message the provider gave when it refused a mutation.
type ChangeMealError struct {
	Date    string
	Choice  string
	Message string
}

func (e *ChangeMealError) Error() string {
	return fmt.Sprintf("%s: %s -> %s: %s", ErrFailedToChangeMeal, e.Date, e.Choice, e.Message)
}

func (e *ChangeMealError) Unwrap() error {
	return ErrFailedToChangeMeal
}
