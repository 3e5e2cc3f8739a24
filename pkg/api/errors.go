package api

import "fmt"

// AuthError means the backend rejected the identity exchange. It is fatal to
// the login sequence; state stays reset.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth rejected (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("auth rejected (status %d): %s", e.StatusCode, e.Message)
}

// TransportError covers network failures and unexpected backend responses.
// It surfaces to the caller of the failing operation and never corrupts the
// session store.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}

func (e *TransportError) Unwrap() error { return e.Err }
