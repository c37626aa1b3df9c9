package dgt

import (
	"fmt"
)

// TransportError is returned when a request fails at the HTTP level: the
// connection failed or the server answered with a non-2xx status.
type TransportError struct {
	Step       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dgt: %s: %s", e.Step, e.Err)
	}
	return fmt.Sprintf("dgt: %s: unexpected status %d", e.Step, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is returned when a response does not have the shape the form
// application is known to produce, usually because the remote form changed.
type ProtocolError struct {
	Step   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("dgt: %s: unexpected response: %s", e.Step, e.Reason)
}

// DomainError is an error reported by the application itself, such as there
// being no data for the requested period.
type DomainError struct {
	Message string
}

// UnknownDomainError is the message used when the error page has no
// readable error message.
const UnknownDomainError = "Unknown"

func (e *DomainError) Error() string {
	return fmt.Sprintf("dgt: %s", e.Message)
}
