package connection

import (
	"fmt"
)

// AuthError reports a rejected or malformed signin.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Err)
	}
	return "authentication failed: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError reports a reply that does not fit the envelope, or a reply
// that cannot be correlated with a request.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Err)
	}
	return "protocol error: " + e.Message
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// StatementError carries the server message of the first statement in a
// query reply whose status is ERR. Error returns the message verbatim.
type StatementError struct {
	Index   int
	Message string
}

func (e *StatementError) Error() string {
	return e.Message
}

// TransportError wraps a send, receive or dial failure of the websocket.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
