package ubibot

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a channel id is absent from the vendor's
// channel list. It is distinct from a transport failure: the API answered,
// the channel just is not there.
var ErrNotFound = errors.New("channel not found")

// TransportError wraps connection-level failures (DNS, refused, timeout).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a non-200 status or an unparseable response body.
// Body holds at most the first 200 bytes of the response as a diagnostic.
type ProtocolError struct {
	Status int
	Body   string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v: %s", e.Status, e.Err, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// truncate clips a response body for error messages.
func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
