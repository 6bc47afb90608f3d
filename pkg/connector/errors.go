package connector

import (
	"errors"
	"fmt"
)

// ErrTransport is the sentinel for any non-2xx connector response.
var ErrTransport = errors.New("connector transport error")

// maxErrorBody bounds how much of a response body is kept for diagnosis.
const maxErrorBody = 4096

// TransportError carries the HTTP status and response body of a failed
// connector call. The core never retries these; retry policy, if any,
// belongs to the caller.
type TransportError struct {
	Status int
	Body   string
	Method string
	Path   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connector %s %s failed: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return ErrTransport }
