package unifi

import (
	"errors"
	"strings"
)

// Kind classifies a controller failure by the step that failed.
type Kind string

const (
	// KindAuthentication means the controller rejected the login or was unreachable.
	KindAuthentication Kind = "authentication"
	// KindGrantIssuance means voucher creation or the follow-up lookup failed.
	KindGrantIssuance Kind = "grant_issuance"
	// KindBinding means neither guest authorization command was accepted.
	KindBinding Kind = "binding"
)

// Error is returned by every controller operation in this package.
//
// Transport failures (dial errors, timeouts) never get a kind of their own:
// they are wrapped in Err under the kind of the step that was running, so
// errors.Is(err, context.DeadlineExceeded) keeps working.
type Error struct {
	Kind    Kind
	Op      string
	Status  int    // HTTP status of the last controller response, 0 if none
	Message string // meta.msg from the controller, if any
	Payload []byte // raw controller response body
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("unifi ")
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	b.WriteString(" failed")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport reports whether the failure came from the network rather than
// from a controller response.
func (e *Error) Transport() bool {
	var tooLarge *ResponseTooLargeError
	return e.Err != nil && !errors.As(e.Err, &tooLarge)
}

// KindOf returns the kind of a controller error, or "" if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
