package client

import (
	"fmt"

	"verifyflow/internal/verification/ports"
)

// Category classifies a failed remote call.
type Category string

const (
	// CategoryRejected is a 4xx: the service said no.
	CategoryRejected Category = "rejected"
	// CategoryOutage is a 5xx or a transport failure.
	CategoryOutage Category = "outage"
	// CategoryTimeout is a call that ran out of time.
	CategoryTimeout Category = "timeout"
	// CategoryBadData is a success status with a body that could not be read.
	CategoryBadData Category = "bad_data"
)

// RemoteError is returned for every failed remote call. Rejections unwrap to
// ports.ErrRejected; everything else unwraps to the underlying cause.
type RemoteError struct {
	Call     string
	Category Category
	Status   int
	Err      error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("verification %s call: %s", e.Call, e.Category)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error {
	if e.Category == CategoryRejected {
		return ports.ErrRejected
	}
	return e.Err
}
