// Package upload defines what is handed to a destination and how a
// destination reports failure.
package upload

import (
	"context"
	"fmt"
)

// Payload is built once per submission and never modified.
type Payload struct {
	Asset       []byte
	Filename    string
	MIMEType    string
	Caption     string
	Destination string
}

// Uploader delivers a payload to an external destination. Errors are
// either *TransportError or *RejectedError.
type Uploader interface {
	Upload(ctx context.Context, p Payload) error
}

// TransportError means the destination could not be reached. Retrying may
// succeed.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upload transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RejectedError means the destination answered and refused the upload.
// Reason is the destination's own description.
type RejectedError struct {
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("upload rejected (%d): %s", e.Code, e.Reason)
	}
	return "upload rejected: " + e.Reason
}
