package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrParse marks a malformed input document. Parse failures are fatal for the
// batch item and are not routed to the retry queue.
var ErrParse = errors.New("parse error")

// RemoteError is a non-success response from Alma or Libris.
type RemoteError struct {
	System string // "alma", "alma-sru", "libris"
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s: http %d: %s", e.System, e.Op, e.Status, e.Body)
}

// FailureKind categorizes a reconciliation step failure.
type FailureKind string

const (
	FailureParse     FailureKind = "parse"
	FailureTransient FailureKind = "transient"
	FailureRemote    FailureKind = "remote"
	FailureConflict  FailureKind = "conflict"
)

// KindOf maps an error to its failure kind. Unrecognized errors are treated
// as transient so they stay retryable.
func KindOf(err error) FailureKind {
	if errors.Is(err, ErrParse) {
		return FailureParse
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		if remote.Status == 409 || remote.Status == 412 {
			return FailureConflict
		}
		return FailureRemote
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}

	return FailureTransient
}
