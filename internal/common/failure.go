package common

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"syscall"
)

// FailureKind classifies an error for retry purposes.
//
// Transient failures are expected to succeed on retry without intervention
// (aborted transactions, lock contention, network timeouts). Permanent
// failures will not succeed without a change in input or state (constraint
// violations, validation errors, authentication rejections, quota
// exhaustion). Fatal failures mean the local store cannot operate at all.
type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailurePermanent
	FailureFatal
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailurePermanent:
		return "permanent"
	case FailureFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// transientMarkers are substrings of driver error messages that indicate a
// write was interrupted mid-flight rather than rejected. SQLite reports
// these as SQLITE_BUSY, SQLITE_LOCKED and SQLITE_INTERRUPT.
var transientMarkers = []string{
	"database is locked",
	"database table is locked",
	"interrupted",
	"busy",
}

// permanentMarkers indicate the write itself is unacceptable and retrying
// the same record can never succeed.
var permanentMarkers = []string{
	"constraint failed",
	"unique constraint",
	"not null constraint",
	"check constraint",
	"foreign key constraint",
	"database or disk is full",
	"disk i/o error",
	"out of memory",
}

// Classify maps an error to its FailureKind. Unknown errors are treated as
// transient so that a retry gets a chance before the failure is surfaced.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureTransient
	}

	if errors.Is(err, ErrStoreUnavailable) {
		return FailureFatal
	}
	if errors.Is(err, ErrServerRejected) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrUnknownKind) {
		return FailurePermanent
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTransient
	}
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, os.ErrPermission) {
		return FailurePermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}

	msg := strings.ToLower(err.Error())
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return FailurePermanent
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return FailureTransient
		}
	}
	return FailureTransient
}
