package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error annotates a Firestore failure with the operation and a coarse classification.
type Error struct {
	Op   string
	Code codes.Code
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NotFound reports whether the error represents a missing document.
func (e *Error) NotFound() bool {
	return e != nil && e.Code == codes.NotFound
}

// Forbidden reports whether security rules or IAM rejected the call.
func (e *Error) Forbidden() bool {
	return e != nil && (e.Code == codes.PermissionDenied || e.Code == codes.Unauthenticated)
}

// Temporary reports whether a retry may succeed.
func (e *Error) Temporary() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.Aborted:
		return true
	}
	return false
}

// WrapError annotates Firestore errors with the operation. Context cancellations pass through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var fsErr *Error
	if errors.As(err, &fsErr) {
		if fsErr.Op == "" {
			fsErr.Op = op
		}
		return fsErr
	}
	return &Error{Op: op, Code: status.Code(err), Err: err}
}

// IsNotFound reports whether err wraps a missing-document failure.
func IsNotFound(err error) bool {
	var fsErr *Error
	return errors.As(err, &fsErr) && fsErr.NotFound()
}
