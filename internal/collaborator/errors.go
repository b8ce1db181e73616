package collaborator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/timmy/outreach/internal/domain"
)

// Kind categorizes collaborator failures by how the orchestrator reacts to them.
type Kind string

const (
	// KindTransient failures are retried up to the configured attempt limit.
	KindTransient Kind = "transient"
	// KindRejected means the collaborator refused the item; retrying will not help.
	KindRejected Kind = "rejected"
	// KindUnreachable means the collaborator endpoint could not be contacted at all.
	KindUnreachable Kind = "unreachable"
)

// Error represents a structured failure from a phase collaborator.
type Error struct {
	Kind    Kind
	Phase   domain.Phase
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s (%v)", e.Phase, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Phase, e.Kind, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Kind != KindRejected
}

// KindOf classifies any error returned by a Processor.
// Errors that are not *Error are treated as transient.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// IsUnreachable reports whether err means the collaborator could not be contacted.
func IsUnreachable(err error) bool {
	return err != nil && KindOf(err) == KindUnreachable
}

// classifyTransport maps a transport-level failure onto a Kind.
func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return KindUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTemporary {
		return KindUnreachable
	}
	return KindTransient
}

// classifyStatus maps a non-2xx HTTP status code onto a Kind.
func classifyStatus(code int) Kind {
	switch {
	case code == 429, code == 408, code >= 500 && code != 501:
		return KindTransient
	case code == 501:
		return KindUnreachable
	default:
		return KindRejected
	}
}
