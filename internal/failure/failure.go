// Package failure defines the error taxonomy shared by the queue subscriber,
// orchestrator, and submission tasks, and the classification helpers used to
// tag logs and metrics.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind buckets every pipeline error into exactly one handling policy.
type Kind string

const (
	// KindValidation is malformed input; dropped, never retried.
	KindValidation Kind = "validation"
	// KindTransientInfra is a queue/oracle/network hiccup; retried with backoff.
	KindTransientInfra Kind = "transient_infra"
	// KindTransientAutomation is a page timeout or captcha-service outage;
	// retried within the task's own policy.
	KindTransientAutomation Kind = "transient_automation"
	// KindStructural is a deterministic rejection by the target site;
	// recorded failed, not retried.
	KindStructural Kind = "structural"
	// KindAmbiguous means the automation could not classify the outcome;
	// recorded needs-human, surfaced for manual review.
	KindAmbiguous Kind = "ambiguous"
	// KindFatalWorker is a process-level crash, recovered via queue
	// redelivery plus idempotency rather than in-process handling.
	KindFatalWorker Kind = "fatal_worker"
	// KindUnknown is everything unclassified; treated as transient infra so
	// that a novel error never hangs a task forever.
	KindUnknown Kind = "unknown"
)

// Error pairs an underlying error with its taxonomy kind.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the wrapped error to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind. A nil err returns nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf wraps a formatted error with the given kind.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the taxonomy kind for err, unwrapping as needed.
// Untagged network and timeout errors classify as transient infra.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientInfra
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransientInfra
	}

	return KindUnknown
}

// Retryable reports whether the task-level retry policy applies to err.
// Only transient classes retry; unknown errors are given the benefit of the
// doubt up to the attempt ceiling.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransientInfra, KindTransientAutomation, KindUnknown:
		return true
	default:
		return false
	}
}

// Classify returns a normalized label for metric/log tagging: the taxonomy
// kind when tagged, otherwise a snake_case rendering of the innermost error
// type.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	if k := KindOf(err); k != KindUnknown && k != "" {
		return string(k)
	}

	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	name := strings.ToLower(fmt.Sprintf("%T", err))
	name = strings.ReplaceAll(name, "*", "")
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" || name == "errors_errorstring" {
		return "unknown"
	}
	return name
}
