// Package reelerr classifies provider and store failures into the
// behavioral error categories the agent loop and CLI reason about.
package reelerr

import (
	"errors"
	"fmt"
)

// Class is a behavioral error category, not a concrete type. The same
// Class can be produced by any adapter; callers switch on Class rather
// than on Go types.
type Class string

const (
	ClassConfig          Class = "config_error"
	ClassTransient       Class = "transient"
	ClassRateLimited     Class = "rate_limited"
	ClassOutOfCredits    Class = "out_of_credits"
	ClassAuthFailed      Class = "auth_failed"
	ClassInvalidResponse Class = "invalid_response"
	ClassLLM             Class = "llm_error"
	ClassNotFound        Class = "not_found"
)

// Retryable reports whether a tool-level retry loop should re-attempt a
// call that failed with this class.
func (c Class) Retryable() bool {
	switch c {
	case ClassTransient, ClassRateLimited, ClassLLM:
		return true
	default:
		return false
	}
}

// Unrecoverable reports whether the agent loop must abort the whole run
// rather than let the LLM route around the failure on the next turn.
// auth_failed and out_of_credits are both dead ends no amount of
// re-planning can fix, per spec.md §4.7/§7.
func (c Class) Unrecoverable() bool {
	switch c {
	case ClassConfig, ClassAuthFailed, ClassOutOfCredits:
		return true
	default:
		return false
	}
}

// Classified pairs a behavioral class with the underlying error and
// operation-specific context, in the spirit of the teacher's
// ErrorContext/WithContext pair: a wrapped error that still participates
// in errors.Is/As while carrying structured fields for logging.
type Classified struct {
	Class     Class
	Operation string
	Details   map[string]any
	Err       error
}

func (c *Classified) Error() string {
	if len(c.Details) == 0 {
		return fmt.Sprintf("%s [%s]: %v", c.Operation, c.Class, c.Err)
	}
	msg := fmt.Sprintf("%s [%s]: %v", c.Operation, c.Class, c.Err)
	for k, v := range c.Details {
		msg += fmt.Sprintf(" %s=%v", k, v)
	}
	return msg
}

func (c *Classified) Unwrap() error { return c.Err }

// WithContext wraps err as a Classified error carrying operation name,
// class, and arbitrary detail fields (URL, handle, status code, ...).
func WithContext(err error, class Class, operation string, details map[string]any) error {
	if err == nil {
		return nil
	}
	return &Classified{Class: class, Operation: operation, Details: details, Err: err}
}

// ClassOf extracts the behavioral class from err, walking the wrap chain.
// Unclassified errors report ClassTransient, the conservative default
// that still allows a bounded retry before giving up.
func ClassOf(err error) Class {
	var c *Classified
	if errors.As(err, &c) {
		return c.Class
	}
	return ClassTransient
}

// Fields renders the Classified's context as key/value pairs suitable for
// structured logging.
func (c *Classified) Fields() map[string]any {
	out := map[string]any{"operation": c.Operation, "class": string(c.Class)}
	for k, v := range c.Details {
		out[k] = v
	}
	return out
}
