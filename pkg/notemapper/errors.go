package notemapper

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrInvalidAnchor       = errors.New("invalid anchor")
	ErrNotFound            = errors.New("not found")
	ErrMissingFields       = errors.New("missing fields")
	ErrIndexOutOfRange     = errors.New("index out of range")
	ErrEmptySelection      = errors.New("empty selection")
	ErrMissingTarget       = errors.New("missing target")
	ErrBusy                = errors.New("busy")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrDetectionFailed     = errors.New("detection failed")
	ErrPartialFailure      = errors.New("partial failure")
	ErrInvalidTarget       = errors.New("invalid target")
	ErrInvalidImage        = errors.New("invalid image")
	ErrInvalidState        = errors.New("invalid state")
	ErrSuperseded          = errors.New("superseded")
)

var kinds = []error{
	ErrInvalidAnchor,
	ErrNotFound,
	ErrMissingFields,
	ErrIndexOutOfRange,
	ErrEmptySelection,
	ErrMissingTarget,
	ErrBusy,
	ErrUpstreamUnavailable,
	ErrDetectionFailed,
	ErrPartialFailure,
	ErrInvalidTarget,
	ErrInvalidImage,
	ErrInvalidState,
	ErrSuperseded,
}

// Error attaches an operation and an optional cause to an error kind.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := e.Kind.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind error, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the kind of the outermost *Error in err's chain, or else the
// first known kind err matches, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != nil {
		return e.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// StageError tags a collaborator failure with the pipeline stage it broke.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Describe renders err as a human-readable status line ("stage: kind: reason").
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var se *StageError
	if errors.As(err, &se) {
		if k := KindOf(se.Err); k != nil {
			return fmt.Sprintf("%s failed (%s): %v", se.Stage, k, se.Err)
		}
		return fmt.Sprintf("%s failed: %v", se.Stage, se.Err)
	}
	return err.Error()
}

// classify gives unkinded collaborator errors a kind. Deadline expiry and
// cancellation count as the upstream being unavailable.
func classify(err error, fallback error, op string) error {
	if KindOf(err) != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(ErrUpstreamUnavailable, op, err)
	}
	return Wrap(fallback, op, err)
}
