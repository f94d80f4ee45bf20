package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSource is returned when a requested source or sub-source is not registered.
	ErrUnknownSource = errors.New("unknown source")
	// ErrSinkFatal marks a sink error that must abort the current run.
	ErrSinkFatal = errors.New("sink failure is fatal")
	// ErrCanceled is the abort reason recorded when the run context is canceled.
	ErrCanceled = errors.New("run canceled")
)

// FetchError reports a failed fetch of one target. The run continues.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseFailure reports that Extract could not interpret an envelope.
type ParseFailure struct {
	URL    string
	Reason string
	Err    error
}

// NewParseFailure builds a ParseFailure for the envelope's response URL.
func NewParseFailure(env Envelope, reason string, err error) *ParseFailure {
	return &ParseFailure{URL: env.ResponseURL, Reason: reason, Err: err}
}

func (e *ParseFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("parse %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *ParseFailure) Unwrap() error {
	return e.Err
}

// SinkError reports that the sink rejected an item.
type SinkError struct {
	Source string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink rejected item from %s: %v", e.Source, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// FatalSourceError aborts a source run. Other sources are unaffected.
type FatalSourceError struct {
	Source string
	Err    error
}

func (e *FatalSourceError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("fatal: %v", e.Err)
	}
	return fmt.Sprintf("source %s: fatal: %v", e.Source, e.Err)
}

func (e *FatalSourceError) Unwrap() error {
	return e.Err
}

// Fatal wraps err so that yielding it from Extract aborts the run.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalSourceError{Err: err}
}

// IsFatal reports whether err must abort the current run.
func IsFatal(err error) bool {
	var fatal *FatalSourceError
	return errors.As(err, &fatal) || errors.Is(err, ErrSinkFatal)
}

// LostRecords reports how many items a sink error accounts for. Sinks that
// drop a whole buffered batch return an error with a Lost() int method;
// any other error accounts for the one item being accepted.
func LostRecords(err error) int {
	var batch interface{ Lost() int }
	if errors.As(err, &batch) && batch.Lost() > 0 {
		return batch.Lost()
	}
	return 1
}
