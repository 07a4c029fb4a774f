// File: pkg/storage/errors.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies an Error so callers can branch on the outcome
type Kind int

const (
	KindGeneric Kind = iota
	KindNotFound
	KindAlreadyExists
	KindPrecondition
	KindNotModified
	KindInvalidRange
	KindPermissionDenied
	KindRateLimited
	KindInvalidInput
	KindNotSupported
)

var kindNames = map[Kind]string{
	KindGeneric:          "generic",
	KindNotFound:         "not found",
	KindAlreadyExists:    "already exists",
	KindPrecondition:     "precondition failed",
	KindNotModified:      "not modified",
	KindInvalidRange:     "invalid range",
	KindPermissionDenied: "permission denied",
	KindRateLimited:      "rate limited",
	KindInvalidInput:     "invalid input",
	KindNotSupported:     "not supported",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Op names the storage operation an error originated from
type Op string

const (
	OpGet    Op = "get"
	OpHead   Op = "head"
	OpPut    Op = "put"
	OpDelete Op = "delete"
	OpList   Op = "list"
	OpCopy   Op = "copy"
	OpRename Op = "rename"
	OpUsage  Op = "usage"
)

// Error is the single error type surfaced by every store. Store and
// transport details are kept in Err for diagnostics.
type Error struct {
	Kind   Kind
	Store  string
	Op     Op
	Path   Path
	Status int
	// Set by the server through Retry-After, zero otherwise
	RetryAfter time.Duration
	// Transport failures and 5xx responses; the retry controller only retries these and RateLimited
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Store != "" {
		b.WriteString(e.Store)
		b.WriteString(" ")
	}
	if e.Op != "" {
		b.WriteString(string(e.Op))
		b.WriteString(" ")
	}
	if e.Path != "" {
		fmt.Fprintf(&b, "%q ", string(e.Path))
	}
	if b.Len() > 0 {
		b.WriteString("failed: ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Matches any *Error of the same Kind, so errors.Is(err, ErrNotFound) works
// regardless of store, op or path
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || (e.Kind == KindGeneric && e.Transient)
}

var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrAlreadyExists    = &Error{Kind: KindAlreadyExists}
	ErrPrecondition     = &Error{Kind: KindPrecondition}
	ErrNotModified      = &Error{Kind: KindNotModified}
	ErrInvalidRange     = &Error{Kind: KindInvalidRange}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrRateLimited      = &Error{Kind: KindRateLimited}
	ErrGeneric          = &Error{Kind: KindGeneric}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
	ErrNotSupported     = &Error{Kind: KindNotSupported}
)

// Returns the Kind of the first *Error in the chain, KindGeneric otherwise
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindGeneric
}

func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

// Returns the server-requested delay carried by err, if any
func RetryAfter(err error) time.Duration {
	var se *Error
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// Maps an HTTP status to the error taxonomy. create marks conditional
// create-if-absent requests, where a failed precondition or a conflict means
// the destination already exists.
func FromStatus(status int, op Op, path Path, create bool) *Error {
	e := &Error{Op: op, Path: path, Status: status}
	switch {
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusMethodNotAllowed && (op == OpGet || op == OpHead):
		// Some servers answer GET on a directory with 405
		e.Kind = KindNotFound
	case status == http.StatusNotModified:
		e.Kind = KindNotModified
	case (status == http.StatusPreconditionFailed || status == http.StatusConflict) && create:
		e.Kind = KindAlreadyExists
	case status == http.StatusPreconditionFailed:
		e.Kind = KindPrecondition
	case status == http.StatusRequestedRangeNotSatisfiable:
		e.Kind = KindInvalidRange
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindPermissionDenied
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status >= 500:
		e.Kind = KindGeneric
		e.Transient = true
	default:
		e.Kind = KindGeneric
	}
	return e
}

// Maps a failure that produced no response. Cancellation by the caller is
// never transient.
func FromTransport(err error, op Op, path Path) *Error {
	e := &Error{Kind: KindGeneric, Op: op, Path: path, Err: err}
	if !errors.Is(err, context.Canceled) {
		e.Transient = true
	}
	return e
}

func invalidInput(path Path, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Path: path, Err: fmt.Errorf(format, args...)}
}

// Builds an InvalidInput error for op, detected before any network call
func InvalidInput(op Op, path Path, format string, args ...any) *Error {
	e := invalidInput(path, format, args...)
	e.Op = op
	return e
}

// Builds a Generic error for malformed or inconsistent server responses
func ProtocolError(op Op, path Path, format string, args ...any) *Error {
	return &Error{Kind: KindGeneric, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

// Fills in Store and Op on a *Error that lacks them, leaving other errors untouched
func Annotate(err error, store string, op Op) error {
	var se *Error
	if errors.As(err, &se) {
		if se.Store == "" {
			se.Store = store
		}
		if se.Op == "" {
			se.Op = op
		}
	}
	return err
}

// Retry-After is either delay-seconds or an HTTP date. Dates in the past
// and unparsable values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
