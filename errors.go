package zsock

import (
	"errors"
	"fmt"
)

// ErrorKind tags an engine error so callers branch on retryable vs terminal
// without string matching.
type ErrorKind int8

const (
	// KindUnderflow means not enough bytes are buffered yet. Retryable.
	KindUnderflow ErrorKind = iota + 1
	// KindMaxSizeExceeded means the delimiter was not found within the cap.
	KindMaxSizeExceeded
	// KindClosed means the source is exhausted or the sink is unusable.
	KindClosed
	// KindWriteFailure means the socket failed during transmit.
	KindWriteFailure
	// KindOverflow means a write would exceed the outbound ceiling.
	KindOverflow
	// KindTimeout means a blocking read gave up waiting.
	KindTimeout
	// KindMisuse is a programming error: unread while marked, double lease...
	KindMisuse
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnderflow:
		return "underflow"
	case KindMaxSizeExceeded:
		return "max size exceeded"
	case KindClosed:
		return "closed"
	case KindWriteFailure:
		return "write failure"
	case KindOverflow:
		return "overflow"
	case KindTimeout:
		return "timeout"
	case KindMisuse:
		return "misuse"
	}
	return fmt.Sprintf("kind(%d)", int8(k))
}

// Sentinels for errors.Is.
var (
	ErrUnderflow       = &Error{Kind: KindUnderflow}
	ErrMaxSizeExceeded = &Error{Kind: KindMaxSizeExceeded}
	ErrClosed          = &Error{Kind: KindClosed}
	ErrWriteFailure    = &Error{Kind: KindWriteFailure}
	ErrOverflow        = &Error{Kind: KindOverflow}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrMisuse          = &Error{Kind: KindMisuse}
)

var (
	errMarkActive    = errors.New("mark active")
	errLeaseActive   = errors.New("lease outstanding")
	errNoLease       = errors.New("no lease outstanding")
	errConnClosed    = errors.New("connection closed")
	errEmptyDelim    = errors.New("empty delimiter")
	errNegativeCount = errors.New("negative length")
)

// Error is the error type returned by queues, tasks and streams.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func newError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

func (e *Error) Error() string {
	s := "zsock: " + e.Kind.String()
	if e.Op != "" {
		s = "zsock: " + e.Op + ": " + e.Kind.String()
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrClosed) works
// regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or 0 if err is not an engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRetryable reports whether err may resolve once more bytes arrive.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUnderflow
}
