package audiofetch

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrChannel is returned when the fetch scheduler is gone. Callers
	// treat it as "nothing left to request".
	ErrChannel = errors.New("audiofetch: fetch scheduler has shut down")

	// ErrHeader is returned when a required response header is missing
	// or malformed.
	ErrHeader = errors.New("audiofetch: required response header missing")

	// ErrNoData is returned when a stream ends before its first chunk.
	ErrNoData = errors.New("audiofetch: stream ended before any data")

	// ErrWaitTimeout is returned when a blocking wait saw no progress for
	// DownloadTimeout. It matches os.ErrDeadlineExceeded.
	ErrWaitTimeout = &waitTimeoutError{}

	errInvalidSeek = errors.New("audiofetch: invalid seek")
)

type waitTimeoutError struct{}

func (e *waitTimeoutError) Error() string {
	return "audiofetch: download timed out"
}

// Timeout marks the error as an I/O timeout (net.Error style).
func (e *waitTimeoutError) Timeout() bool { return true }

func (e *waitTimeoutError) Unwrap() error { return os.ErrDeadlineExceeded }

// StatusCodeError is returned when a server answers a range request with
// anything other than 206 Partial Content.
type StatusCodeError struct {
	Code   int
	Status string
}

func (e *StatusCodeError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("audiofetch: unexpected HTTP status %s", e.Status)
	}
	return fmt.Sprintf("audiofetch: unexpected HTTP status %d", e.Code)
}

// HeaderError describes which header was missing or invalid. It matches
// ErrHeader.
type HeaderError struct {
	Header string
	Value  string
}

func (e *HeaderError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("audiofetch: missing %s header", e.Header)
	}
	return fmt.Sprintf("audiofetch: invalid %s header %q", e.Header, e.Value)
}

func (e *HeaderError) Unwrap() error { return ErrHeader }
