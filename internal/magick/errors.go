package magick

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures raised by the pipeline.
type ErrorKind string

const (
	// KindInvocation means the external tool could not be spawned, timed out
	// or exited non-zero.
	KindInvocation ErrorKind = "invocation"
	// KindProbe means a file is missing, unreadable or not a recognised image.
	KindProbe ErrorKind = "probe"
	// KindIO covers scratch allocation, write and delete failures.
	KindIO ErrorKind = "io"
	// KindInvalid rejects arguments before anything is invoked.
	KindInvalid ErrorKind = "invalid"
	// KindClosed is returned for operations on a closed session.
	KindClosed ErrorKind = "closed"
)

// Sentinels for errors.Is.
var (
	ErrInvocation = &Error{Kind: KindInvocation}
	ErrProbe      = &Error{Kind: KindProbe}
	ErrIO         = &Error{Kind: KindIO}
	ErrInvalid    = &Error{Kind: KindInvalid}
	ErrClosed     = &Error{Kind: KindClosed}
)

// ProbeReason tells apart the ways a probe can fail.
type ProbeReason string

const (
	ProbeMissing     ProbeReason = "missing"
	ProbeEmpty       ProbeReason = "empty"
	ProbeUnreadable  ProbeReason = "unreadable"
	ProbeUnsupported ProbeReason = "unsupported"
)

// Error is the structured error returned by every pipeline operation.
type Error struct {
	Kind     ErrorKind
	Op       string
	Path     string
	ExitCode int
	Stderr   string
	Reason   ProbeReason
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	switch {
	case e.Kind == KindProbe && e.Reason != "":
		fmt.Fprintf(&b, " (%s)", e.Reason)
	case e.Kind == KindInvocation && e.ExitCode != 0:
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, " [stderr: %s]", e.Stderr)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so callers can use the package sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
	}
	return false
}

func invalidf(op, format string, args ...any) error {
	return &Error{Kind: KindInvalid, Op: op, Err: fmt.Errorf(format, args...)}
}

func ioError(op, path string, err error) error {
	return &Error{Kind: KindIO, Op: op, Path: path, Err: err}
}

func probeError(path string, reason ProbeReason, err error) error {
	return &Error{Kind: KindProbe, Op: "probe", Path: path, Reason: reason, Err: err}
}

// IsProbeReason reports whether err is a probe failure with the given reason.
func IsProbeReason(err error, reason ProbeReason) bool {
	return errors.Is(err, &Error{Kind: KindProbe, Reason: reason})
}
