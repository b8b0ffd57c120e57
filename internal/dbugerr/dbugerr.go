// Package dbugerr implements the structured error taxonomy used across
// the runtime and controller: InvalidProject, BuildFailure,
// LaunchFailure, IpcFailure, ProtocolViolation, EvaluationError,
// SessionNotActive, and SessionAlreadyActive. Errors carry enough context
// (file, line, suggestion) to render the same boxed, colorized terminal
// output a compiler's own diagnostics would use.
package dbugerr

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Kind discriminates the error taxonomy.
type Kind string

const (
	InvalidProject       Kind = "InvalidProject"
	BuildFailure         Kind = "BuildFailure"
	LaunchFailure        Kind = "LaunchFailure"
	IpcFailure           Kind = "IpcFailure"
	ProtocolViolation    Kind = "ProtocolViolation"
	EvaluationError      Kind = "EvaluationError"
	SessionNotActive     Kind = "SessionNotActive"
	SessionAlreadyActive Kind = "SessionAlreadyActive"
)

// Error is a dbug-specific error, always reportable to a human with
// enough context to act on.
type Error struct {
	Kind       Kind
	Message    string
	File       string
	Line       int
	ExitCode   int // meaningful only for BuildFailure
	Suggestion string
	cause      error
}

// New constructs an Error of kind with message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of kind wrapping cause, keeping cause visible to
// errors.Is/errors.As via Unwrap.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithLocation attaches a source location to the error, returning it for
// chaining.
func (e *Error) WithLocation(file string, line int) *Error {
	e.File = file
	e.Line = line
	return e
}

// WithSuggestion attaches an actionable suggestion, returning it for
// chaining.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// WithExitCode attaches a BuildFailure's subprocess exit code.
func (e *Error) WithExitCode(code int) *Error {
	e.ExitCode = code
	return e
}

// Error implements the error interface as a plain, uncolored one-liner;
// use Format for the boxed terminal rendering.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.File != "" {
		fmt.Fprintf(&b, " (%s:%d)", e.File, e.Line)
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

var (
	bold   = color.New(color.Bold)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	gray   = color.New(color.FgHiBlack)
)

// Format renders the error the way the controller's REPL and CLI print
// it: a bold red kind header, an optional file:line, the message, and a
// dimmed suggestion line. Pass useColor=false for log files and
// non-terminal output.
func (e *Error) Format(useColor bool) string {
	var b strings.Builder

	header := string(e.Kind)
	if useColor {
		header = bold.Sprint(red.Sprint(header))
	}
	b.WriteString(header)
	if e.File != "" {
		loc := fmt.Sprintf(" at %s:%d", e.File, e.Line)
		if useColor {
			loc = gray.Sprint(loc)
		}
		b.WriteString(loc)
	}
	b.WriteString("\n  ")
	b.WriteString(e.Message)
	if e.Kind == BuildFailure && e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.cause != nil {
		fmt.Fprintf(&b, "\n  caused by: %v", e.cause)
	}
	if e.Suggestion != "" {
		suggestion := fmt.Sprintf("\n  suggestion: %s", e.Suggestion)
		if useColor {
			suggestion = yellow.Sprint(suggestion)
		}
		b.WriteString(suggestion)
	}
	return b.String()
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	de, ok := err.(*Error)
	return ok && de.Kind == kind
}

// AbortsStart reports whether an error of this kind must abort a session
// start rather than merely surfacing as a diagnostic.
func (k Kind) AbortsStart() bool {
	return k == BuildFailure || k == InvalidProject
}

// EndsSessionCleanly reports whether an error of this kind mid-session
// should end the session (detach) rather than be retried.
func (k Kind) EndsSessionCleanly() bool {
	return k == IpcFailure
}
