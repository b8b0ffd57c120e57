package dbugerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(IpcFailure, cause, "lost the runtime connection")
	assert.ErrorIs(t, err, cause)
}

func TestFormatIncludesLocationAndSuggestion(t *testing.T) {
	err := New(BuildFailure, "compilation failed").
		WithLocation("main.glyph", 12).
		WithExitCode(1).
		WithSuggestion("check for unbalanced braces")

	out := err.Format(false)
	assert.Contains(t, out, "main.glyph:12")
	assert.Contains(t, out, "exit code 1")
	assert.Contains(t, out, "unbalanced braces")
}

func TestAbortsStartClassification(t *testing.T) {
	assert.True(t, BuildFailure.AbortsStart())
	assert.True(t, InvalidProject.AbortsStart())
	assert.False(t, IpcFailure.AbortsStart())
}

func TestEndsSessionCleanlyClassification(t *testing.T) {
	assert.True(t, IpcFailure.EndsSessionCleanly())
	assert.False(t, ProtocolViolation.EndsSessionCleanly())
}

func TestIsKind(t *testing.T) {
	err := New(SessionNotActive, "no session")
	assert.True(t, IsKind(err, SessionNotActive))
	assert.False(t, IsKind(err, SessionAlreadyActive))
	assert.False(t, IsKind(errors.New("plain"), SessionNotActive))
}
