package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFilteringSuppressesLowerPriorityMessages(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelWarn)

	l.Debugf("should not appear")
	l.Infof("should not appear either")
	require.Empty(t, buf.String())

	l.Warnf("visible warning")
	require.Contains(t, buf.String(), "WARN visible warning")
}

func TestFatalfAlwaysLogsRegardlessOfLevelAndInvokesHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelError)

	var called string
	l.SetFatalHandler(func(msg string) { called = msg })

	l.Fatalf("disk is gone: %s", "oops")
	require.Contains(t, buf.String(), "FATAL disk is gone: oops")
	require.Equal(t, "disk is gone: oops", called)
}

func TestLevelStringRepresentations(t *testing.T) {
	require.Equal(t, "ERROR", LevelError.String())
	require.Equal(t, "WARN", LevelWarn.String())
	require.Equal(t, "INFO", LevelInfo.String())
	require.Equal(t, "DEBUG", LevelDebug.String())
	require.Equal(t, "UNKNOWN", Level(99).String())
}

func TestIsNilDetectsTypedNilPointer(t *testing.T) {
	require.True(t, IsNil(nil))

	var typedNil *DefaultLogger
	var l Logger = typedNil
	require.True(t, IsNil(l), "a typed-nil pointer boxed in the interface must still be detected")

	require.False(t, IsNil(Discard))
}

func TestOrDefaultFallsBackOnNilOrTypedNil(t *testing.T) {
	got := OrDefault(nil)
	require.NotNil(t, got)
	_, isDefault := got.(*DefaultLogger)
	require.True(t, isDefault)

	require.Same(t, Discard, OrDefault(Discard))
}

func TestDiscardLoggerMethodsAreNoOps(t *testing.T) {
	require.NotPanics(t, func() {
		Discard.Errorf("x")
		Discard.Warnf("x")
		Discard.Infof("x")
		Discard.Debugf("x")
		Discard.Fatalf("x")
	})
}
