// Package testutil holds helpers shared by package tests: a test logger and
// an in-memory builder of .NET assembly images.
package testutil

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// LogEnv enables test log output when set to a non-empty value.
const LogEnv = "ATTRSTRIP_TEST_LOG"

// NewTestLogger creates a test logger that discards output, or writes it
// through t.Log when LogEnv is set.
func NewTestLogger(t testing.TB) zerolog.Logger {
	t.Helper()
	var out io.Writer = io.Discard
	if os.Getenv(LogEnv) != "" {
		out = zerolog.ConsoleWriter{Out: &testLogWriter{t: t}, NoColor: true, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(out).Level(zerolog.TraceLevel).With().Timestamp().Logger()
}

// testLogWriter wraps testing.TB to implement io.Writer.
type testLogWriter struct {
	t testing.TB
}

func (w *testLogWriter) Write(p []byte) (n int, err error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
