// Package logging builds the zerolog loggers used by attrstrip.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Config contains logger configuration.
type Config struct {
	// Level sets the logging level (trace, debug, info, warn, error).
	Level string
	// Pretty enables human-readable console output instead of JSON lines.
	Pretty bool
	// NoColor disables ANSI colors in pretty output.
	NoColor bool
	// Output sets the console writer (defaults to os.Stderr).
	Output io.Writer
	// File, when set, receives a copy of every line, appended, without colors.
	File string
}

// DefaultConfig returns the console configuration: pretty output, colored
// only when stderr is a terminal.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Pretty:  true,
		NoColor: !IsTerminal(os.Stderr),
		Output:  os.Stderr,
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func console(out io.Writer, pretty, noColor bool) io.Writer {
	if !pretty {
		return out
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		NoColor:    noColor,
	}
}

// New creates a console logger. Config.File is ignored; use Open for that.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	return zerolog.New(zerolog.SyncWriter(console(output, cfg.Pretty, cfg.NoColor))).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// Open creates a logger writing to the console and, when cfg.File is set, to
// that file as well. Workers share the returned logger, so every line is
// written whole under a single lock. The closer releases the file.
func Open(cfg Config) (zerolog.Logger, io.Closer, error) {
	if cfg.File == "" {
		return New(cfg), nopCloser{}, nil
	}

	// #nosec G304 - the log path is supplied by the user.
	f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	multi := zerolog.MultiLevelWriter(
		console(output, cfg.Pretty, cfg.NoColor),
		console(f, cfg.Pretty, true),
	)
	logger := zerolog.New(zerolog.SyncWriter(multi)).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
	return logger, f, nil
}

// WithComponent derives a logger with a component field for structured logging.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
