// Package errors provides small helpers for cleanup error handling.
package errors

import (
	"io"

	"github.com/rs/zerolog"
)

// DeferClose closes closer from a defer statement where the close error
// cannot be returned, logging it at warn level with msg.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// CloseInto closes closer from a defer statement and stores the close error
// in *errp unless an earlier error is already there. Use it with a named
// error return when a failed close means the written data may be lost.
func CloseInto(errp *error, closer io.Closer) {
	if err := closer.Close(); err != nil && *errp == nil {
		*errp = err
	}
}
