// Package logging builds the JSON logger shared by the server, the engine
// side effects and the HTTP middleware.
package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing one JSON object per line to w, stamped with
// an RFC3339 "ts" field. An unknown level falls back to info.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).
		Level(lvl).
		Hook(tsHook{}).
		With().
		Logger()
}

type tsHook struct{}

func (tsHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Str("ts", time.Now().UTC().Format(time.RFC3339Nano))
}
