// Package obs wires up the structured logger threaded through the façade
// and both storage managers. Grounded on the teacher's scattered
// log.Printf calls (lsm.go, btree/pager.go in the reference corpus),
// replaced with github.com/rs/zerolog per SPEC_FULL.md §6.1: one
// constructor-injected logger per component, matching the teacher's
// practice of passing Config by value into every component's constructor.
package obs

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a console-formatted logger writing to w at the given level.
// Passing a nil w defaults to os.Stderr.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Nop returns a logger that discards everything, for tests and other
// contexts where log output would just be noise.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
