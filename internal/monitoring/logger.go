package monitoring

import (
	"os"

	"github.com/rs/zerolog"
)

var stderrLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Logf is the package-level diagnostic logger. It defaults to a zerolog
// writer on stderr but may be replaced by SetLogger. Tests or production
// code can redirect or mute it.
var Logf func(format string, v ...interface{}) = stderrLogger.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
