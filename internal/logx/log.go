package logx

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide logger. The bridge runs next to a UI on a
// developer machine, so output goes to stderr in console form rather
// than raw JSON.
var Log = log.Logger

// Configure applies the log level and rebuilds the console writer.
// Level strings are matched case-insensitively and accept the usual
// synonyms (warning, off, trace).
func Configure(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
	Log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// With returns a child logger tagged with the component name.
// Used by the bridge layers so connection logs can be told apart
// from call logs in mixed output.
func With(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}

// parseLevel maps a level name to zerolog's scale; unknown values fall
// back to info rather than erroring, since the value often comes from an
// environment variable.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "all", "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "none", "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	Configure(os.Getenv("LOG_LEVEL"))
}
