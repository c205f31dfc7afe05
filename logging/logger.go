package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var RootLogger zerolog.Logger = zerolog.New(
	zerolog.NewConsoleWriter(
		func(w *zerolog.ConsoleWriter) { w.Out = os.Stderr },
		func(w *zerolog.ConsoleWriter) { w.TimeFormat = "15:04:05.000" })).Level(zerolog.InfoLevel).
	With().Timestamp().Logger()

// SetLevel changes the level of RootLogger. Loggers derived before the call
// keep their own level, so it is meant to run once at startup.
func SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return err
	}
	RootLogger = RootLogger.Level(lvl)
	return nil
}
