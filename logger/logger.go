package logger

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger: a colored console writer on
// stderr plus a plain copy into the broadcaster so the dashboard log
// stream sees the same lines.
func Setup(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	stream := zerolog.ConsoleWriter{Out: GetBroadcaster(), TimeFormat: "15:04:05", NoColor: true}

	log.Logger = log.Output(zerolog.MultiLevelWriter(console, stream))
}

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
