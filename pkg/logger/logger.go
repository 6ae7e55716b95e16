package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Debug        bool   `split_words:"true" default:"false"`
	PrettyFormat bool   `split_words:"true" default:"false"`
	Level        string `split_words:"true" default:""`
	// Caller adds file:line to every event. Off for the interactive CLI.
	Caller bool `split_words:"true" default:"true"`
}

var DefaultConfig = &Config{
	Debug:        false,
	PrettyFormat: false,
	Caller:       true,
}

func safe(opts ...Config) *Config {
	if len(opts) == 0 {
		return DefaultConfig
	}
	return &opts[0]
}

// Init replaces the global zerolog logger.
func Init(opts ...Config) {
	log.Logger = build(os.Stdout, safe(opts...))
}

func build(out io.Writer, conf *Config) zerolog.Logger {
	var logger zerolog.Logger
	if conf.PrettyFormat {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(out).With().Timestamp().Logger()
	}

	logger = logger.Level(levelOf(conf))

	if conf.Caller {
		logger = logger.With().Caller().Stack().Logger()
	}
	return logger
}

// levelOf prefers an explicit Level; Debug is the shorthand for "debug".
func levelOf(conf *Config) zerolog.Level {
	if name := strings.TrimSpace(conf.Level); name != "" {
		if lvl, err := zerolog.ParseLevel(strings.ToLower(name)); err == nil {
			return lvl
		}
	}
	if conf.Debug {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// Component returns a child of the global logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
