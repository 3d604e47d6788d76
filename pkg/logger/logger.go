// Package logger builds the zerolog logger shared by every binary.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level  string
	Pretty bool
	// File, when set, receives a rotated copy of every log line.
	File string
	// Output replaces stdout as the console sink.
	Output io.Writer
}

var stdout io.Writer = os.Stdout

// New returns a logger and installs it as the zerolog global so packages
// logging through github.com/rs/zerolog/log share its level and sinks.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := stdout
	if cfg.Output != nil {
		out = cfg.Output
	}
	var console io.Writer = out
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100,
			MaxAge:     14,
			MaxBackups: 5,
			Compress:   true,
		})
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	zerolog.SetGlobalLevel(level)
	log.Logger = l
	return l
}
