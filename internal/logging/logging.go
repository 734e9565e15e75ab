// Package logging builds the process logger: a console stream on stderr
// and, optionally, JSON lines in a rotating file.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	// JSON writes the stderr stream as JSON instead of the console format.
	JSON bool
	// Stderr overrides os.Stderr.
	Stderr io.Writer
}

// New returns a logger and a closer for the log file, if any. An unknown
// level falls back to info.
func New(opts Options) (zerolog.Logger, io.Closer) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	var console io.Writer = stderr
	if !opts.JSON {
		console = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}
	}

	writers := []io.Writer{console}
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		writers = append(writers, file)
		closer = file
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return log, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
