// Package logging builds the loggers the engine components share.
//
// Components take an injected *log.Logger and default to stderr when
// given nil. When the host configures a log file, New returns loggers
// backed by a size-rotated file instead, so a long-lived desktop
// session does not grow an unbounded log.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls log destination and rotation.
type Options struct {
	// File is the log file path. Empty means stderr.
	File string

	// MaxSizeMB is the size at which the file rotates. Default 10.
	MaxSizeMB int

	// MaxBackups is how many rotated files to keep. Default 3.
	MaxBackups int

	// MaxAgeDays removes rotated files older than this. Default 28.
	MaxAgeDays int
}

func (o Options) withDefaults() Options {
	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = 10
	}
	if o.MaxBackups <= 0 {
		o.MaxBackups = 3
	}
	if o.MaxAgeDays <= 0 {
		o.MaxAgeDays = 28
	}
	return o
}

// Writer returns the destination for the given options: a rotating file
// when File is set, stderr otherwise.
func Writer(opts Options) io.Writer {
	if opts.File == "" {
		return os.Stderr
	}
	opts = opts.withDefaults()
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
}

// New returns a logger with the given prefix writing to the destination
// Writer picks for opts. Prefixes follow the "[component] " convention.
func New(prefix string, opts Options) *log.Logger {
	return log.New(Writer(opts), prefix, log.LstdFlags)
}
