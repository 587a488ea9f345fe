// Package logging builds the standard loggers used by the server and the
// device agent, optionally teeing them into a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Writer returns stderr, or stderr plus a rotating file when opts.File is
// set. The returned closer releases the file.
func Writer(stderr io.Writer, opts Options) (io.Writer, io.Closer) {
	if stderr == nil {
		stderr = os.Stderr
	}
	if opts.File == "" {
		return stderr, nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Clean(opts.File),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	return io.MultiWriter(stderr, rotator), rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger with the given bracketed prefix, e.g. "[sync] ".
func New(prefix string, w io.Writer) *log.Logger {
	return log.New(w, prefix, log.LstdFlags)
}

// Redirect points the standard logger at w.
func Redirect(w io.Writer) {
	log.SetOutput(w)
}
