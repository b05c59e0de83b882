package logs

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options controls logger construction
type Options struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	File   string // optional log file, appended to alongside stdout
}

// New builds a logrus logger from the given options. The returned func closes
// the log file, if one was opened, and must be called once logging is done.
func New(opts Options) (*logrus.Logger, func() error, error) {
	l := logrus.New()

	switch opts.Level {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	if opts.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.File == "" {
		l.SetOutput(os.Stdout)
		return l, func() error { return nil }, nil
	}

	file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
	}
	l.SetOutput(io.MultiWriter(file, os.Stdout))

	closeFile := func() error {
		l.SetOutput(os.Stdout)
		return file.Close()
	}
	return l, closeFile, nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
