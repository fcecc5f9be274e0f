package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the application logger.
type Options struct {
	Level      string
	Format     string // json or text
	File       string // empty logs to stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	appLogger *logrus.Logger
	mu        sync.RWMutex
)

// Init builds the application logger. Calling it again replaces the logger.
func Init(opts Options) (*logrus.Logger, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if opts.Format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	var out io.Writer = os.Stdout
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}
	l.SetOutput(out)

	mu.Lock()
	appLogger = l
	mu.Unlock()
	return l, nil
}

// Get returns the application logger, falling back to the logrus standard
// logger before Init has run.
func Get() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if appLogger == nil {
		return logrus.StandardLogger()
	}
	return appLogger
}

// WithModule returns an entry tagged with the component name.
func WithModule(name string) *logrus.Entry {
	return Get().WithField("module", name)
}
