// Package logging builds the CLI's structured logger. Lines go to a JSON
// log file so they never mix with command output on the terminal.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/querycache"
	qlogrus "github.com/unkn0wn-root/querycache/log/logrus"
	qslog "github.com/unkn0wn-root/querycache/log/slog"
	qzap "github.com/unkn0wn-root/querycache/log/zap"
)

// Backend names accepted in logging.backend.
const (
	BackendSlog   = "slog"
	BackendZap    = "zap"
	BackendLogrus = "logrus"
)

type Config struct {
	Backend string
	File    string // empty discards everything
	Level   string // DEBUG, INFO, WARN, ERROR
}

// Logging is the configured logger. Slog always writes to the same sink as
// Logger; the cache's log hooks need a *slog.Logger whatever the backend.
type Logging struct {
	Logger querycache.Logger
	Slog   *slog.Logger

	closers []func() error
}

func (l *Logging) Close() error {
	var errs []error
	for _, c := range l.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func Setup(cfg Config) (*Logging, error) {
	out, closeOut, err := open(cfg.File)
	if err != nil {
		return nil, err
	}
	level := parseLogLevel(cfg.Level)
	l := &Logging{
		Slog:    slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})),
		closers: []func() error{closeOut},
	}

	switch strings.ToLower(cfg.Backend) {
	case "", BackendSlog:
		l.Logger = qslog.Logger{L: l.Slog}
	case BackendZap:
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(out),
			zapLevel(level),
		)
		zl := zap.New(core)
		l.Logger = qzap.Logger{L: zl}
		l.closers = append([]func() error{ignoreSyncErr(zl.Sync)}, l.closers...)
	case BackendLogrus:
		lr := logrus.New()
		lr.SetOutput(out)
		lr.SetFormatter(&logrus.JSONFormatter{})
		lr.SetLevel(logrusLevel(level))
		l.Logger = qlogrus.New(lr, "bookshelf")
	default:
		_ = closeOut()
		return nil, fmt.Errorf("unknown log backend %q", cfg.Backend)
	}
	return l, nil
}

func open(path string) (io.Writer, func() error, error) {
	if path == "" {
		return io.Discard, func() error { return nil }, nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, f.Close, nil
}

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l <= slog.LevelDebug:
		return zapcore.DebugLevel
	case l <= slog.LevelInfo:
		return zapcore.InfoLevel
	case l <= slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func logrusLevel(l slog.Level) logrus.Level {
	switch {
	case l <= slog.LevelDebug:
		return logrus.DebugLevel
	case l <= slog.LevelInfo:
		return logrus.InfoLevel
	case l <= slog.LevelWarn:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}

// zap's Sync fails on some file types (ttys, pipes); that is not worth
// reporting at exit.
func ignoreSyncErr(sync func() error) func() error {
	return func() error {
		_ = sync()
		return nil
	}
}
