package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	AddSource   bool
	Audit       AuditConfig
}

// AuditConfig controls where dispatch outcomes are mirrored. When disabled
// the audit logger shares the application logger's outputs.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// secretKeys are attribute keys whose values never reach an output.
var secretKeys = map[string]struct{}{
	"owner_key":   {},
	"private_key": {},
	"api_key":     {},
	"apikey":      {},
	"signer":      {},
}

const redacted = "[REDACTED]"

type registry struct {
	mu      sync.RWMutex
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var global registry

// Init installs the process-wide loggers. The first successful call wins;
// later calls are no-ops so subcommands can share one bootstrap path.
func Init(cfg Config) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.app != nil {
		return nil
	}

	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: redact,
	}
	out, closers, err := openOutputs(cfg.OutputPaths)
	if err != nil {
		return err
	}
	app := slog.New(newHandler(cfg.Format, out, opts))

	audit := app
	if cfg.Audit.Enabled {
		file, err := newAuditFile(cfg.Audit)
		if err != nil {
			closeAll(closers)
			return err
		}
		closers = append(closers, file)
		audit = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelInfo, ReplaceAttr: redact}))
	}

	global.app, global.audit, global.closers = app, audit, closers
	return nil
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func openOutputs(paths []string) (io.Writer, []io.Closer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil, nil
	}
	var (
		writers []io.Writer
		closers []io.Closer
	)
	for _, path := range paths {
		switch strings.ToLower(strings.TrimSpace(path)) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			writers = append(writers, file)
			closers = append(closers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], closers, nil
	}
	return io.MultiWriter(writers...), closers, nil
}

// redact masks attributes that carry credentials.
func redact(_ []string, attr slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(attr.Key)]; ok {
		return slog.String(attr.Key, redacted)
	}
	return attr
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the application logger, initialising a stdout JSON logger on
// first use.
func L() *slog.Logger {
	global.mu.RLock()
	app := global.app
	global.mu.RUnlock()
	if app != nil {
		return app
	}
	_ = Init(Config{})
	global.mu.RLock()
	defer global.mu.RUnlock()
	return global.app
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	global.mu.RLock()
	audit := global.audit
	global.mu.RUnlock()
	if audit != nil {
		return audit
	}
	return L()
}

// Named returns a child logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync closes file outputs. Loggers stay usable but stop writing to closed files.
func Sync() error {
	global.mu.Lock()
	closers := global.closers
	global.closers = nil
	global.mu.Unlock()
	return closeAll(closers)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func closeAll(closers []io.Closer) error {
	var err error
	for _, c := range closers {
		err = errors.Join(err, c.Close())
	}
	return err
}
