package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/noteflow/mp-server/internal/logging"
)

// hourlyFile is an io.Writer that rotates to a new file named
// prefix.YYYY-MM-DD-HH whenever the wall-clock hour changes, mirroring
// tracing_appender::rolling::hourly's naming scheme.
type hourlyFile struct {
	mu     sync.Mutex
	dir    string
	prefix string
	hour   string
	f      *os.File
}

func newHourlyFile(dir, prefix string) (*hourlyFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	h := &hourlyFile{dir: dir, prefix: prefix}
	if err := h.rotate(time.Now()); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *hourlyFile) rotate(now time.Time) error {
	hour := now.Format("2006-01-02-15")
	if hour == h.hour && h.f != nil {
		return nil
	}
	name := filepath.Join(h.dir, fmt.Sprintf("%s.%s", h.prefix, hour))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", name, err)
	}
	old := h.f
	h.f = f
	h.hour = hour
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (h *hourlyFile) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.rotate(time.Now()); err != nil {
		return 0, err
	}
	return h.f.Write(p)
}

// setupLogger builds the process-wide logger: a single handler, at
// cfg.logLevel and in cfg.logFormat, writes every record to both an
// hourly-rotated file under cfg.logDir and stdout. The two sinks receive
// identical output; stdout is not filtered separately from the file.
func setupLogger(cfg *appConfig) (*slog.Logger, error) {
	hf, err := newHourlyFile(cfg.logDir, "mp-server")
	if err != nil {
		return nil, err
	}

	var lvl slog.Level
	switch cfg.logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	w := io.MultiWriter(hf, os.Stdout)
	l := logging.New(cfg.logFormat, lvl, w).With("app", "mp-server")
	logging.Set(l)
	return l, nil
}
