// Package logging sets up the operational logger: slog text output to stderr
// plus a per-day file under the logs directory.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Setup returns a logger writing to stderr and to agent_YYYYMMDD.log under
// logDir, plus a close function for the file handle. An empty logDir logs to
// stderr only.
func Setup(logDir string, level slog.Level) (*slog.Logger, func() error, error) {
	writers := []io.Writer{os.Stderr}
	closeFn := func() error { return nil }

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		name := fmt.Sprintf("agent_%s.log", time.Now().Format("20060102"))
		f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closeFn = f.Close
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: level})
	return slog.New(handler), closeFn, nil
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
