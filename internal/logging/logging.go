// Package logging builds the structured logger that `forge serve` hands to
// the packages that report events asynchronously (goroutines can't return
// errors to a caller the way the CLI commands do).
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Config controls logger construction.
type Config struct {
	// Verbose enables debug-level logging.
	Verbose bool

	// JSON switches the formatter to structured JSON lines, matching the
	// CLI's own --json output-mode convention.
	JSON bool

	// Output overrides the log destination. Defaults to os.Stderr.
	Output io.Writer
}

// New builds a *logrus.Logger configured per cfg. `forge serve` calls it
// once at startup; the one-shot CLI commands do not use it.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	if cfg.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	return logger
}

// WithWorkspace returns a field-scoped entry for log lines about a specific
// workspace, the component identifier most of forge's log lines key on.
func WithWorkspace(logger *logrus.Logger, workspace string) *logrus.Entry {
	return logger.WithField("workspace", workspace)
}

// WithSession returns a field-scoped entry for log lines about a specific
// PTY session.
func WithSession(logger *logrus.Logger, sessionID string) *logrus.Entry {
	return logger.WithField("session", sessionID)
}
