// Package logging configures the process logger and carries
// request-scoped entries through a context.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Redacted replaces the value of any sensitive field
const Redacted = "[REDACTED]"

// sensitive field names, matched case-insensitively as substrings
var sensitive = []string{"password", "token", "cookie", "authorization", "card", "cvv", "secret", "code"}

type ctxKey struct{}

// New builds a logger writing to stderr
func New(level, format string) (*logrus.Logger, error) {
	return NewWithOutput(os.Stderr, level, format)
}

// NewWithOutput builds a logger writing to w
func NewWithOutput(w io.Writer, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	log.AddHook(RedactHook{})
	return log, nil
}

// RedactHook masks fields whose names look sensitive
type RedactHook struct{}

// Levels applies the hook to every level
func (RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire rewrites sensitive fields in place
func (RedactHook) Fire(e *logrus.Entry) error {
	for k := range e.Data {
		if IsSensitive(k) {
			e.Data[k] = Redacted
		}
	}
	return nil
}

// IsSensitive reports whether a field name should never be logged
func IsSensitive(name string) bool {
	name = strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// WithContext stores an entry in ctx
func WithContext(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// FromContext returns the entry stored in ctx, or one on the standard
// logger when there is none
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
			return entry
		}
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Discard returns a logger that writes nothing, for tests
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// Base returns the process entry carrying the service and environment
func Base(log *logrus.Logger, env string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"service": "play4096",
		"env":     env,
	})
}
