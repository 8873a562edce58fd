// Package logging provides the logger type shared across the downloader's
// components.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the field-structured logger every component accepts. Components
// derive their own child logger with WithField("component", ...) rather than
// logging through the root logger directly.
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}

// New returns a *logrus.Logger writing to w at the given level.
func New(w io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	return l
}

// Discard returns a Logger that drops every message, for callers that
// don't want to wire a real logger through (tests, library defaults).
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
