package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records log entries for assertions.
type TestLogger struct {
	*zap.Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a logger whose output can be inspected.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(zapcore.DebugLevel)
	return &TestLogger{
		Logger:   zap.New(core),
		observed: observed,
	}
}

// All returns every logged entry.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// AssertLogged fails the test unless an entry at level containing the
// message substring was logged.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			return
		}
	}
	tb.Errorf("expected log at %v containing %q, logs: %+v", level, msgContains, t.observed.All())
}
