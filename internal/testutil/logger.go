// Package testutil provides shared test helpers for fleetpulse packages.
package testutil

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// Logger returns a logger that writes through t.Log, so output only shows
// for failing or verbose tests.
func Logger(t testing.TB) *zap.Logger {
	return zaptest.NewLogger(t)
}

// ObservedLogger returns a logger that records entries at level and above
// for assertions.
func ObservedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}
