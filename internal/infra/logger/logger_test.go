package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", "api"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewAcceptsMixedCaseLevel(t *testing.T) {
	log, err := New("WARN", "worker")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug must be disabled at warn level")
	}
}
