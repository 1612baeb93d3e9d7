package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/ticketcache"
)

func TestZapLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := ZapLogger{L: zap.New(core)}

	l.Debug("d", nil)
	l.Info("i", ticketcache.Fields{"ns": "detail"})
	l.Warn("w", ticketcache.Fields{"err": errors.New("boom"), "key": "k"})
	l.Error("e", ticketcache.Fields{})

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("entries: %d", len(entries))
	}
	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Fatalf("entry %d level %s", i, e.Level)
		}
	}
	ctx := entries[2].ContextMap()
	if ctx["err"] != "boom" || ctx["key"] != "k" {
		t.Fatalf("warn fields: %v", ctx)
	}
	if entries[2].Context[0].Key != "err" {
		t.Fatalf("fields not in key order: %v", entries[2].Context)
	}
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("DEBUG", "console")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug not enabled")
	}
	l, err = NewLogger("nonsense", "")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l.Core().Enabled(zapcore.DebugLevel) || !l.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("unknown level must fall back to info")
	}
}
