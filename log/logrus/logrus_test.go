package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/ticketcache"
)

func TestLogrusLogger(t *testing.T) {
	lg, hook := test.NewNullLogger()
	lg.SetLevel(logrus.DebugLevel)
	l := LogrusLogger{E: logrus.NewEntry(lg)}

	boom := errors.New("boom")
	l.Warn("fetch failed", ticketcache.Fields{"key": "q:s:detail:1", "err": boom})
	e := hook.LastEntry()
	if e == nil || e.Level != logrus.WarnLevel || e.Message != "fetch failed" {
		t.Fatalf("entry: %+v", e)
	}
	if e.Data[logrus.ErrorKey] != boom || e.Data["key"] != "q:s:detail:1" {
		t.Fatalf("data: %v", e.Data)
	}

	l.Debug("d", nil)
	l.Info("i", nil)
	l.Error("e", nil)
	if n := len(hook.AllEntries()); n != 4 {
		t.Fatalf("entries: %d", n)
	}
}

func TestNewParsesLevel(t *testing.T) {
	if New("debug").Logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("debug level not applied")
	}
	if New("loud").Logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("unknown level must fall back to info")
	}
}
