// Package logrus adapts a *logrus.Entry to ticketcache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/ticketcache"
)

var _ ticketcache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

func (l LogrusLogger) Debug(msg string, f ticketcache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f ticketcache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f ticketcache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f ticketcache.Fields) { l.with(f).Error(msg) }

// with maps an "err" field onto logrus' error key.
func (l LogrusLogger) with(f ticketcache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			lf[logrus.ErrorKey] = err
			continue
		}
		lf[k] = v
	}
	return l.E.WithFields(lf)
}

// New returns an entry writing text logs at level ("debug", "info", ...;
// unknown values mean info).
func New(level string) *logrus.Entry {
	lg := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	lg.SetLevel(lvl)
	lg.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(lg)
}
