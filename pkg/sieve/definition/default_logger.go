package definition

import (
	"os"

	"github.com/sirupsen/logrus"
)

// DefaultLogger is the logger used if the caller does not provide its
// own implementation. It wraps a logrus.Entry pre-tagged with the
// replica or client identity so every line is attributable.
type DefaultLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger builds a DefaultLogger tagged with the given
// fields (typically {"pid": ..., "role": ...}). Log level is read
// from DEBUG_LOG at construction time.
func NewDefaultLogger(fields logrus.Fields) *DefaultLogger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("DEBUG_LOG") != "" {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
	return &DefaultLogger{entry: base.WithFields(fields)}
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	l.entry.Infof(format, v...)
}

func (l *DefaultLogger) Warnf(format string, v ...interface{}) {
	l.entry.Warnf(format, v...)
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.entry.Errorf(format, v...)
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	l.entry.Debugf(format, v...)
}

func (l *DefaultLogger) Fatalf(format string, v ...interface{}) {
	l.entry.Fatalf(format, v...)
}
