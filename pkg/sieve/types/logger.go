package types

// Logger is the small logging surface the protocol core depends on.
// It is satisfied by definition.DefaultLogger (backed by logrus) and
// by anything a caller wants to plug in instead; the core never
// imports a concrete logging library directly.
type Logger interface {
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
	Debugf(format string, v ...interface{})
	Fatalf(format string, v ...interface{})
}
