package stomp

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var (
	// NilLogger discards everything.
	NilLogger = Logger(newLogger(io.Discard, logrus.PanicLevel))

	// StdoutLogger logs to standard output.
	StdoutLogger = Logger(newLogger(os.Stdout, logrus.InfoLevel))
)

// Logger is the interface required for logging.  *logrus.Logger and *logrus.Entry
// satisfy it.
type Logger interface {
	Debugf(fmt string, args ...interface{})
	Infof(fmt string, args ...interface{})
	Warnf(fmt string, args ...interface{})
	Errorf(fmt string, args ...interface{})
}

func newLogger(w io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	return l
}

// WithField returns a logger annotated with key=value when l supports structured
// fields, otherwise l itself.
func WithField(l Logger, key string, value interface{}) Logger {
	if l == nil {
		return NilLogger
	}
	if fl, ok := l.(logrus.FieldLogger); ok {
		return fl.WithField(key, value)
	}
	return l
}
