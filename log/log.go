package log

import (
	"github.com/sirupsen/logrus"
)

// New returns a new logger instance. Verbose enables debug output.
func New(verbose bool) *logrus.Logger {
	l := logrus.New()
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}
