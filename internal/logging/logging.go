// Package logging wraps logrus with the field conventions this module
// uses for every component: component, and where relevant src/dst/session.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger writing text-formatted lines to stderr at
// the given level. An unrecognized level falls back to Info.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// For returns an entry tagged with the owning component, the unit every
// log line in this module carries per the error-handling design's
// "log with context" requirement.
func For(log *logrus.Logger, component string) *logrus.Entry {
	return log.WithField("component", component)
}
