// Package logx constructs the logrus logger used throughout the node.
package logx

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger configured for interactive use: text formatting,
// full timestamps, and level controlled by the debug flag.
func New(debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// Component returns a logger with a component field set, the convention
// used by every constructor in this module to scope its log lines.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
