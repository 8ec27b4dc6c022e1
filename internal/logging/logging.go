// Package logging wires up the process-wide structured logger.
//
// Grounded on gollum's own go.mod (sirupsen/logrus,
// x-cray/logrus-prefixed-formatter). Gollum's core/log package is a
// thin verbosity-enum wrapper predating logrus in its own tree; rather than
// recreate that bespoke enum, this repo standardizes on logrus directly.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// New builds a logrus.Entry with the prefixed formatter, tagged with a
// component prefix (e.g. "siphon", "rcache") shown on every line.
func New(component string) *logrus.Entry {
	log := logrus.New()
	log.Out = os.Stderr
	log.Formatter = &prefixed.TextFormatter{
		FullTimestamp:   true,
		ForceFormatting: true,
	}
	log.Level = levelFromEnv()
	return log.WithField("component", component)
}

func levelFromEnv() logrus.Level {
	switch os.Getenv("AFC_LOG_LEVEL") {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
