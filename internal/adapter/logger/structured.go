// Package logger configures the process-wide structured logger.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Setup switches logrus to JSON output at the given level, teeing to a
// logfile when one is configured.
func Setup(level logrus.Level, filePath string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(level)

	if filePath == "" {
		logrus.SetOutput(os.Stderr)
		return
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logrus.SetOutput(os.Stderr)
		logrus.WithError(err).Error("Could not create file for logging")
		return
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, file))
}

// Component returns a log entry tagged with the originating component.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
