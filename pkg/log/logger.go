package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New builds the application logger: text output with millisecond timestamps.
// An unknown level name falls back to info and is reported as a warning.
func New(levelName string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.SetLevel(logrus.InfoLevel)

	if levelName == "" {
		return logger
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		logger.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelName, err)
		return logger
	}
	logger.SetLevel(level)
	logger.Debugf("Log level set to: %s", level.String())
	return logger
}

// Component returns an entry tagged with the component name.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// Discard returns an entry that drops everything. Used by tests and tools.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
