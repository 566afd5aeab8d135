package log

import "github.com/sirupsen/logrus"

// BadgerAdapter routes badger's internal logging into a logrus entry.
// Badger is chatty at info level, so its info lines are demoted to debug.
type BadgerAdapter struct {
	entry *logrus.Entry
}

// NewBadgerAdapter creates a new adapter tagged with component=badger
func NewBadgerAdapter(entry *logrus.Entry) *BadgerAdapter {
	return &BadgerAdapter{entry: entry.WithField("component", "badger")}
}

// Errorf logs an error message
func (l *BadgerAdapter) Errorf(f string, v ...interface{}) { l.entry.Errorf(f, v...) }

// Warningf logs a warning message
func (l *BadgerAdapter) Warningf(f string, v ...interface{}) { l.entry.Warningf(f, v...) }

// Infof logs badger info output at debug level
func (l *BadgerAdapter) Infof(f string, v ...interface{}) { l.entry.Debugf(f, v...) }

// Debugf logs a debug message
func (l *BadgerAdapter) Debugf(f string, v ...interface{}) { l.entry.Debugf(f, v...) }
