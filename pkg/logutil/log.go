// Package logutil adapts logrus to the call-site shape the teacher's own
// internal logging package uses (context first, printf-style after),
// since that internal package isn't importable from outside its module.
package logutil

import (
	"context"

	"github.com/cockroachdb/logtags"
	"github.com/sirupsen/logrus"
)

// Logger wraps a *logrus.Entry with a tag-aware With* family, mirroring the
// teacher's SPDLOG_TRACE/INFO/WARN call sites translated to Go.
type Logger struct {
	entry *logrus.Entry
}

// New returns a Logger writing through the standard logrus logger.
func New() Logger {
	return Logger{entry: logrus.NewEntry(logrus.StandardLogger())}
}

// WithTenant tags subsequent log lines with a tenant index, the way
// allocator trace lines are scoped to "Tenant-%d" in the source.
func (l Logger) WithTenant(idx int) Logger {
	return Logger{entry: l.entry.WithField("tenant", idx)}
}

// WithKey tags subsequent log lines with a cache key.
func (l Logger) WithKey(key string) Logger {
	return Logger{entry: l.entry.WithField("key", key)}
}

// WithTags folds a logtags.Buffer (context-scoped key/value pairs) into the
// logger's fields, the way request-scoped metadata rides along a
// context.Context in the teacher.
func WithTags(ctx context.Context, l Logger) Logger {
	buf := logtags.FromContext(ctx)
	if buf == nil {
		return l
	}
	fields := logrus.Fields{}
	for _, tag := range buf.Get() {
		fields[tag.Key()] = tag.ValueStr()
	}
	return Logger{entry: l.entry.WithFields(fields)}
}

func (l Logger) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }
func (l Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
