// Package logging provides a zapcore.Core that forwards log entries for
// publishing.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"time"
)

// omitPublishKey is the field key that marks loggers whose entries must not be
// published.
const omitPublishKey = "omit_publish"

// LogEntry is a log entry to publish.
type LogEntry struct {
	Time       time.Time
	Message    string
	Level      zapcore.Level
	LoggerName string
	Fields     map[string]interface{}
}

// OmitPublish returns a logger whose entries are not forwarded by the core
// from NewPublishCore. Use it for everything involved in publishing log entries
// in order to avoid loops.
func OmitPublish(logger *zap.Logger) *zap.Logger {
	return logger.With(zap.Bool(omitPublishKey, true))
}

// publishCore forwards entries to a channel without blocking.
type publishCore struct {
	zapcore.LevelEnabler
	fields []zapcore.Field
	omit   bool
	out    chan<- LogEntry
}

// NewPublishCore creates a zapcore.Core that forwards all entries with at least
// the given level to the returned channel. If the channel is full, entries are
// dropped.
func NewPublishCore(level zapcore.LevelEnabler, bufferSize int) (zapcore.Core, <-chan LogEntry) {
	out := make(chan LogEntry, bufferSize)
	return &publishCore{
		LevelEnabler: level,
		out:          out,
	}, out
}

func (c *publishCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	for _, field := range fields {
		if field.Key == omitPublishKey {
			clone.omit = true
		}
	}
	return &clone
}

func (c *publishCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.omit || !c.Enabled(entry.Level) {
		return checked
	}
	return checked.AddCore(entry, c)
}

func (c *publishCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range c.fields {
		field.AddTo(enc)
	}
	for _, field := range fields {
		field.AddTo(enc)
	}
	select {
	case c.out <- LogEntry{
		Time:       entry.Time,
		Message:    entry.Message,
		Level:      entry.Level,
		LoggerName: entry.LoggerName,
		Fields:     enc.Fields,
	}:
	default:
	}
	return nil
}

func (c *publishCore) Sync() error {
	return nil
}
