package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Severity of a notification
type Severity string

// Notification severities
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is one user-visible message about a terminal outcome
type Notification struct {
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	At       time.Time `json:"at"`
}

// Sink receives terminal outcomes for display. Notify is called exactly
// once per terminal action session or job record.
type Sink interface {
	Notify(message string, severity Severity)
}

// LogSink writes notifications to the structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a Sink backed by slog
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify logs the notification at a level matching its severity
func (s *LogSink) Notify(message string, severity Severity) {
	switch severity {
	case SeverityError:
		s.logger.Error("notification", slog.String("message", message))
	case SeverityWarning:
		s.logger.Warn("notification", slog.String("message", message))
	default:
		s.logger.Info("notification", slog.String("message", message))
	}
}

// Feed is a bounded ring of recent notifications served by the HTTP API
type Feed struct {
	mu      sync.RWMutex
	entries []Notification
	limit   int
}

// NewFeed creates a feed keeping at most limit entries
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 100
	}
	return &Feed{limit: limit}
}

// Notify appends a notification, evicting the oldest past the limit
func (f *Feed) Notify(message string, severity Severity) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.entries = append(f.entries, Notification{
		Message:  message,
		Severity: severity,
		At:       time.Now(),
	})
	if len(f.entries) > f.limit {
		f.entries = f.entries[len(f.entries)-f.limit:]
	}
}

// Recent returns the stored notifications, newest last
func (f *Feed) Recent() []Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Notification, len(f.entries))
	copy(out, f.entries)
	return out
}

// Multi fans a notification out to several sinks
type Multi []Sink

// Notify forwards to every sink
func (m Multi) Notify(message string, severity Severity) {
	for _, s := range m {
		s.Notify(message, severity)
	}
}
