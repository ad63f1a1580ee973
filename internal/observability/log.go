// Package observability provides refresh listeners that surface engine
// activity through structured logs and Prometheus metrics.
package observability

import (
	"log/slog"
	"sync"
	"time"

	"snapfeed/pkg/feed"
)

// LogListener emits a structured log line per refresh lifecycle event.
type LogListener struct {
	log *slog.Logger

	mu      sync.Mutex
	started time.Time
}

// NewLogListener wraps logger (slog.Default when nil) as a refresh listener.
func NewLogListener(logger *slog.Logger) *LogListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogListener{log: logger}
}

func (l *LogListener) RefreshStarted(current, desired feed.Version) {
	l.mu.Lock()
	l.started = time.Now()
	l.mu.Unlock()
	l.log.Info("refresh started", "current", int64(current), "desired", int64(desired))
}

func (l *LogListener) StepCompleted(step feed.Step) {
	l.log.Debug("transition applied", "kind", string(step.Kind), "from", int64(step.From), "to", int64(step.To))
}

func (l *LogListener) StepFailed(step feed.Step, err error) {
	l.log.Warn("transition failed", "kind", string(step.Kind), "from", int64(step.From), "to", int64(step.To), "error", err)
}

func (l *LogListener) RefreshCompleted(before, reached, desired feed.Version) {
	l.log.Info("refresh completed",
		"before", int64(before), "reached", int64(reached), "desired", int64(desired),
		"duration", l.elapsed())
}

func (l *LogListener) RefreshFailed(before, reached, desired feed.Version, err error) {
	l.log.Error("refresh failed",
		"before", int64(before), "reached", int64(reached), "desired", int64(desired),
		"duration", l.elapsed(), "error", err)
}

func (l *LogListener) elapsed() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started.IsZero() {
		return 0
	}
	return time.Since(l.started)
}
