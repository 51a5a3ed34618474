package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// JobMonitor collects the human-readable log trail of one job run. Every
// line is logged and, when a sink is configured, queued for forwarding.
type JobMonitor struct {
	modelID string
	logger  *slog.Logger
	sink    *LogSink

	mu    sync.Mutex
	lines []string
}

// NewJobMonitor creates a monitor for one run of the job identified by modelID
func NewJobMonitor(modelID string, logger *slog.Logger, sink *LogSink) *JobMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobMonitor{modelID: modelID, logger: logger, sink: sink}
}

// Logf records one trail line
func (jm *JobMonitor) Logf(ctx context.Context, format string, args ...any) {
	line := fmt.Sprintf(format, args...)

	jm.mu.Lock()
	jm.lines = append(jm.lines, line)
	jm.mu.Unlock()

	jm.logger.Info(line)
	if jm.sink == nil {
		return
	}
	if !jm.sink.Post(jm.modelID, line) {
		jm.logger.Warn("log sink full, line not forwarded")
	}
}

// Lines returns a copy of the trail so far
func (jm *JobMonitor) Lines() []string {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	out := make([]string, len(jm.lines))
	copy(out, jm.lines)
	return out
}
