package cli

import (
	"github.com/hmiyata/weave/internal/application/port/output"
)

// LogEventSink routes structured events to the CLI logger. Failure and
// conflict events surface at WARN so they are visible at the default level;
// everything else logs at INFO.
type LogEventSink struct {
	logger *Logger
}

// NewLogEventSink creates an event sink backed by the given logger
func NewLogEventSink(logger *Logger) *LogEventSink {
	return &LogEventSink{logger: logger}
}

// Emit implements output.EventSink
func (s *LogEventSink) Emit(event output.Event) {
	switch event.Type {
	case output.EventAgentFailed, output.EventMergeConflicted, output.EventExecutionBlocked:
		s.logger.Warn("[%s] %s (execution=%s)", event.Type, event.Summary, event.ExecutionID)
	default:
		s.logger.Info("[%s] %s (execution=%s)", event.Type, event.Summary, event.ExecutionID)
	}
}

var _ output.EventSink = (*LogEventSink)(nil)
