package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/progress"
)

// LogSink writes run milestones to a zap logger. Per-task events go to Debug
// since workers already log results.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			s.logger.Info("run start", append(fields, zap.Int("total", evt.Total))...)
		case progress.StageProgress:
			s.logger.Debug("progress", append(fields,
				zap.Int("current", evt.Current),
				zap.Int("total", evt.Total),
				zap.Int("succeeded", evt.Stats.Succeeded),
			)...)
		case progress.StageTaskDone:
			s.logger.Debug("task done", append(fields,
				zap.String("url", evt.URL),
				zap.Stringer("outcome", evt.Outcome),
				zap.String("credential", evt.Credential),
				zap.Int("attempts", evt.Attempts),
			)...)
		case progress.StageLoginFailed:
			s.logger.Debug("login failed", append(fields,
				zap.String("credential", evt.Credential),
				zap.Stringer("outcome", evt.Login),
			)...)
		case progress.StageRunDone:
			s.logger.Info("run done", append(fields,
				zap.String("reason", evt.Note),
				zap.Duration("dur", evt.Dur),
				zap.Any("stats", evt.Stats),
			)...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
