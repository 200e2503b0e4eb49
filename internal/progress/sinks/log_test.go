package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/progress"
)

// TestLogSinkLevels logs run milestones at Info and task chatter at Debug.
func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r", TS: now, Stage: progress.StageRunStart, Total: 2},
		{RunID: "r", TS: now, Stage: progress.StageTaskDone, URL: "u", Outcome: checker.OutcomeWorking},
		{RunID: "r", TS: now, Stage: progress.StageRunDone, Note: "completed"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "run start", entries[0].Message)
	require.Equal(t, "run done", entries[1].Message)
	require.Equal(t, "completed", entries[1].ContextMap()["reason"])
}
