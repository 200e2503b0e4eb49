package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters, gauges, and histograms follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "r", TS: now, Stage: progress.StageRunStart, Total: 3},
		{RunID: "r", TS: now, Stage: progress.StageLoginFailed, Credential: "alice", Login: checker.LoginChallenge},
		{RunID: "r", TS: now, Stage: progress.StageTaskDone, URL: "u1", Outcome: checker.OutcomeWorking, Attempts: 1},
		{RunID: "r", TS: now, Stage: progress.StageTaskDone, URL: "u2", Outcome: checker.OutcomeFailed, Attempts: 2},
		{RunID: "r", TS: now, Stage: progress.StageProgress, Current: 2, Total: 3},
		{RunID: "r", TS: now, Stage: progress.StageRunDone, Note: "stopped", Dur: 90 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("stopped")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasks.WithLabelValues("WORKING")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasks.WithLabelValues("FAILED")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.loginFailures.WithLabelValues("FAIL_CHALLENGE")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.progressCurrent))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.progressTotal))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "linkcheck_run_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.taskAttempts, "linkcheck_task_attempts"))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register progress collector")
}
