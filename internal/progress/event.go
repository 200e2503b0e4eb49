package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/linkcheck/internal/checker"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageTaskDone    Stage = "TASK_DONE"
	StageLoginFailed Stage = "LOGIN_FAILED"
	StageProgress    Stage = "PROGRESS"
	StageRunDone     Stage = "RUN_DONE"
)

// Event captures a single milestone of a check run.
type Event struct {
	// RunID identifies the run that emitted the event.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// URL and the result fields are set on TASK_DONE.
	URL        string
	Outcome    checker.Outcome
	Detail     string
	Confidence checker.Confidence
	Attempts   int
	// Credential is the account identifier, never its secret.
	Credential string
	// Login is set on LOGIN_FAILED.
	Login checker.LoginOutcome
	// Current and Total are set on PROGRESS and RUN_START.
	Current int
	Total   int
	// Stats is the snapshot after the event, when known.
	Stats checker.Stats
	// Dur is the run wall time on RUN_DONE.
	Dur time.Duration
	// Note carries low-volume context such as the finish reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageTaskDone:
		if e.URL == "" {
			return errors.New("task done requires url")
		}
		if e.Outcome == 0 {
			return errors.New("task done requires outcome")
		}
	case StageLoginFailed:
		if e.Credential == "" {
			return errors.New("login failed requires credential")
		}
	case StageProgress:
		if e.Current < 0 || e.Total < 0 || e.Current > e.Total {
			return fmt.Errorf("progress %d/%d out of range", e.Current, e.Total)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
