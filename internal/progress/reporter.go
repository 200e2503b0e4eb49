package progress

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/clock/system"
)

// Prompt asks an operator whether the login challenge for credentialID has
// been resolved. It may block until the operator answers or ctx ends.
type Prompt func(ctx context.Context, credentialID string) bool

// ReporterConfig configures a Reporter. Clock and Prompt are optional; without
// a Prompt every challenge is declined.
type ReporterConfig struct {
	RunID  string
	Clock  checker.Clock
	Prompt Prompt
}

// Reporter adapts run callbacks to progress events.
type Reporter struct {
	emitter Emitter
	runID   string
	clock   checker.Clock
	prompt  Prompt

	startOnce sync.Once
	promptMu  sync.Mutex

	mu        sync.Mutex
	startedAt time.Time
	stats     checker.Stats
	current   int
	total     int
}

// NewReporter returns a Reporter that emits into emitter.
func NewReporter(emitter Emitter, cfg ReporterConfig) *Reporter {
	if cfg.Clock == nil {
		cfg.Clock = system.Clock{}
	}
	return &Reporter{
		emitter: emitter,
		runID:   cfg.RunID,
		clock:   cfg.Clock,
		prompt:  cfg.Prompt,
	}
}

func (r *Reporter) event(stage Stage) Event {
	return Event{RunID: r.runID, TS: r.clock.Now().UTC(), Stage: stage}
}

// OnProgress implements checker.Observer. The first call also marks the
// start of the run.
func (r *Reporter) OnProgress(current, total int) {
	r.start(total)
	r.mu.Lock()
	r.current, r.total = current, total
	stats := r.stats
	r.mu.Unlock()
	r.emitProgress(current, total, stats)
}

// OnSnapshot implements checker.SnapshotObserver. The emitted event carries
// exactly the counters of snap. Snapshots from concurrent workers may arrive
// out of order, so the stored state only moves forward.
func (r *Reporter) OnSnapshot(snap checker.Stats, total int) {
	r.start(total)
	r.mu.Lock()
	if snap.Processed >= r.stats.Processed {
		r.stats = snap
		r.current = snap.Processed
	}
	r.total = total
	r.mu.Unlock()
	r.emitProgress(snap.Processed, total, snap)
}

func (r *Reporter) start(total int) {
	r.startOnce.Do(func() {
		r.mu.Lock()
		r.startedAt = r.clock.Now()
		r.mu.Unlock()
		evt := r.event(StageRunStart)
		evt.Total = total
		r.emitter.Emit(evt)
	})
}

func (r *Reporter) emitProgress(current, total int, stats checker.Stats) {
	evt := r.event(StageProgress)
	evt.Current, evt.Total, evt.Stats = current, total, stats
	r.emitter.Emit(evt)
}

// OnStats implements checker.Observer. A snapshot older than the stored one
// is ignored.
func (r *Reporter) OnStats(stats checker.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stats.Processed >= r.stats.Processed {
		r.stats = stats
	}
}

// OnResult implements checker.Observer.
func (r *Reporter) OnResult(result checker.TaskResult) {
	evt := r.event(StageTaskDone)
	evt.URL = result.URL
	evt.Outcome = result.Outcome
	evt.Detail = result.Detail
	evt.Confidence = result.Confidence
	evt.Attempts = result.Attempts
	evt.Credential = result.CredentialID
	r.emitter.Emit(evt)
}

// OnLoginFailure implements checker.LoginObserver.
func (r *Reporter) OnLoginFailure(credentialID string, outcome checker.LoginOutcome) {
	evt := r.event(StageLoginFailed)
	evt.Credential = credentialID
	evt.Login = outcome
	r.emitter.Emit(evt)
}

// OnChallenge implements checker.Observer. Prompts are serialized because
// they share one operator.
func (r *Reporter) OnChallenge(ctx context.Context, credentialID string) bool {
	if r.prompt == nil {
		return false
	}
	r.promptMu.Lock()
	defer r.promptMu.Unlock()
	return r.prompt(ctx, credentialID)
}

// Finish emits the terminal event for the run.
func (r *Reporter) Finish(stats checker.Stats, reason string) {
	r.mu.Lock()
	r.stats = stats
	started := r.startedAt
	r.mu.Unlock()

	evt := r.event(StageRunDone)
	evt.Stats = stats
	evt.Note = reason
	if !started.IsZero() {
		evt.Dur = max(r.clock.Now().Sub(started), 0)
	}
	r.emitter.Emit(evt)
}

// Snapshot returns the latest stats and progress counters seen.
func (r *Reporter) Snapshot() (stats checker.Stats, current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats, r.current, r.total
}
