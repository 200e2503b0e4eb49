// Package dispatcher runs a check: it seeds the queue, fans out workers over
// the credential pool, accounts for every result, and persists the report.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/clock/system"
	"github.com/JakeFAU/linkcheck/internal/control"
	"github.com/JakeFAU/linkcheck/internal/credentials"
	"github.com/JakeFAU/linkcheck/internal/queue/memory"
	"github.com/JakeFAU/linkcheck/internal/results"
	"github.com/JakeFAU/linkcheck/internal/stats"
	"github.com/JakeFAU/linkcheck/internal/worker"
)

var (
	// ErrNoCredentials aborts a run before any worker starts.
	ErrNoCredentials = errors.New("no credentials available")
	// ErrNoTasks aborts a run whose queue is empty after dedup and resume.
	ErrNoTasks = errors.New("no tasks to process")
	// ErrAlreadyStarted is returned when Run is called twice.
	ErrAlreadyStarted = errors.New("dispatcher already started")
)

// Phase is the coarse lifecycle of a Dispatcher.
type Phase string

// Dispatcher phases.
const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhaseFinished Phase = "finished"
)

// Config sizes the worker pool. RunID is generated when empty.
type Config struct {
	RunID   string
	Workers int
	Worker  worker.Config
}

// Pool is the credential pool as the dispatcher sees it.
type Pool interface {
	worker.CredentialPool
}

// ResultWriter persists the final report.
type ResultWriter interface {
	Write(ctx context.Context, run results.Run) (results.Artifacts, error)
}

// Dependencies are the collaborators of a run. Results, Observer, Throttle,
// Clock, IDs, and Logger are optional.
type Dependencies struct {
	Pool         Pool
	Sessions     checker.SessionFactory
	Classifier   checker.Classifier
	ProcessedLog checker.ProcessedLog
	Results      ResultWriter
	Observer     checker.Observer
	Throttle     worker.Throttle
	Clock        checker.Clock
	IDs          checker.IDGenerator
	Logger       *zap.Logger
}

// Report summarizes a finished run.
type Report struct {
	RunID      string               `json:"run_id"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Stopped    bool                 `json:"stopped"`
	Reason     string               `json:"reason"`
	Total      int                  `json:"total"`
	Skipped    int                  `json:"skipped"`
	Duplicates int                  `json:"duplicates"`
	Remaining  int                  `json:"remaining"`
	Stats      checker.Stats        `json:"stats"`
	Results    []checker.TaskResult `json:"-"`
	Artifacts  results.Artifacts    `json:"artifacts"`
}

// Status is a live view of a run.
type Status struct {
	Phase       Phase              `json:"phase"`
	RunID       string             `json:"run_id,omitempty"`
	Paused      bool               `json:"paused"`
	Stopped     bool               `json:"stopped"`
	Total       int                `json:"total"`
	Pending     int                `json:"pending"`
	Stats       checker.Stats      `json:"stats"`
	Credentials credentials.Status `json:"credentials"`
}

// Dispatcher owns one run. It is not reusable.
type Dispatcher struct {
	cfg  Config
	deps Dependencies
	log  *zap.Logger

	ctl   *control.Controller
	stats *stats.Aggregator
	queue *memory.Queue

	mu    sync.Mutex
	phase Phase
	runID string
	total int
}

// New builds a Dispatcher. Workers below one are raised to one.
func New(cfg Config, deps Dependencies) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if deps.Observer == nil {
		deps.Observer = checker.NopObserver{}
	}
	if deps.Clock == nil {
		deps.Clock = system.Clock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Logger.Named("dispatcher"),
		ctl:   control.New(),
		stats: stats.New(),
		queue: memory.NewQueue(),
		phase: PhaseIdle,
	}
}

// Pause blocks workers at their next checkpoint.
func (d *Dispatcher) Pause() {
	d.ctl.Pause()
	d.log.Info("run paused")
}

// Resume releases paused workers.
func (d *Dispatcher) Resume() {
	d.ctl.Resume()
	d.log.Info("run resumed")
}

// Stop asks workers to exit after their in-flight operation.
func (d *Dispatcher) Stop() {
	if !d.ctl.Stopped() {
		d.log.Info("stop requested")
	}
	d.ctl.Stop()
}

// Status reports the live state of the run.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	st := Status{Phase: d.phase, RunID: d.runID, Total: d.total}
	d.mu.Unlock()
	st.Paused = d.ctl.Paused()
	st.Stopped = d.ctl.Stopped()
	st.Pending = d.queue.Len()
	st.Stats = d.stats.Snapshot()
	if d.deps.Pool != nil {
		st.Credentials = d.deps.Pool.Status()
	}
	return st
}

// Run checks tasks and blocks until every worker has exited. Canceling ctx
// is equivalent to Stop. The returned Report is valid even with an error.
func (d *Dispatcher) Run(ctx context.Context, tasks []checker.Task) (Report, error) {
	d.mu.Lock()
	if d.phase != PhaseIdle {
		d.mu.Unlock()
		return Report{}, ErrAlreadyStarted
	}
	d.phase = PhaseRunning
	d.runID = d.newRunID()
	d.mu.Unlock()
	defer d.setPhase(PhaseFinished)

	report := Report{RunID: d.runID, StartedAt: d.deps.Clock.Now().UTC()}
	log := d.log.With(zap.String("run_id", report.RunID))

	if d.deps.Pool == nil || d.deps.Pool.Size() == 0 {
		report.Reason = ErrNoCredentials.Error()
		report.FinishedAt = d.deps.Clock.Now().UTC()
		log.Error("run aborted", zap.String("reason", report.Reason))
		return report, ErrNoCredentials
	}

	if err := d.seed(ctx, tasks, &report); err != nil {
		report.Reason = err.Error()
		report.FinishedAt = d.deps.Clock.Now().UTC()
		log.Error("run aborted", zap.Error(err))
		return report, err
	}
	d.mu.Lock()
	d.total = report.Total
	d.mu.Unlock()

	log.Info("run started",
		zap.Int("tasks", report.Total),
		zap.Int("skipped", report.Skipped),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("workers", d.cfg.Workers),
		zap.Int("credentials", d.deps.Pool.Size()),
	)
	d.deps.Observer.OnProgress(0, report.Total)
	d.deps.Observer.OnStats(d.stats.Snapshot())

	stop := context.AfterFunc(ctx, d.Stop)
	defer stop()
	if ctx.Err() != nil {
		d.Stop()
	}

	// Workers never see ctx cancellation directly so in-flight navigations
	// complete; they observe the stop signal at checkpoints instead.
	workCtx := context.WithoutCancel(ctx)
	rec := &recorder{d: d, total: report.Total, log: log}
	var g errgroup.Group
	for i := range d.cfg.Workers {
		w := worker.New(i+1, d.cfg.Worker, worker.Dependencies{
			Queue:      d.queue,
			Pool:       d.deps.Pool,
			Sessions:   d.deps.Sessions,
			Classifier: d.deps.Classifier,
			Recorder:   rec,
			Control:    d.ctl,
			Observer:   d.deps.Observer,
			Throttle:   d.deps.Throttle,
			Clock:      d.deps.Clock,
			Logger:     d.deps.Logger,
		})
		g.Go(func() error {
			w.Run(workCtx)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = d.deps.Clock.Now().UTC()
	report.Stopped = d.ctl.Stopped()
	report.Remaining = d.queue.Len()
	report.Stats = d.stats.Snapshot()
	report.Results = d.stats.Results()
	switch {
	case report.Stopped:
		report.Reason = "stopped"
	case report.Remaining > 0:
		report.Reason = fmt.Sprintf("%d tasks left with no usable credential", report.Remaining)
	default:
		report.Reason = "completed"
	}
	d.deps.Observer.OnStats(report.Stats)

	log.Info("run finished",
		zap.String("reason", report.Reason),
		zap.Int("processed", report.Stats.Processed),
		zap.Int("succeeded", report.Stats.Succeeded),
		zap.Int("failed", report.Stats.Failed),
		zap.Int("rate_limited", report.Stats.RateLimited),
		zap.Int("errors", report.Stats.Errored),
		zap.Int("login_failed", report.Stats.LoginFailed),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)

	if d.deps.Results == nil {
		return report, nil
	}
	arts, err := d.deps.Results.Write(workCtx, results.Run{
		ID:         report.RunID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Stopped:    report.Stopped,
		Reason:     report.Reason,
		Stats:      report.Stats,
		Results:    report.Results,
	})
	report.Artifacts = arts
	if err != nil {
		log.Error("persist results", zap.Error(err))
		return report, fmt.Errorf("persist results: %w", err)
	}
	return report, nil
}

// seed loads the processed log and fills the queue with unseen tasks.
func (d *Dispatcher) seed(ctx context.Context, tasks []checker.Task, report *Report) error {
	done := map[string]struct{}{}
	if d.deps.ProcessedLog != nil {
		urls, err := d.deps.ProcessedLog.Load(ctx)
		if err != nil {
			return fmt.Errorf("load processed log: %w", err)
		}
		for _, u := range urls {
			done[u] = struct{}{}
		}
		d.queue.Exclude(urls...)
	}
	for _, task := range tasks {
		if d.queue.EnqueueUnique(task) {
			continue
		}
		if _, ok := done[task.URL]; ok {
			report.Skipped++
		} else {
			report.Duplicates++
		}
	}
	report.Total = d.queue.Len()
	if report.Total == 0 {
		return ErrNoTasks
	}
	return nil
}

func (d *Dispatcher) newRunID() string {
	if d.cfg.RunID != "" {
		return d.cfg.RunID
	}
	if d.deps.IDs != nil {
		if id, err := d.deps.IDs.NewID(); err == nil {
			return id
		}
	}
	return d.deps.Clock.Now().UTC().Format("20060102T150405")
}

func (d *Dispatcher) setPhase(p Phase) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.phase = p
}

// recorder makes a result durable before it is counted.
type recorder struct {
	d     *Dispatcher
	total int
	log   *zap.Logger
}

func (r *recorder) Record(ctx context.Context, result checker.TaskResult) {
	if r.d.deps.ProcessedLog != nil {
		if err := r.d.deps.ProcessedLog.Append(ctx, result.URL); err != nil {
			r.log.Error("append processed log", zap.String("url", result.URL), zap.Error(err))
		}
	}
	snap := r.d.stats.Record(result)
	obs := r.d.deps.Observer
	obs.OnResult(result)
	if so, ok := obs.(checker.SnapshotObserver); ok {
		so.OnSnapshot(snap, r.total)
		return
	}
	obs.OnStats(snap)
	obs.OnProgress(snap.Processed, r.total)
}

func (r *recorder) LoginFailed(_ context.Context, credentialID string, outcome checker.LoginOutcome) {
	snap := r.d.stats.RecordLoginFailure()
	if lo, ok := r.d.deps.Observer.(checker.LoginObserver); ok {
		lo.OnLoginFailure(credentialID, outcome)
	}
	r.d.deps.Observer.OnStats(snap)
}
