// Package worker runs the per-credential session state machine: lease a
// credential, log in, check links until the session breaks or the queue
// drains, then hand the credential back.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/clock/system"
	"github.com/JakeFAU/linkcheck/internal/credentials"
)

// State is a step of the worker lifecycle.
type State int

// Worker states. Done is terminal.
const (
	StateAcquireCredential State = iota
	StateLoggingIn
	StateActive
	StateRelogin
	StateRelease
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAcquireCredential:
		return "ACQUIRE_CREDENTIAL"
	case StateLoggingIn:
		return "LOGGING_IN"
	case StateActive:
		return "ACTIVE"
	case StateRelogin:
		return "RELOGIN"
	case StateRelease:
		return "RELEASE"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RateLimitPolicy decides what a link-level rate limit does to the task and
// the credential that hit it.
type RateLimitPolicy string

// Supported rate-limit policies.
const (
	// RateLimitRequeueAndRest requeues the task and rests the credential.
	RateLimitRequeueAndRest RateLimitPolicy = "requeue_and_rest"
	// RateLimitRecordAndRest records RATE_LIMIT and rests the credential.
	RateLimitRecordAndRest RateLimitPolicy = "record_and_rest"
	// RateLimitRecord records RATE_LIMIT and keeps the session.
	RateLimitRecord RateLimitPolicy = "record"
)

// Valid reports whether p is a known policy.
func (p RateLimitPolicy) Valid() bool {
	switch p {
	case RateLimitRequeueAndRest, RateLimitRecordAndRest, RateLimitRecord:
		return true
	default:
		return false
	}
}

// Config controls pacing and retry budgets.
type Config struct {
	DelayMin                time.Duration
	DelayMax                time.Duration
	CredentialRetryInterval time.Duration
	// MaxTaskAttempts bounds how often one task is tried; 0 means unlimited.
	MaxTaskAttempts int
	// MaxLoginAttempts bounds consecutive timeout/unknown login failures
	// before the worker gives up; 0 means unlimited.
	MaxLoginAttempts    int
	LoginBackoffInitial time.Duration
	LoginBackoffMax     time.Duration
	RateLimitPolicy     RateLimitPolicy
}

const (
	defaultCredentialRetry = 5 * time.Second
	defaultBackoffInitial  = 2 * time.Second
	defaultBackoffMax      = time.Minute
)

// Queue is the shared work queue.
type Queue interface {
	Dequeue() (checker.Task, bool)
	Requeue(task checker.Task)
	Len() int
}

// CredentialPool hands out credentials exclusively.
type CredentialPool interface {
	Lease() (checker.Credential, bool)
	Release(cred checker.Credential, cooldown bool)
	Retire(cred checker.Credential)
	Size() int
	Status() credentials.Status
}

// Recorder accounts for terminal results and failed logins.
type Recorder interface {
	Record(ctx context.Context, result checker.TaskResult)
	LoginFailed(ctx context.Context, credentialID string, outcome checker.LoginOutcome)
}

// Controller is the pause gate and stop signal.
type Controller interface {
	Checkpoint(ctx context.Context) error
	Sleep(ctx context.Context, d time.Duration) error
}

// Throttle paces navigations.
type Throttle interface {
	Wait(ctx context.Context, url string) error
}

// Dependencies wires a Worker to the shared run state.
type Dependencies struct {
	Queue      Queue
	Pool       CredentialPool
	Sessions   checker.SessionFactory
	Classifier checker.Classifier
	Recorder   Recorder
	Control    Controller
	Observer   checker.Observer
	Throttle   Throttle
	Clock      checker.Clock
	Logger     *zap.Logger
}

// Worker owns at most one credential and one session at a time.
type Worker struct {
	id   int
	cfg  Config
	deps Dependencies
	log  *zap.Logger

	cred          checker.Credential
	sess          checker.Session
	cooldown      bool
	loginFailures int
	backoff       *backoff.ExponentialBackOff
	waiting       bool
}

// New constructs a Worker. Observer, Throttle, Clock, and Logger are optional.
func New(id int, cfg Config, deps Dependencies) *Worker {
	if cfg.CredentialRetryInterval <= 0 {
		cfg.CredentialRetryInterval = defaultCredentialRetry
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	if cfg.LoginBackoffInitial <= 0 {
		cfg.LoginBackoffInitial = defaultBackoffInitial
	}
	if cfg.LoginBackoffMax <= 0 {
		cfg.LoginBackoffMax = defaultBackoffMax
	}
	if !cfg.RateLimitPolicy.Valid() {
		cfg.RateLimitPolicy = RateLimitRequeueAndRest
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
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.LoginBackoffInitial
	b.MaxInterval = cfg.LoginBackoffMax
	b.MaxElapsedTime = 0
	return &Worker{
		id:      id,
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger.Named("worker").With(zap.Int("worker", id)),
		backoff: b,
	}
}

// Run drives the state machine until the worker terminates. Network calls
// use ctx; callers that want in-flight operations to finish on stop should
// pass a context that is not canceled by the stop.
func (w *Worker) Run(ctx context.Context) {
	state := StateAcquireCredential
	for state != StateDone {
		w.log.Debug("worker state", zap.Stringer("state", state))
		switch state {
		case StateAcquireCredential:
			state = w.acquire(ctx)
		case StateLoggingIn:
			state = w.login(ctx)
		case StateActive:
			state = w.active(ctx)
		case StateRelogin:
			state = w.relogin()
		case StateRelease:
			state = w.release()
		default:
			state = StateDone
		}
	}
	w.log.Debug("worker finished")
}

func (w *Worker) acquire(ctx context.Context) State {
	for {
		if err := w.deps.Control.Checkpoint(ctx); err != nil {
			return StateDone
		}
		if w.deps.Queue.Len() == 0 {
			return StateDone
		}
		if w.deps.Pool.Size() == 0 {
			w.log.Warn("no usable credentials remain")
			return StateDone
		}
		if cred, ok := w.deps.Pool.Lease(); ok {
			w.cred = cred
			w.waiting = false
			return StateLoggingIn
		}
		if !w.waiting {
			w.waiting = true
			st := w.deps.Pool.Status()
			fields := []zap.Field{zap.Int("leased", st.Leased), zap.Int("resting", st.Resting)}
			if st.Resting > 0 && st.Leased == 0 {
				w.log.Warn("all credentials resting", append(fields, zap.Time("next_ready", st.NextReady))...)
			} else {
				w.log.Info("waiting for a free credential", fields...)
			}
		}
		if err := w.deps.Control.Sleep(ctx, w.cfg.CredentialRetryInterval); err != nil {
			return StateDone
		}
	}
}

func (w *Worker) login(ctx context.Context) State {
	log := w.log.With(zap.String("credential", w.cred.ID))
	sess, err := w.deps.Sessions.NewSession(ctx)
	outcome := checker.LoginUnknown
	if err == nil {
		outcome, err = sess.Login(ctx, w.cred)
		if outcome == checker.LoginChallenge {
			outcome, err = w.resolveChallenge(ctx, sess)
		}
	}
	if outcome == checker.LoginSuccess {
		log.Info("logged in")
		w.sess = sess
		w.loginFailures = 0
		w.backoff.Reset()
		return StateActive
	}
	if sess != nil {
		if cerr := sess.Close(); cerr != nil {
			log.Debug("close failed session", zap.Error(cerr))
		}
	}
	w.deps.Recorder.LoginFailed(ctx, w.cred.ID, outcome)

	retry := false
	switch outcome {
	case checker.LoginBadCredentials:
		log.Warn("credential rejected, retiring it for this run", zap.Error(err))
		w.deps.Pool.Retire(w.cred)
	case checker.LoginChallenge:
		log.Warn("login challenge unresolved, resting credential", zap.Error(err))
		w.deps.Pool.Release(w.cred, true)
	case checker.LoginTimeout:
		log.Warn("login timed out", zap.Error(err))
		w.deps.Pool.Release(w.cred, false)
		retry = true
	default:
		log.Error("login failed", zap.Stringer("outcome", outcome), zap.Error(err))
		w.deps.Pool.Release(w.cred, false)
		retry = true
	}
	w.cred = checker.Credential{}
	if !retry {
		return StateAcquireCredential
	}
	w.loginFailures++
	if w.cfg.MaxLoginAttempts > 0 && w.loginFailures >= w.cfg.MaxLoginAttempts {
		w.log.Error("giving up after consecutive login failures", zap.Int("failures", w.loginFailures))
		return StateDone
	}
	if err := w.deps.Control.Sleep(ctx, w.backoff.NextBackOff()); err != nil {
		return StateDone
	}
	return StateAcquireCredential
}

func (w *Worker) resolveChallenge(ctx context.Context, sess checker.Session) (checker.LoginOutcome, error) {
	verifier, ok := sess.(checker.ChallengeVerifier)
	if !ok {
		return checker.LoginChallenge, errors.New("session cannot re-verify a challenge")
	}
	w.log.Warn("login challenge, asking operator", zap.String("credential", w.cred.ID))
	if !w.deps.Observer.OnChallenge(ctx, w.cred.ID) {
		return checker.LoginChallenge, errors.New("challenge not resolved")
	}
	return verifier.VerifyLogin(ctx)
}

func (w *Worker) active(ctx context.Context) State {
	for {
		if err := w.deps.Control.Checkpoint(ctx); err != nil {
			return StateRelease
		}
		task, ok := w.deps.Queue.Dequeue()
		if !ok {
			return StateRelease
		}
		if next, leave := w.process(ctx, task); leave {
			return next
		}
		if w.deps.Queue.Len() == 0 {
			continue
		}
		if err := w.deps.Control.Sleep(ctx, w.delay()); err != nil {
			return StateRelease
		}
	}
}

// process checks one task. leave is true when the session must be torn down.
func (w *Worker) process(ctx context.Context, task checker.Task) (State, bool) {
	log := w.log.With(zap.String("url", task.URL), zap.Int("attempt", task.Attempt+1))
	if w.deps.Throttle != nil {
		if err := w.deps.Throttle.Wait(ctx, task.URL); err != nil {
			w.deps.Queue.Requeue(task)
			log.Warn("throttle wait aborted, task returned to queue", zap.Error(err))
			return StateRelease, true
		}
	}

	var cls checker.Classification
	page, err := w.sess.Navigate(ctx, task.URL)
	obs := observation{location: page.Location, err: err}
	if err != nil {
		cls = w.deps.Classifier.ClassifyError(err)
		log.Debug("navigation failed", zap.Error(err))
	} else {
		cls = w.deps.Classifier.Classify(page)
	}

	switch cls.Outcome {
	case checker.OutcomeSessionLost:
		if w.retryable(task) {
			w.deps.Queue.Requeue(task.Retry())
			log.Warn("session lost, task requeued", zap.String("detail", cls.Detail))
		} else {
			w.record(ctx, task, checker.Classification{
				Outcome: checker.OutcomeError,
				Detail:  "session lost on every attempt: " + cls.Detail,
			}, obs)
		}
		return StateRelogin, true
	case checker.OutcomeRateLimit:
		return w.rateLimited(ctx, log, task, cls, obs)
	default:
		w.record(ctx, task, cls, obs)
		return StateActive, false
	}
}

func (w *Worker) rateLimited(ctx context.Context, log *zap.Logger, task checker.Task, cls checker.Classification, obs observation) (State, bool) {
	switch w.cfg.RateLimitPolicy {
	case RateLimitRecord:
		w.record(ctx, task, cls, obs)
		return StateActive, false
	case RateLimitRecordAndRest:
		w.record(ctx, task, cls, obs)
	default:
		if w.retryable(task) {
			w.deps.Queue.Requeue(task.Retry())
			log.Warn("rate limited, task requeued", zap.String("detail", cls.Detail))
		} else {
			w.record(ctx, task, cls, obs)
		}
	}
	w.cooldown = true
	return StateRelogin, true
}

func (w *Worker) retryable(task checker.Task) bool {
	return w.cfg.MaxTaskAttempts <= 0 || task.Attempt+1 < w.cfg.MaxTaskAttempts
}

// observation is what the last navigation of a task produced.
type observation struct {
	location string
	err      error
}

func (w *Worker) record(ctx context.Context, task checker.Task, cls checker.Classification, obs observation) {
	result := checker.TaskResult{
		URL:              task.URL,
		LineNumber:       task.LineNumber,
		Outcome:          cls.Outcome,
		Detail:           cls.Detail,
		Confidence:       cls.Confidence,
		ResolvedLocation: obs.location,
		CredentialID:     w.cred.ID,
		Attempts:         task.Attempt + 1,
		Timestamp:        w.deps.Clock.Now().UTC(),
	}
	if obs.err != nil {
		result.Error = obs.err.Error()
	}
	fields := []zap.Field{
		zap.String("url", task.URL),
		zap.Stringer("outcome", cls.Outcome),
		zap.String("detail", cls.Detail),
	}
	if cls.Confidence != checker.ConfidenceNone {
		fields = append(fields, zap.String("confidence", string(cls.Confidence)))
	}
	w.log.Info("task recorded", fields...)
	w.deps.Recorder.Record(ctx, result)
}

func (w *Worker) relogin() State {
	w.closeSession()
	w.log.Info("relogin", zap.String("credential", w.cred.ID), zap.Bool("cooldown", w.cooldown))
	w.deps.Pool.Release(w.cred, w.cooldown)
	w.cred = checker.Credential{}
	w.cooldown = false
	return StateAcquireCredential
}

func (w *Worker) release() State {
	w.closeSession()
	w.deps.Pool.Release(w.cred, w.cooldown)
	w.cred = checker.Credential{}
	w.cooldown = false
	return StateDone
}

func (w *Worker) closeSession() {
	if w.sess == nil {
		return
	}
	if err := w.sess.Close(); err != nil {
		w.log.Debug("close session", zap.Error(err))
	}
	w.sess = nil
}

func (w *Worker) delay() time.Duration {
	span := w.cfg.DelayMax - w.cfg.DelayMin
	if span <= 0 {
		return w.cfg.DelayMin
	}
	return w.cfg.DelayMin + rand.N(span+1)
}
