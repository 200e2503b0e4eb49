package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/classifier"
	"github.com/JakeFAU/linkcheck/internal/control"
	"github.com/JakeFAU/linkcheck/internal/credentials"
	"github.com/JakeFAU/linkcheck/internal/queue/memory"
)

const (
	linkA = "https://www.linkedin.com/premium/redeem/gift?code=a"
	linkB = "https://www.linkedin.com/premium/redeem/gift?code=b"
	linkC = "https://www.linkedin.com/premium/redeem/gift?code=c"
)

type response struct {
	page checker.Page
	err  error
}

func working(url string) response {
	return response{page: checker.Page{Location: url, Content: "Claim your gift. Start free trial"}}
}

func expired(url string) response {
	return response{page: checker.Page{Location: url, Content: "This offer has expired"}}
}

func authWall() response {
	return response{page: checker.Page{Location: "https://www.linkedin.com/authwall?trk=gift"}}
}

func rateLimited(url string) response {
	return response{page: checker.Page{Location: url, Title: "Security Verification"}}
}

// fakeSite scripts page responses per URL. The last response repeats once the
// script runs out.
type fakeSite struct {
	mu       sync.Mutex
	script   map[string][]response
	logins   map[string]checker.LoginOutcome
	verify   checker.LoginOutcome
	newErr   error
	sessions int
	visits   map[string]int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		script: map[string][]response{},
		logins: map[string]checker.LoginOutcome{},
		visits: map[string]int{},
	}
}

func (s *fakeSite) NewSession(context.Context) (checker.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.newErr != nil {
		return nil, s.newErr
	}
	s.sessions++
	return &fakeSession{site: s}, nil
}

func (s *fakeSite) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

type fakeSession struct {
	site   *fakeSite
	closed bool
}

func (f *fakeSession) Login(_ context.Context, cred checker.Credential) (checker.LoginOutcome, error) {
	f.site.mu.Lock()
	defer f.site.mu.Unlock()
	if out, ok := f.site.logins[cred.ID]; ok {
		return out, nil
	}
	return checker.LoginSuccess, nil
}

func (f *fakeSession) VerifyLogin(context.Context) (checker.LoginOutcome, error) {
	f.site.mu.Lock()
	defer f.site.mu.Unlock()
	return f.site.verify, nil
}

func (f *fakeSession) Navigate(_ context.Context, url string) (checker.Page, error) {
	f.site.mu.Lock()
	defer f.site.mu.Unlock()
	if f.closed {
		return checker.Page{}, checker.ErrSessionDead
	}
	f.site.visits[url]++
	steps := f.site.script[url]
	if len(steps) == 0 {
		return checker.Page{Location: url}, nil
	}
	r := steps[0]
	if len(steps) > 1 {
		f.site.script[url] = steps[1:]
	}
	r.page.RequestedURL = url
	return r.page, r.err
}

func (f *fakeSession) Close() error {
	f.site.mu.Lock()
	defer f.site.mu.Unlock()
	f.closed = true
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []checker.TaskResult
	logins  []checker.LoginOutcome
}

func (r *fakeRecorder) Record(_ context.Context, result checker.TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *fakeRecorder) LoginFailed(_ context.Context, _ string, outcome checker.LoginOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins = append(r.logins, outcome)
}

func (r *fakeRecorder) byURL() map[string]checker.TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]checker.TaskResult, len(r.results))
	for _, res := range r.results {
		out[res.URL] = res
	}
	return out
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

type challengeObserver struct {
	checker.NopObserver
	answer bool
	onAsk  func()
	mu     sync.Mutex
	asked  []string
}

func (o *challengeObserver) OnChallenge(_ context.Context, id string) bool {
	o.mu.Lock()
	o.asked = append(o.asked, id)
	o.mu.Unlock()
	if o.onAsk != nil {
		o.onAsk()
	}
	return o.answer
}

type countingThrottle struct {
	mu    sync.Mutex
	waits []string
}

func (c *countingThrottle) Wait(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, url)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type harness struct {
	site     *fakeSite
	queue    *memory.Queue
	pool     *credentials.Pool
	recorder *fakeRecorder
	ctl      *control.Controller
	cfg      Config
	deps     Dependencies
}

func newHarness(t *testing.T, credIDs []string, urls ...string) *harness {
	t.Helper()
	q := memory.NewQueue()
	for i, u := range urls {
		require.True(t, q.EnqueueUnique(checker.Task{URL: u, LineNumber: i + 1}))
	}
	creds := make([]checker.Credential, 0, len(credIDs))
	for _, id := range credIDs {
		creds = append(creds, checker.Credential{ID: id, Secret: "pw"})
	}
	h := &harness{
		site:     newFakeSite(),
		queue:    q,
		pool:     credentials.NewPool(creds, time.Hour, nil),
		recorder: &fakeRecorder{},
		ctl:      control.New(),
		cfg: Config{
			CredentialRetryInterval: 5 * time.Millisecond,
			MaxTaskAttempts:         3,
			MaxLoginAttempts:        3,
			LoginBackoffInitial:     time.Millisecond,
			LoginBackoffMax:         2 * time.Millisecond,
		},
	}
	h.deps = Dependencies{
		Queue:      h.queue,
		Pool:       h.pool,
		Sessions:   h.site,
		Classifier: classifier.New(classifier.DefaultRules()),
		Recorder:   h.recorder,
		Control:    h.ctl,
		Clock:      fixedClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		New(1, h.cfg, h.deps).Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish")
	}
}

// TestWorkerProcessesQueueThenReleases verifies a clean run records every task and frees the credential.
func TestWorkerProcessesQueueThenReleases(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"alice"}, linkA, linkB)
	h.site.script[linkA] = []response{working(linkA)}
	h.site.script[linkB] = []response{expired(linkB)}
	throttle := &countingThrottle{}
	h.deps.Throttle = throttle

	h.run(t)

	got := h.recorder.byURL()
	require.Len(t, got, 2)
	require.Equal(t, checker.OutcomeWorking, got[linkA].Outcome)
	require.Equal(t, checker.ConfidenceHigh, got[linkA].Confidence)
	require.Equal(t, "alice", got[linkA].CredentialID)
	require.Equal(t, 1, got[linkA].Attempts)
	require.Equal(t, 1, got[linkA].LineNumber)
	require.Equal(t, linkA, got[linkA].ResolvedLocation)
	require.Empty(t, got[linkA].Error)
	require.Equal(t, checker.OutcomeFailed, got[linkB].Outcome)
	require.Equal(t, 1, h.site.sessionCount())
	require.Equal(t, []string{linkA, linkB}, throttle.waits)

	st := h.pool.Status()
	require.Equal(t, 1, st.Available)
	require.Zero(t, st.Leased)
	require.Zero(t, st.Resting)
}

// TestWorkerSessionLostRequeuesWithoutCooldown checks a lost session requeues the link and logs in again.
func TestWorkerSessionLostRequeuesWithoutCooldown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"alice"}, linkA, linkB)
	h.site.script[linkA] = []response{working(linkA)}
	h.site.script[linkB] = []response{authWall(), working(linkB)}

	h.run(t)

	got := h.recorder.byURL()
	require.Equal(t, 2, h.recorder.count())
	require.Equal(t, checker.OutcomeWorking, got[linkB].Outcome)
	require.Equal(t, 2, got[linkB].Attempts)
	require.Equal(t, 2, h.site.sessionCount())
	require.Zero(t, h.pool.Status().Resting)
}

// TestWorkerSessionDeadErrorIsSessionLost treats a crashed browser like an auth wall.
func TestWorkerSessionDeadErrorIsSessionLost(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"alice"}, linkA)
	h.site.script[linkA] = []response{{err: checker.ErrSessionDead}, working(linkA)}

	h.run(t)

	got := h.recorder.byURL()
	require.Equal(t, checker.OutcomeWorking, got[linkA].Outcome)
	require.Equal(t, 2, h.site.sessionCount())
}

// TestWorkerRecordsFetchError keeps the navigation error on the result.
func TestWorkerRecordsFetchError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"alice"}, linkA)
	h.site.script[linkA] = []response{{err: fmt.Errorf("%w: after 45s", checker.ErrFetchTimeout)}}

	h.run(t)

	got := h.recorder.byURL()
	require.Equal(t, checker.OutcomeError, got[linkA].Outcome)
	require.Contains(t, got[linkA].Error, "after 45s")
	require.Empty(t, got[linkA].ResolvedLocation)
}

// TestWorkerSessionLostBudgetExhausted records ERROR once the attempt budget is spent.
func TestWorkerSessionLostBudgetExhausted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"alice"}, linkA)
	h.cfg.MaxTaskAttempts = 2
	h.site.script[linkA] = []response{authWall()}

	h.run(t)

	got := h.recorder.byURL()
	require.Equal(t, 1, h.recorder.count())
	require.Equal(t, checker.OutcomeError, got[linkA].Outcome)
	require.Contains(t, got[linkA].Detail, "session lost on every attempt")
	require.Equal(t, "https://www.linkedin.com/authwall?trk=gift", got[linkA].ResolvedLocation)
	require.Equal(t, 2, got[linkA].Attempts)
	require.Zero(t, h.queue.Len())
}

// TestWorkerRateLimitPolicies covers each rate-limit policy.
func TestWorkerRateLimitPolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		policy       RateLimitPolicy
		creds        []string
		wantA        checker.Outcome
		wantAttempts int
		wantSessions int
		wantResting  int
	}{
		{
			name:         "requeue and rest",
			policy:       RateLimitRequeueAndRest,
			creds:        []string{"alice", "bob"},
			wantA:        checker.OutcomeWorking,
			wantAttempts: 2,
			wantSessions: 2,
			wantResting:  1,
		},
		{
			name:         "record and rest",
			policy:       RateLimitRecordAndRest,
			creds:        []string{"alice", "bob"},
			wantA:        checker.OutcomeRateLimit,
			wantAttempts: 1,
			wantSessions: 2,
			wantResting:  1,
		},
		{
			name:         "record",
			policy:       RateLimitRecord,
			creds:        []string{"alice"},
			wantA:        checker.OutcomeRateLimit,
			wantAttempts: 1,
			wantSessions: 1,
			wantResting:  0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, tc.creds, linkA, linkB)
			h.cfg.RateLimitPolicy = tc.policy
			h.site.script[linkA] = []response{rateLimited(linkA), working(linkA)}
			h.site.script[linkB] = []response{working(linkB)}

			h.run(t)

			got := h.recorder.byURL()
			require.Equal(t, 2, h.recorder.count())
			require.Equal(t, tc.wantA, got[linkA].Outcome)
			require.Equal(t, tc.wantAttempts, got[linkA].Attempts)
			require.Equal(t, checker.OutcomeWorking, got[linkB].Outcome)
			require.Equal(t, tc.wantSessions, h.site.sessionCount())
			require.Equal(t, tc.wantResting, h.pool.Status().Resting)
		})
	}
}

// TestWorkerRetiresRejectedCredential verifies bad credentials leave the pool and the worker exits when none remain.
func TestWorkerRetiresRejectedCredential(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"mallory"}, linkA)
	h.site.logins["mallory"] = checker.LoginBadCredentials

	h.run(t)

	require.Zero(t, h.recorder.count())
	require.Equal(t, []checker.LoginOutcome{checker.LoginBadCredentials}, h.recorder.logins)
	require.Zero(t, h.pool.Size())
	require.Equal(t, 1, h.queue.Len())
}

// TestWorkerChallengeResolvedByOperator continues once the operator confirms the challenge.
func TestWorkerChallengeResolvedByOperator(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"alice"}, linkA)
	h.site.logins["alice"] = checker.LoginChallenge
	h.site.verify = checker.LoginSuccess
	h.site.script[linkA] = []response{working(linkA)}
	obs := &challengeObserver{answer: true}
	h.deps.Observer = obs

	h.run(t)

	require.Equal(t, []string{"alice"}, obs.asked)
	require.Equal(t, checker.OutcomeWorking, h.recorder.byURL()[linkA].Outcome)
	require.Empty(t, h.recorder.logins)
}

// TestWorkerChallengeUnresolvedRestsCredential rests the credential when nobody resolves the challenge.
func TestWorkerChallengeUnresolvedRestsCredential(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"alice"}, linkA)
	h.site.logins["alice"] = checker.LoginChallenge
	obs := &challengeObserver{answer: false, onAsk: h.ctl.Stop}
	h.deps.Observer = obs

	h.run(t)

	require.Equal(t, []checker.LoginOutcome{checker.LoginChallenge}, h.recorder.logins)
	require.Equal(t, 1, h.pool.Status().Resting)
	require.Zero(t, h.recorder.count())
}

// TestWorkerGivesUpAfterLoginFailures bounds consecutive infrastructure login failures.
func TestWorkerGivesUpAfterLoginFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"alice"}, linkA)
	h.site.newErr = errors.New("browser failed to start")

	h.run(t)

	require.Len(t, h.recorder.logins, 3)
	for _, out := range h.recorder.logins {
		require.Equal(t, checker.LoginUnknown, out)
	}
	require.Equal(t, 1, h.queue.Len())
	require.Equal(t, 1, h.pool.Status().Available)
}

// TestWorkerStopBeforeStart exits without leasing anything.
func TestWorkerStopBeforeStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"alice"}, linkA)
	h.ctl.Stop()

	h.run(t)

	require.Zero(t, h.site.sessionCount())
	require.Equal(t, 1, h.queue.Len())
}

// TestWorkerPauseHoldsProgress verifies no work starts while paused and resumes afterwards.
func TestWorkerPauseHoldsProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, []string{"alice"}, linkA, linkB, linkC)
	h.ctl.Pause()

	done := make(chan struct{})
	go func() {
		defer close(done)
		New(1, h.cfg, h.deps).Run(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, h.site.sessionCount())
	require.Zero(t, h.recorder.count())

	h.ctl.Resume()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish after resume")
	}
	require.Equal(t, 3, h.recorder.count())
}

// TestRateLimitPolicyValid guards the accepted policy names.
func TestRateLimitPolicyValid(t *testing.T) {
	t.Parallel()

	require.True(t, RateLimitRecord.Valid())
	require.True(t, RateLimitRecordAndRest.Valid())
	require.True(t, RateLimitRequeueAndRest.Valid())
	require.False(t, RateLimitPolicy("ignore").Valid())
	require.Equal(t, "ACTIVE", StateActive.String())
}
