// Package stats aggregates recorded task results for a run.
package stats

import (
	"sync"

	"github.com/JakeFAU/linkcheck/internal/checker"
)

// Aggregator holds counters and the result list behind a single lock so a
// snapshot never observes a result without its counter.
type Aggregator struct {
	mu      sync.Mutex
	stats   checker.Stats
	results []checker.TaskResult
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Record appends result and bumps the matching counters. It returns the
// counters as they stand after the update.
func (a *Aggregator) Record(result checker.TaskResult) checker.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, result)
	a.stats.Processed++
	switch result.Outcome {
	case checker.OutcomeWorking:
		a.stats.Succeeded++
	case checker.OutcomeFailed:
		a.stats.Failed++
	case checker.OutcomeRateLimit:
		a.stats.RateLimited++
	default:
		a.stats.Errored++
	}
	return a.stats
}

// RecordLoginFailure counts a failed login attempt.
func (a *Aggregator) RecordLoginFailure() checker.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.LoginFailed++
	return a.stats
}

// Snapshot returns a consistent copy of the counters.
func (a *Aggregator) Snapshot() checker.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Results returns a copy of the recorded results in record order.
func (a *Aggregator) Results() []checker.TaskResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]checker.TaskResult(nil), a.results...)
}

// Working returns the WORKING results in record order.
func (a *Aggregator) Working() []checker.TaskResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []checker.TaskResult
	for _, r := range a.results {
		if r.Outcome == checker.OutcomeWorking {
			out = append(out, r)
		}
	}
	return out
}
