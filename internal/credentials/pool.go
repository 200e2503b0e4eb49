// Package credentials manages the set of accounts workers log in with. The
// pool hands each credential to at most one worker at a time and rests
// credentials that tripped a rate limit or challenge.
package credentials

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/clock/system"
)

// DefaultRestDuration is how long a credential cools down after a release
// with cooldown.
const DefaultRestDuration = 30 * time.Minute

// Pool tracks available, leased, resting, and retired credentials.
type Pool struct {
	mu      sync.Mutex
	clock   checker.Clock
	rest    time.Duration
	creds   map[string]checker.Credential
	leased  map[string]struct{}
	ids     []string
	retired int
}

// NewPool builds a pool from creds. Duplicate identifiers keep the first
// entry. A non-positive rest uses DefaultRestDuration; a nil clock uses the
// wall clock.
func NewPool(creds []checker.Credential, rest time.Duration, clock checker.Clock) *Pool {
	if rest <= 0 {
		rest = DefaultRestDuration
	}
	if clock == nil {
		clock = system.Clock{}
	}
	p := &Pool{
		clock:  clock,
		rest:   rest,
		creds:  make(map[string]checker.Credential, len(creds)),
		leased: make(map[string]struct{}),
	}
	for _, c := range creds {
		if _, dup := p.creds[c.ID]; dup || c.ID == "" {
			continue
		}
		p.creds[c.ID] = c
		p.ids = append(p.ids, c.ID)
	}
	sort.Strings(p.ids)
	return p
}

// Lease removes and returns a random credential that is neither leased nor
// resting. ok is false when none qualifies.
func (p *Pool) Lease() (checker.Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	eligible := make([]string, 0, len(p.ids))
	for _, id := range p.ids {
		if _, busy := p.leased[id]; busy {
			continue
		}
		if p.creds[id].Resting(now) {
			continue
		}
		eligible = append(eligible, id)
	}
	if len(eligible) == 0 {
		return checker.Credential{}, false
	}
	id := eligible[rand.IntN(len(eligible))]
	p.leased[id] = struct{}{}
	return p.creds[id], true
}

// Release returns cred to the pool. With cooldown set the credential rests
// for the pool's rest duration before it can be leased again.
func (p *Pool) Release(cred checker.Credential, cooldown bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stored, ok := p.creds[cred.ID]
	if !ok {
		return
	}
	delete(p.leased, cred.ID)
	if cooldown {
		stored.CooldownUntil = p.clock.Now().Add(p.rest)
		p.creds[cred.ID] = stored
	}
}

// Retire removes cred for the rest of the run.
func (p *Pool) Retire(cred checker.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.creds[cred.ID]; !ok {
		return
	}
	delete(p.creds, cred.ID)
	delete(p.leased, cred.ID)
	for i, id := range p.ids {
		if id == cred.ID {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			break
		}
	}
	p.retired++
}

// Size returns the number of credentials that have not been retired.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// Status is a point-in-time view of the pool.
type Status struct {
	Total     int       `json:"total"`
	Available int       `json:"available"`
	Leased    int       `json:"leased"`
	Resting   int       `json:"resting"`
	Retired   int       `json:"retired"`
	NextReady time.Time `json:"next_ready,omitempty"`
}

// Status summarizes pool occupancy. NextReady is the earliest cooldown end
// among resting credentials.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	st := Status{Total: len(p.ids), Retired: p.retired, Leased: len(p.leased)}
	for _, id := range p.ids {
		c := p.creds[id]
		if _, busy := p.leased[id]; busy {
			continue
		}
		if c.Resting(now) {
			st.Resting++
			if st.NextReady.IsZero() || c.CooldownUntil.Before(st.NextReady) {
				st.NextReady = c.CooldownUntil
			}
			continue
		}
		st.Available++
	}
	return st
}
