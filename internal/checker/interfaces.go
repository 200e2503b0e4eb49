package checker

import (
	"context"
	"io"
	"time"
)

// Session is one authenticated browsing context bound to a single Credential.
// A Session is used by exactly one worker at a time.
type Session interface {
	// Login authenticates with cred. The outcome is authoritative; err only
	// carries detail for logging.
	Login(ctx context.Context, cred Credential) (LoginOutcome, error)
	// Navigate loads url and reports the resolved page. Failures wrap
	// ErrFetchTimeout, ErrSessionDead, or ErrFetchFailed.
	Navigate(ctx context.Context, url string) (Page, error)
	// Close releases the session. It is safe to call more than once.
	Close() error
}

// ChallengeVerifier is implemented by sessions that can re-check their login
// state after a human resolved an interactive challenge.
type ChallengeVerifier interface {
	VerifyLogin(ctx context.Context) (LoginOutcome, error)
}

// SessionFactory opens fresh, unauthenticated sessions.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// Classifier maps a page observation to an outcome.
type Classifier interface {
	Classify(page Page) Classification
	ClassifyError(err error) Classification
}

// ProcessedLog is the durable record of URLs with a recorded outcome.
type ProcessedLog interface {
	// Load returns every URL appended so far.
	Load(ctx context.Context) ([]string, error)
	// Append durably records url before returning.
	Append(ctx context.Context, url string) error
	Close() error
}

// Observer receives run progress. Implementations must not block for long;
// OnChallenge is the exception and may wait for a human.
type Observer interface {
	OnProgress(current, total int)
	OnStats(stats Stats)
	OnResult(result TaskResult)
	// OnChallenge reports whether the challenge for credentialID was resolved.
	OnChallenge(ctx context.Context, credentialID string) bool
}

// LoginObserver is optionally implemented by an Observer that wants to hear
// about individual failed logins.
type LoginObserver interface {
	OnLoginFailure(credentialID string, outcome LoginOutcome)
}

// SnapshotObserver is optionally implemented by an Observer that wants stats
// and progress counters delivered together. When present it replaces the
// OnStats and OnProgress pair after each recorded result; current is
// stats.Processed.
type SnapshotObserver interface {
	OnSnapshot(stats Stats, total int)
}

// NopObserver ignores every notification and declines challenges.
type NopObserver struct{}

// OnProgress implements Observer.
func (NopObserver) OnProgress(int, int) {}

// OnStats implements Observer.
func (NopObserver) OnStats(Stats) {}

// OnResult implements Observer.
func (NopObserver) OnResult(TaskResult) {}

// OnChallenge implements Observer.
func (NopObserver) OnChallenge(context.Context, string) bool { return false }

// BlobStore writes run artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
