package checker

import (
	"encoding/json"
	"fmt"
	"time"
)

// Credential is an account used to authenticate a Session. The secret is never
// logged or serialized.
type Credential struct {
	ID            string
	Secret        string
	CooldownUntil time.Time
}

// String hides the secret from fmt verbs.
func (c Credential) String() string {
	return c.ID
}

// Resting reports whether the credential is still cooling down at now.
func (c Credential) Resting(now time.Time) bool {
	return !c.CooldownUntil.IsZero() && now.Before(c.CooldownUntil)
}

// Task is one normalized URL to check. Tasks are values; requeueing produces a
// copy with Attempt incremented.
type Task struct {
	URL        string `json:"url"`
	LineNumber int    `json:"line_number"`
	Source     string `json:"source,omitempty"`
	Attempt    int    `json:"attempt"`
}

// Retry returns the copy of t used when the task goes back on the queue.
func (t Task) Retry() Task {
	t.Attempt++
	return t
}

// Outcome is the terminal or transient classification of a Task.
type Outcome int

// Supported task outcomes.
const (
	OutcomeWorking Outcome = iota + 1
	OutcomeFailed
	OutcomeRateLimit
	OutcomeSessionLost
	OutcomeError
)

var outcomeNames = map[Outcome]string{
	OutcomeWorking:     "WORKING",
	OutcomeFailed:      "FAILED",
	OutcomeRateLimit:   "RATE_LIMIT",
	OutcomeSessionLost: "SESSION_LOST",
	OutcomeError:       "ERROR",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MarshalJSON encodes the outcome by name.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes an outcome name.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("decode outcome: %w", err)
	}
	for value, candidate := range outcomeNames {
		if candidate == name {
			*o = value
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", name)
}

// LoginOutcome is the result of a Session login attempt.
type LoginOutcome int

// Supported login outcomes.
const (
	LoginSuccess LoginOutcome = iota + 1
	LoginBadCredentials
	LoginChallenge
	LoginTimeout
	LoginUnknown
)

func (o LoginOutcome) String() string {
	switch o {
	case LoginSuccess:
		return "SUCCESS"
	case LoginBadCredentials:
		return "FAIL_BAD_CREDENTIALS"
	case LoginChallenge:
		return "FAIL_CHALLENGE"
	case LoginTimeout:
		return "FAIL_TIMEOUT"
	case LoginUnknown:
		return "FAIL_UNKNOWN"
	default:
		return fmt.Sprintf("LoginOutcome(%d)", int(o))
	}
}

// Confidence grades how strongly a WORKING page matched the offer rules.
type Confidence string

// Supported confidence tiers.
const (
	ConfidenceNone   Confidence = ""
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Page is what a Session observed after navigating to a URL.
type Page struct {
	RequestedURL string
	Location     string
	Title        string
	Content      string
	StatusCode   int
}

// Classification is the classifier verdict for a Page or fetch error.
type Classification struct {
	Outcome    Outcome
	Detail     string
	Confidence Confidence
}

// TaskResult is the recorded terminal outcome for one Task. ResolvedLocation
// is where navigation ended up; Error carries the fetch failure, if any.
type TaskResult struct {
	URL              string     `json:"url"`
	LineNumber       int        `json:"line_number"`
	Outcome          Outcome    `json:"status"`
	Detail           string     `json:"detail"`
	Confidence       Confidence `json:"confidence,omitempty"`
	ResolvedLocation string     `json:"resolved_location,omitempty"`
	Error            string     `json:"error,omitempty"`
	CredentialID     string     `json:"account"`
	Attempts         int        `json:"attempts"`
	Timestamp        time.Time  `json:"timestamp"`
}

// Stats counts recorded results. Every recorded result increments Processed
// and exactly one outcome counter; LoginFailed is tracked independently.
type Stats struct {
	Processed   int `json:"total_processed"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	RateLimited int `json:"rate_limited"`
	LoginFailed int `json:"login_failed"`
	Errored     int `json:"errors"`
}
