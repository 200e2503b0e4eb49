package classifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/linkcheck/internal/checker"
)

// Classifier evaluates Rules in a fixed order. It holds no mutable state and
// is safe for concurrent use.
type Classifier struct {
	authWall    []string
	rateLimit   []string
	entitled    []string
	unavailable []string
	offer       []string
	action      []string
	pathHints   []string
	landing     []string
}

// New lowercases and trims the rule markers. Empty markers are dropped.
func New(rules Rules) *Classifier {
	return &Classifier{
		authWall:    prepare(rules.AuthWallLocations),
		rateLimit:   prepare(rules.RateLimitMarkers),
		entitled:    prepare(rules.AlreadyEntitledMarkers),
		unavailable: prepare(rules.UnavailableMarkers),
		offer:       prepare(rules.OfferMarkers),
		action:      prepare(rules.ActionMarkers),
		pathHints:   prepare(rules.OfferPathHints),
		landing:     prepare(rules.LandingLocations),
	}
}

// Classify maps page to exactly one outcome.
func (c *Classifier) Classify(page checker.Page) checker.Classification {
	location := strings.ToLower(page.Location)
	if location == "" {
		location = strings.ToLower(page.RequestedURL)
	}
	text := strings.ToLower(page.Title + "\n" + page.Content)

	if m, ok := firstMatch(location, c.authWall); ok {
		return checker.Classification{
			Outcome: checker.OutcomeSessionLost,
			Detail:  fmt.Sprintf("redirected to login wall (%s)", m),
		}
	}
	if m, ok := firstMatch(text, c.rateLimit); ok {
		return checker.Classification{
			Outcome: checker.OutcomeRateLimit,
			Detail:  fmt.Sprintf("rate limit or security check detected (%q)", m),
		}
	}
	if _, ok := firstMatch(text, c.entitled); ok {
		return checker.Classification{Outcome: checker.OutcomeFailed, Detail: "account already has premium"}
	}
	if m, ok := firstMatch(text, c.unavailable); ok {
		return checker.Classification{
			Outcome: checker.OutcomeFailed,
			Detail:  fmt.Sprintf("offer unavailable (%q)", m),
		}
	}
	if m, ok := firstMatch(text, c.offer); ok {
		_, hasAction := firstMatch(text, c.action)
		_, hasPath := firstMatch(location, c.pathHints)
		confidence := checker.ConfidenceLow
		switch {
		case hasAction && hasPath:
			confidence = checker.ConfidenceHigh
		case hasAction || hasPath:
			confidence = checker.ConfidenceMedium
		}
		return checker.Classification{
			Outcome:    checker.OutcomeWorking,
			Detail:     fmt.Sprintf("offer indicators found (%q)", m),
			Confidence: confidence,
		}
	}
	if _, ok := firstMatch(location, c.landing); ok {
		return checker.Classification{Outcome: checker.OutcomeFailed, Detail: "redirected to feed, no offer"}
	}
	return checker.Classification{Outcome: checker.OutcomeFailed, Detail: "no offer indicators found"}
}

// ClassifyError maps a navigation failure to an outcome without a page.
func (c *Classifier) ClassifyError(err error) checker.Classification {
	switch {
	case errors.Is(err, checker.ErrSessionDead):
		return checker.Classification{Outcome: checker.OutcomeSessionLost, Detail: "session context lost"}
	case errors.Is(err, checker.ErrFetchTimeout):
		return checker.Classification{Outcome: checker.OutcomeError, Detail: "page load timed out"}
	default:
		return checker.Classification{Outcome: checker.OutcomeError, Detail: fmt.Sprintf("navigation failed: %v", err)}
	}
}

func prepare(markers []string) []string {
	out := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

func firstMatch(haystack string, markers []string) (string, bool) {
	if haystack == "" {
		return "", false
	}
	for _, m := range markers {
		if strings.Contains(haystack, m) {
			return m, true
		}
	}
	return "", false
}
