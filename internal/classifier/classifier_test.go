package classifier

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcheck/internal/checker"
)

const giftURL = "https://www.linkedin.com/premium/redeem/gift?code=abc"

// TestClassifyRuleOrder walks the rule table, including overlaps that prove first-match-wins.
func TestClassifyRuleOrder(t *testing.T) {
	t.Parallel()

	c := New(DefaultRules())
	tests := []struct {
		name       string
		page       checker.Page
		want       checker.Outcome
		confidence checker.Confidence
	}{
		{
			name: "auth wall beats offer text",
			page: checker.Page{Location: "https://www.linkedin.com/authwall?trk=x", Content: "Claim your gift"},
			want: checker.OutcomeSessionLost,
		},
		{
			name: "rate limit beats offer text",
			page: checker.Page{Location: giftURL, Title: "Security Verification", Content: "claim your gift"},
			want: checker.OutcomeRateLimit,
		},
		{
			name: "already premium",
			page: checker.Page{Location: giftURL, Content: "You're already a Premium member. Claim your gift later."},
			want: checker.OutcomeFailed,
		},
		{
			name: "expired",
			page: checker.Page{Location: giftURL, Content: "Sorry, this offer isn't available"},
			want: checker.OutcomeFailed,
		},
		{
			name:       "offer with action and path",
			page:       checker.Page{Location: giftURL, Content: "Claim your gift. <button>Start free trial</button>"},
			want:       checker.OutcomeWorking,
			confidence: checker.ConfidenceHigh,
		},
		{
			name:       "offer with path only",
			page:       checker.Page{Location: giftURL, Content: "Start your free month"},
			want:       checker.OutcomeWorking,
			confidence: checker.ConfidenceMedium,
		},
		{
			name:       "offer alone",
			page:       checker.Page{Location: "https://www.linkedin.com/premium/products", Content: "Try Premium for free"},
			want:       checker.OutcomeWorking,
			confidence: checker.ConfidenceLow,
		},
		{
			name: "landed on feed",
			page: checker.Page{Location: "https://www.linkedin.com/feed/", Content: "home"},
			want: checker.OutcomeFailed,
		},
		{
			name: "nothing matched",
			page: checker.Page{Location: "https://www.linkedin.com/in/someone", Content: "profile"},
			want: checker.OutcomeFailed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := c.Classify(tc.page)
			require.Equal(t, tc.want, got.Outcome, got.Detail)
			require.Equal(t, tc.confidence, got.Confidence)
			require.NotEmpty(t, got.Detail)
		})
	}
}

// TestClassifyFallsBackToRequestedURL uses the requested URL when no location was captured.
func TestClassifyFallsBackToRequestedURL(t *testing.T) {
	t.Parallel()

	c := New(DefaultRules())
	got := c.Classify(checker.Page{RequestedURL: "https://www.linkedin.com/login", Content: ""})
	require.Equal(t, checker.OutcomeSessionLost, got.Outcome)
}

// TestClassifyCustomRules confirms the table is data, not code.
func TestClassifyCustomRules(t *testing.T) {
	t.Parallel()

	c := New(Rules{OfferMarkers: []string{"  Bonus Ready "}, RateLimitMarkers: []string{""}})
	got := c.Classify(checker.Page{Location: "https://example.com/x", Content: "your BONUS READY today"})
	require.Equal(t, checker.OutcomeWorking, got.Outcome)
	require.Equal(t, checker.ConfidenceLow, got.Confidence)
}

// TestClassifyError maps navigation failures.
func TestClassifyError(t *testing.T) {
	t.Parallel()

	c := New(DefaultRules())
	require.Equal(t, checker.OutcomeSessionLost,
		c.ClassifyError(fmt.Errorf("navigate: %w", checker.ErrSessionDead)).Outcome)
	require.Equal(t, checker.OutcomeError,
		c.ClassifyError(fmt.Errorf("navigate: %w", checker.ErrFetchTimeout)).Outcome)
	got := c.ClassifyError(errors.New("connection reset"))
	require.Equal(t, checker.OutcomeError, got.Outcome)
	require.Contains(t, got.Detail, "connection reset")
}
