package checker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNormalizeStripsTrackingAndSortsQuery verifies equivalent links collapse to one form.
func TestNormalizeStripsTrackingAndSortsQuery(t *testing.T) {
	t.Parallel()

	e, err := NewExtractor(ExtractorConfig{TargetDomains: []string{"linkedin.com"}})
	require.NoError(t, err)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase host", "HTTPS://WWW.LinkedIn.com/premium/redeem?b=2&a=1", "https://www.linkedin.com/premium/redeem?a=1&b=2"},
		{"default port", "https://www.linkedin.com:443/gift", "https://www.linkedin.com/gift"},
		{"fragment", "https://www.linkedin.com/gift#top", "https://www.linkedin.com/gift"},
		{"tracking", "https://www.linkedin.com/gift?utm_source=x&trk=y&code=Z", "https://www.linkedin.com/gift?code=Z"},
		{"subdomain", "https://de.linkedin.com/gift", "https://de.linkedin.com/gift"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := e.Normalize(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

// TestNormalizeRejectsOffTargetHosts ensures other domains never become tasks.
func TestNormalizeRejectsOffTargetHosts(t *testing.T) {
	t.Parallel()

	e, err := NewExtractor(ExtractorConfig{TargetDomains: []string{"linkedin.com"}})
	require.NoError(t, err)

	_, err = e.Normalize("https://notlinkedin.com/gift")
	require.Error(t, err)
	_, err = e.Normalize("https://example.com/gift")
	require.Error(t, err)
}

// TestExtractKeepsLineNumbers checks comments, blanks, punctuation, and multi-URL lines.
func TestExtractKeepsLineNumbers(t *testing.T) {
	t.Parallel()

	e, err := NewExtractor(ExtractorConfig{TargetDomains: []string{"linkedin.com"}})
	require.NoError(t, err)

	input := strings.Join([]string{
		"# gifts from the newsletter",
		"",
		"first: https://www.linkedin.com/premium/redeem/gift?code=A, thanks!",
		"https://example.com/ignored https://www.linkedin.com/gift?code=B).",
		"   # https://www.linkedin.com/commented-out",
		"https://www.linkedin.com/premium/redeem/gift?code=A&utm_medium=email",
	}, "\n")

	tasks, err := e.Extract(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	require.Equal(t, "https://www.linkedin.com/premium/redeem/gift?code=A", tasks[0].URL)
	require.Equal(t, 3, tasks[0].LineNumber)
	require.Equal(t, "https://www.linkedin.com/gift?code=B", tasks[1].URL)
	require.Equal(t, 4, tasks[1].LineNumber)
	require.Equal(t, tasks[0].URL, tasks[2].URL)
	require.Equal(t, 6, tasks[2].LineNumber)
}

// TestNewExtractorRejectsPaths ensures target domains are plain hosts.
func TestNewExtractorRejectsPaths(t *testing.T) {
	t.Parallel()

	_, err := NewExtractor(ExtractorConfig{TargetDomains: []string{"linkedin.com/premium"}})
	require.Error(t, err)
}
