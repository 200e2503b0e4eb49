package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcheck/internal/checker"
)

var _ checker.Clock = Clock{}

// TestClockNowTracksWallTime verifies Now stays within the surrounding reads.
func TestClockNowTracksWallTime(t *testing.T) {
	t.Parallel()

	before := time.Now()
	got := New().Now()
	after := time.Now()

	require.False(t, got.Before(before))
	require.False(t, got.After(after))
}
