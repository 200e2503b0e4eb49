package headless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/session"
)

// TestClassifyRunError maps chromedp failures onto the session sentinels.
func TestClassifyRunError(t *testing.T) {
	t.Parallel()

	live := context.Background()
	dead, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancelExpired := context.WithTimeout(context.Background(), -time.Second)
	defer cancelExpired()

	require.ErrorIs(t, classifyRunError(live, dead, errors.New("boom")), checker.ErrSessionDead)
	require.ErrorIs(t, classifyRunError(live, live, chromedp.ErrInvalidContext), checker.ErrSessionDead)
	require.ErrorIs(t, classifyRunError(expired, live, errors.New("waiting")), checker.ErrFetchTimeout)
	require.ErrorIs(t, classifyRunError(live, live, context.DeadlineExceeded), checker.ErrFetchTimeout)
	require.ErrorIs(t, classifyRunError(live, live, errors.New("net::ERR_NAME_NOT_RESOLVED")), checker.ErrFetchFailed)
}

// TestResponseMetaTracksDocumentStatus ignores sub-resource responses.
func TestResponseMetaTracksDocumentStatus(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 429},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404},
	})
	meta.captureEvent("not an event")
	require.Equal(t, 429, meta.status())
}

// TestNewFactoryValidatesLoginForm rejects configs without selectors.
func TestNewFactoryValidatesLoginForm(t *testing.T) {
	t.Parallel()

	_, err := NewFactory(session.Config{Login: session.LoginConfig{
		URL:            "https://example.com/login",
		SuccessMarkers: []string{"/home"},
	}}, nil)
	require.Error(t, err)

	f, err := NewFactory(session.Config{Headless: true}, nil)
	require.NoError(t, err)
	require.Equal(t, session.DefaultNavigationTimeout, f.cfg.NavigationTimeout)
	f.Close()
}
