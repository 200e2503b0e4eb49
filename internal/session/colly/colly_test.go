package collysession

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/session"
)

const sessionCookie = "li_at"

func newGiftSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	authed := func(r *http.Request) bool {
		c, err := r.Cookie(sessionCookie)
		return err == nil && c.Value == "ok"
	}
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			fmt.Fprint(w, `<html><title>Sign in</title><form></form></html>`)
			return
		}
		switch {
		case r.FormValue("session_key") == "challenged@example.com":
			http.Redirect(w, r, "/checkpoint/challenge/1", http.StatusFound)
		case r.FormValue("session_password") == "right":
			http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "ok", Path: "/"})
			http.Redirect(w, r, "/feed/", http.StatusFound)
		case r.FormValue("session_password") == "silent":
			fmt.Fprint(w, `<html><title>Sign in</title></html>`)
		default:
			fmt.Fprint(w, `<html><p>Wrong email or password. Try again.</p></html>`)
		}
	})
	mux.HandleFunc("/feed/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><title>Feed</title></html>`)
	})
	mux.HandleFunc("/checkpoint/challenge/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><title>Security check</title></html>`)
	})
	mux.HandleFunc("/authwall", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><title>Join now</title></html>`)
	})
	mux.HandleFunc("/premium/redeem/gift", func(w http.ResponseWriter, r *http.Request) {
		if !authed(r) {
			http.Redirect(w, r, "/authwall", http.StatusFound)
			return
		}
		fmt.Fprint(w, `<html><title> Premium gift </title><h1>Claim your gift</h1><button>Redeem</button></html>`)
	})
	mux.HandleFunc("/throttled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `<html>Too many requests</html>`)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFactory(t *testing.T, srv *httptest.Server) *Factory {
	t.Helper()
	login := session.DefaultLoginConfig()
	login.URL = srv.URL + "/login"
	f, err := NewFactory(session.Config{
		LoginTimeout:      2 * time.Second,
		NavigationTimeout: 300 * time.Millisecond,
		Login:             login,
	})
	require.NoError(t, err)
	return f
}

// TestSessionLoginOutcomes drives each login branch against a fake site.
func TestSessionLoginOutcomes(t *testing.T) {
	t.Parallel()

	srv := newGiftSite(t)
	f := newFactory(t, srv)

	tests := []struct {
		name string
		cred checker.Credential
		want checker.LoginOutcome
	}{
		{"success", checker.Credential{ID: "alice@example.com", Secret: "right"}, checker.LoginSuccess},
		{"bad password", checker.Credential{ID: "alice@example.com", Secret: "nope"}, checker.LoginBadCredentials},
		{"silent rejection", checker.Credential{ID: "alice@example.com", Secret: "silent"}, checker.LoginBadCredentials},
		{"challenge", checker.Credential{ID: "challenged@example.com", Secret: "right"}, checker.LoginChallenge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sess, err := f.NewSession(context.Background())
			require.NoError(t, err)
			defer func() {
				require.NoError(t, sess.Close())
			}()
			got, _ := sess.Login(context.Background(), tc.cred)
			require.Equal(t, tc.want, got)
		})
	}
}

// TestSessionKeepsCookiesAcrossNavigations checks the login cookie authorizes later visits.
func TestSessionKeepsCookiesAcrossNavigations(t *testing.T) {
	t.Parallel()

	srv := newGiftSite(t)
	f := newFactory(t, srv)
	ctx := context.Background()

	anon, err := f.NewSession(ctx)
	require.NoError(t, err)
	page, err := anon.Navigate(ctx, srv.URL+"/premium/redeem/gift")
	require.NoError(t, err)
	require.Contains(t, page.Location, "/authwall")

	sess, err := f.NewSession(ctx)
	require.NoError(t, err)
	outcome, err := sess.Login(ctx, checker.Credential{ID: "alice@example.com", Secret: "right"})
	require.NoError(t, err)
	require.Equal(t, checker.LoginSuccess, outcome)

	page, err = sess.Navigate(ctx, srv.URL+"/premium/redeem/gift")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/premium/redeem/gift", page.RequestedURL)
	require.Equal(t, "Premium gift", page.Title)
	require.Contains(t, page.Content, "Claim your gift")
	require.Equal(t, http.StatusOK, page.StatusCode)
}

// TestSessionNavigateErrors covers error statuses, timeouts, and closed sessions.
func TestSessionNavigateErrors(t *testing.T) {
	t.Parallel()

	srv := newGiftSite(t)
	f := newFactory(t, srv)
	ctx := context.Background()
	sess, err := f.NewSession(ctx)
	require.NoError(t, err)

	page, err := sess.Navigate(ctx, srv.URL+"/throttled")
	require.NoError(t, err, "error statuses still produce a page for classification")
	require.Equal(t, http.StatusTooManyRequests, page.StatusCode)

	_, err = sess.Navigate(ctx, srv.URL+"/slow")
	require.ErrorIs(t, err, checker.ErrFetchTimeout)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	_, err = sess.Navigate(ctx, srv.URL+"/feed/")
	require.ErrorIs(t, err, checker.ErrSessionDead)
}

// TestNewFactoryRequiresFieldNames rejects forms the HTTP driver cannot fill.
func TestNewFactoryRequiresFieldNames(t *testing.T) {
	t.Parallel()

	login := session.DefaultLoginConfig()
	login.UsernameField = ""
	_, err := NewFactory(session.Config{Login: login})
	require.Error(t, err)
}
