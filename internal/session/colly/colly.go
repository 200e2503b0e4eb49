// Package collysession implements sessions over plain HTTP with gocolly. It
// suits sites whose login form and offer pages render without JavaScript.
package collysession

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/session"
)

const maxRedirects = 10

// Factory builds HTTP sessions with isolated cookie jars.
type Factory struct {
	cfg session.Config
}

// NewFactory validates cfg.
func NewFactory(cfg session.Config) (*Factory, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Login.Validate(); err != nil {
		return nil, err
	}
	if cfg.Login.UsernameField == "" || cfg.Login.PasswordField == "" {
		return nil, fmt.Errorf("http login requires username and password field names")
	}
	return &Factory{cfg: cfg}, nil
}

// NewSession returns an unauthenticated session with an empty cookie jar.
func (f *Factory) NewSession(context.Context) (checker.Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.SetCookieJar(jar)
	c.WithTransport(newHTTPTransport())
	timeout := f.cfg.NavigationTimeout
	if f.cfg.LoginTimeout > timeout {
		timeout = f.cfg.LoginTimeout
	}
	c.SetRequestTimeout(timeout)
	return &Session{cfg: f.cfg, base: c}, nil
}

// Session is a cookie-jar-backed browsing context.
type Session struct {
	cfg  session.Config
	base *colly.Collector

	mu     sync.Mutex
	closed bool
}

type visit func(c *colly.Collector) error

// Login posts the credential to the login form and judges the landing page.
// A landing page that matches no marker but still sits on the login URL is
// treated as rejected credentials.
func (s *Session) Login(ctx context.Context, cred checker.Credential) (checker.LoginOutcome, error) {
	login := s.cfg.Login
	page, err := s.do(ctx, s.cfg.LoginTimeout, func(c *colly.Collector) error {
		return c.Post(login.URL, map[string]string{
			login.UsernameField: cred.ID,
			login.PasswordField: cred.Secret,
		})
	})
	if err != nil {
		if errors.Is(err, checker.ErrFetchTimeout) {
			return checker.LoginTimeout, err
		}
		return checker.LoginUnknown, err
	}
	if outcome, ok := login.Judge(page.Location, page.Content); ok {
		return outcome, nil
	}
	if samePath(page.Location, login.URL) {
		return checker.LoginBadCredentials, fmt.Errorf("login form returned without a session")
	}
	return checker.LoginUnknown, fmt.Errorf("unrecognized post-login page %s", page.Location)
}

// Navigate issues a GET for url with the session cookies.
func (s *Session) Navigate(ctx context.Context, url string) (checker.Page, error) {
	page, err := s.do(ctx, s.cfg.NavigationTimeout, func(c *colly.Collector) error {
		return c.Visit(url)
	})
	if err != nil {
		return checker.Page{}, err
	}
	page.RequestedURL = url
	return page, nil
}

// Close marks the session unusable. It is safe to call repeatedly.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Session) do(ctx context.Context, timeout time.Duration, run visit) (checker.Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return checker.Page{}, fmt.Errorf("%w: session closed", checker.ErrSessionDead)
	}

	var (
		page     checker.Page
		fetchErr error
		lastHop  string
	)
	c := s.base.Clone()
	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		lastHop = req.URL.String()
		return nil
	})
	c.OnResponse(func(r *colly.Response) {
		page.Location = r.Request.URL.String()
		page.StatusCode = r.StatusCode
		page.Content = string(r.Body)
	})
	c.OnHTML("title", func(e *colly.HTMLElement) {
		if page.Title == "" {
			page.Title = strings.TrimSpace(e.Text)
		}
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- run(c)
	}()

	select {
	case <-opCtx.Done():
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return checker.Page{}, fmt.Errorf("%w: after %s", checker.ErrFetchTimeout, timeout)
		}
		return checker.Page{}, fmt.Errorf("%w: colly fetch canceled: %v", checker.ErrFetchFailed, opCtx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			return checker.Page{}, classifyError(err)
		}
	}
	if lastHop != "" {
		page.Location = lastHop
	}
	return page, nil
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", checker.ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: colly visit failed: %v", checker.ErrFetchFailed, err)
}

func samePath(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return strings.EqualFold(ua.Host, ub.Host) && strings.TrimSuffix(ua.Path, "/") == strings.TrimSuffix(ub.Path, "/")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
