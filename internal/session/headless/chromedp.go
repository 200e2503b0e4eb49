// Package headless drives a real Chrome instance through chromedp. Every
// session owns its own browser, so cookies and login state never leak between
// credentials.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/session"
)

const loginPollInterval = 500 * time.Millisecond

// Factory launches browsers from a shared allocator.
type Factory struct {
	cfg         session.Config
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewFactory prepares the exec allocator. No browser starts until
// NewSession is called.
func NewFactory(cfg session.Config, logger *zap.Logger) (*Factory, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Login.Validate(); err != nil {
		return nil, err
	}
	if cfg.Login.UsernameSelector == "" || cfg.Login.PasswordSelector == "" || cfg.Login.SubmitSelector == "" {
		return nil, fmt.Errorf("headless login requires username, password, and submit selectors")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Factory{
		cfg:         cfg,
		logger:      logger.Named("headless"),
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the allocator and any browser still attached to it.
func (f *Factory) Close() {
	f.allocCancel()
}

// NewSession starts a fresh browser. The browser lives until the session is
// closed, independent of ctx.
func (f *Factory) NewSession(ctx context.Context) (checker.Session, error) {
	browserCtx, cancel := chromedp.NewContext(f.allocator)
	meta := &responseMeta{}
	chromedp.ListenTarget(browserCtx, meta.captureEvent)

	startCtx, startCancel := context.WithTimeout(browserCtx, f.cfg.LoginTimeout)
	defer startCancel()
	stop := context.AfterFunc(ctx, startCancel)
	defer stop()
	if err := chromedp.Run(startCtx, f.setupAction()); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &Session{
		cfg:        f.cfg,
		logger:     f.logger,
		browserCtx: browserCtx,
		cancel:     cancel,
		meta:       meta,
	}, nil
}

func (f *Factory) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Session is one browser bound to one credential.
type Session struct {
	cfg        session.Config
	logger     *zap.Logger
	browserCtx context.Context
	cancel     context.CancelFunc
	meta       *responseMeta
	closeOnce  sync.Once
}

// Login fills and submits the login form, then polls the location until the
// outcome is known or the login timeout passes.
func (s *Session) Login(ctx context.Context, cred checker.Credential) (checker.LoginOutcome, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.LoginTimeout)
	defer cancel()

	login := s.cfg.Login
	err := chromedp.Run(opCtx,
		chromedp.Navigate(login.URL),
		chromedp.WaitVisible(login.UsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(login.UsernameSelector, cred.ID, chromedp.ByQuery),
		chromedp.SendKeys(login.PasswordSelector, cred.Secret, chromedp.ByQuery),
		chromedp.Click(login.SubmitSelector, chromedp.ByQuery),
	)
	if err != nil {
		return s.loginFailure(opCtx, fmt.Errorf("submit login form: %w", err))
	}
	return s.awaitLogin(opCtx)
}

// VerifyLogin re-checks the current page after a human handled a challenge.
func (s *Session) VerifyLogin(ctx context.Context) (checker.LoginOutcome, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.LoginTimeout)
	defer cancel()
	location, content, err := s.snapshot(opCtx)
	if err != nil {
		return s.loginFailure(opCtx, err)
	}
	if outcome, ok := s.cfg.Login.Judge(location, content); ok {
		return outcome, nil
	}
	return checker.LoginChallenge, fmt.Errorf("login still pending at %s", location)
}

func (s *Session) awaitLogin(ctx context.Context) (checker.LoginOutcome, error) {
	ticker := time.NewTicker(loginPollInterval)
	defer ticker.Stop()
	for {
		location, content, err := s.snapshot(ctx)
		if err != nil {
			return s.loginFailure(ctx, err)
		}
		if outcome, ok := s.cfg.Login.Judge(location, content); ok {
			return outcome, nil
		}
		select {
		case <-ctx.Done():
			return checker.LoginTimeout, fmt.Errorf("login undecided at %s: %w", location, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Session) snapshot(ctx context.Context) (string, string, error) {
	var location, content string
	err := chromedp.Run(ctx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &content, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("read page state: %w", err)
	}
	return location, content, nil
}

func (s *Session) loginFailure(opCtx context.Context, err error) (checker.LoginOutcome, error) {
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return checker.LoginTimeout, err
	}
	return checker.LoginUnknown, err
}

// Navigate loads url, waits for the body, and captures location, title, and
// DOM.
func (s *Session) Navigate(ctx context.Context, url string) (checker.Page, error) {
	opCtx, cancel := s.opContext(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	var location, title, html string
	err := chromedp.Run(opCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return checker.Page{}, classifyRunError(opCtx, s.browserCtx, err)
	}
	return checker.Page{
		RequestedURL: url,
		Location:     location,
		Title:        title,
		Content:      html,
		StatusCode:   s.meta.status(),
	}, nil
}

// Close shuts the browser down. It is safe to call repeatedly.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(s.browserCtx, 5*time.Second)
		defer cancel()
		if cerr := chromedp.Cancel(closeCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = fmt.Errorf("close browser: %w", cerr)
		}
		s.cancel()
	})
	return err
}

// opContext derives a timeout context from the browser and ends it early if
// the caller's ctx ends.
func (s *Session) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func classifyRunError(opCtx, browserCtx context.Context, err error) error {
	switch {
	case browserCtx.Err() != nil,
		errors.Is(err, chromedp.ErrInvalidContext),
		errors.Is(err, chromedp.ErrChannelClosed):
		return fmt.Errorf("%w: %v", checker.ErrSessionDead, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(opCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", checker.ErrFetchTimeout, err)
	default:
		return fmt.Errorf("%w: chromedp run: %v", checker.ErrFetchFailed, err)
	}
}

type responseMeta struct {
	mu   sync.RWMutex
	code int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.code = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}
