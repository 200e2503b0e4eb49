// Package session holds configuration shared by the browsing drivers and the
// rules that decide how a login attempt ended.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/linkcheck/internal/checker"
)

// Defaults applied when a Config leaves a field unset.
const (
	DefaultLoginTimeout      = 30 * time.Second
	DefaultNavigationTimeout = 45 * time.Second
	DefaultSettleDelay       = 500 * time.Millisecond
)

// Config controls how sessions log in and load pages.
type Config struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Headless          bool          `mapstructure:"headless"`
	LoginTimeout      time.Duration `mapstructure:"login_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	Login             LoginConfig   `mapstructure:"login"`
}

// WithDefaults fills unset timeouts and the login form description.
func (c Config) WithDefaults() Config {
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = DefaultLoginTimeout
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.Login.URL == "" {
		c.Login = DefaultLoginConfig()
	}
	return c
}

// LoginConfig describes the login form and the markers that identify how a
// submission ended. Selectors drive the browser driver; field names drive
// the HTTP driver.
type LoginConfig struct {
	URL              string   `mapstructure:"url"`
	UsernameSelector string   `mapstructure:"username_selector"`
	PasswordSelector string   `mapstructure:"password_selector"`
	SubmitSelector   string   `mapstructure:"submit_selector"`
	UsernameField    string   `mapstructure:"username_field"`
	PasswordField    string   `mapstructure:"password_field"`
	SuccessMarkers   []string `mapstructure:"success_markers"`
	ChallengeMarkers []string `mapstructure:"challenge_markers"`
	ErrorMarkers     []string `mapstructure:"error_markers"`
}

// DefaultLoginConfig targets the LinkedIn sign-in form.
func DefaultLoginConfig() LoginConfig {
	return LoginConfig{
		URL:              "https://www.linkedin.com/login",
		UsernameSelector: "#username",
		PasswordSelector: "#password",
		SubmitSelector:   `button[type="submit"]`,
		UsernameField:    "session_key",
		PasswordField:    "session_password",
		SuccessMarkers:   []string{"/feed"},
		ChallengeMarkers: []string{"/checkpoint", "/challenge"},
		ErrorMarkers: []string{
			"wrong email or password",
			"that's not the right password",
			"couldn't find a linkedin account",
			"please enter a valid",
		},
	}
}

// Validate checks the fields both drivers need.
func (c LoginConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("login url is required")
	}
	if len(c.SuccessMarkers) == 0 {
		return fmt.Errorf("at least one login success marker is required")
	}
	return nil
}

// Judge maps the page reached after submitting the form to a login outcome.
// ok is false while the outcome is still undetermined.
func (c LoginConfig) Judge(location, content string) (checker.LoginOutcome, bool) {
	location = strings.ToLower(location)
	if containsAny(location, c.SuccessMarkers) {
		return checker.LoginSuccess, true
	}
	if containsAny(location, c.ChallengeMarkers) {
		return checker.LoginChallenge, true
	}
	if containsAny(strings.ToLower(content), c.ErrorMarkers) {
		return checker.LoginBadCredentials, true
	}
	return 0, false
}

func containsAny(haystack string, markers []string) bool {
	if haystack == "" {
		return false
	}
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" && strings.Contains(haystack, m) {
			return true
		}
	}
	return false
}
