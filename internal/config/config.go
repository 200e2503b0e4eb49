// Package config loads and validates checker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/classifier"
	"github.com/JakeFAU/linkcheck/internal/policy/ratelimit"
	"github.com/JakeFAU/linkcheck/internal/session"
	"github.com/JakeFAU/linkcheck/internal/storage/gcs"
	"github.com/JakeFAU/linkcheck/internal/storage/local"
	"github.com/JakeFAU/linkcheck/internal/storage/postgres"
	"github.com/JakeFAU/linkcheck/internal/storage/redis"
	"github.com/JakeFAU/linkcheck/internal/worker"
)

// EnvPrefix prefixes every environment override, e.g. LINKCHECK_RUN_WORKERS.
const EnvPrefix = "LINKCHECK"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Run          RunConfig          `mapstructure:"run"`
	Credentials  CredentialsConfig  `mapstructure:"credentials"`
	Input        InputConfig        `mapstructure:"input"`
	Session      SessionConfig      `mapstructure:"session"`
	Classifier   classifier.Rules   `mapstructure:"classifier"`
	ProcessedLog ProcessedLogConfig `mapstructure:"processed_log"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Publish      PublishConfig      `mapstructure:"publish"`
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// RunConfig governs the worker pool and retry budgets.
type RunConfig struct {
	Input                   string        `mapstructure:"input"`
	Workers                 int           `mapstructure:"workers"`
	DelayMin                time.Duration `mapstructure:"delay_min"`
	DelayMax                time.Duration `mapstructure:"delay_max"`
	CredentialRetryInterval time.Duration `mapstructure:"credential_retry_interval"`
	MaxTaskAttempts         int           `mapstructure:"max_task_attempts"`
	MaxLoginAttempts        int           `mapstructure:"max_login_attempts"`
	LoginBackoffInitial     time.Duration `mapstructure:"login_backoff_initial"`
	LoginBackoffMax         time.Duration `mapstructure:"login_backoff_max"`
	RateLimitPolicy         string        `mapstructure:"rate_limit_policy"`
	Interactive             bool          `mapstructure:"interactive"`
}

// CredentialsConfig points at the account list. Accounts entries use the
// same "id:secret" form as the file.
type CredentialsConfig struct {
	File         string        `mapstructure:"file"`
	Accounts     []string      `mapstructure:"accounts"`
	RestDuration time.Duration `mapstructure:"rest_duration"`
}

// InputConfig controls link extraction.
type InputConfig struct {
	TargetDomains  []string `mapstructure:"target_domains"`
	TrackingParams []string `mapstructure:"tracking_params"`
}

// SessionConfig selects and tunes the browsing driver.
type SessionConfig struct {
	Driver         string           `mapstructure:"driver"`
	session.Config `mapstructure:",squash"`
	Throttle       ratelimit.Config `mapstructure:"throttle"`
}

// ProcessedLogConfig selects the resume log backend.
type ProcessedLogConfig struct {
	Backend  string          `mapstructure:"backend"`
	Path     string          `mapstructure:"path"`
	Redis    redis.Config    `mapstructure:"redis"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// StorageConfig selects where result artifacts are written.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// PublishConfig enables per-link notifications for working links.
type PublishConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the optional HTTP control surface.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap preset and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"input":       "run.input",
	"accounts":    "credentials.file",
	"workers":     "run.workers",
	"output":      "storage.local.base_dir",
	"interactive": "run.interactive",
	"driver":      "session.driver",
}

// Load builds a Config from defaults, an optional file, the environment, and
// any changed flags, in increasing precedence. With an empty path the file is
// looked up as linkcheck.{yaml,json,toml} in the working directory and
// $HOME/.linkcheck; not finding one is fine.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("linkcheck")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".linkcheck"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.workers", 3)
	v.SetDefault("run.delay_min", "2s")
	v.SetDefault("run.delay_max", "5s")
	v.SetDefault("run.credential_retry_interval", "5s")
	v.SetDefault("run.max_task_attempts", 3)
	v.SetDefault("run.max_login_attempts", 5)
	v.SetDefault("run.login_backoff_initial", "2s")
	v.SetDefault("run.login_backoff_max", "1m")
	v.SetDefault("run.rate_limit_policy", string(worker.RateLimitRequeueAndRest))
	v.SetDefault("run.interactive", false)

	v.SetDefault("credentials.file", "accounts.txt")
	v.SetDefault("credentials.rest_duration", "30m")

	v.SetDefault("input.target_domains", []string{"linkedin.com"})
	v.SetDefault("input.tracking_params", checker.DefaultTrackingParams)

	login := session.DefaultLoginConfig()
	v.SetDefault("session.driver", "headless")
	v.SetDefault("session.headless", true)
	v.SetDefault("session.user_agent", "")
	v.SetDefault("session.login_timeout", session.DefaultLoginTimeout.String())
	v.SetDefault("session.navigation_timeout", session.DefaultNavigationTimeout.String())
	v.SetDefault("session.settle_delay", session.DefaultSettleDelay.String())
	v.SetDefault("session.login.url", login.URL)
	v.SetDefault("session.login.username_selector", login.UsernameSelector)
	v.SetDefault("session.login.password_selector", login.PasswordSelector)
	v.SetDefault("session.login.submit_selector", login.SubmitSelector)
	v.SetDefault("session.login.username_field", login.UsernameField)
	v.SetDefault("session.login.password_field", login.PasswordField)
	v.SetDefault("session.login.success_markers", login.SuccessMarkers)
	v.SetDefault("session.login.challenge_markers", login.ChallengeMarkers)
	v.SetDefault("session.login.error_markers", login.ErrorMarkers)
	v.SetDefault("session.throttle.rps", 0)
	v.SetDefault("session.throttle.burst", 1)

	rules := classifier.DefaultRules()
	v.SetDefault("classifier.auth_wall_locations", rules.AuthWallLocations)
	v.SetDefault("classifier.rate_limit_markers", rules.RateLimitMarkers)
	v.SetDefault("classifier.already_entitled_markers", rules.AlreadyEntitledMarkers)
	v.SetDefault("classifier.unavailable_markers", rules.UnavailableMarkers)
	v.SetDefault("classifier.offer_markers", rules.OfferMarkers)
	v.SetDefault("classifier.action_markers", rules.ActionMarkers)
	v.SetDefault("classifier.offer_path_hints", rules.OfferPathHints)
	v.SetDefault("classifier.landing_locations", rules.LandingLocations)

	v.SetDefault("processed_log.backend", "file")
	v.SetDefault("processed_log.path", "processed_links.txt")
	v.SetDefault("processed_log.redis.addr", "localhost:6379")
	v.SetDefault("processed_log.redis.key", redis.DefaultKey)
	v.SetDefault("processed_log.postgres.table", postgres.DefaultTable)
	v.SetDefault("processed_log.postgres.max_conns", 4)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_dir", "results")
	v.SetDefault("storage.gcs.prefix", "linkcheck")

	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.driver", "pubsub")
	v.SetDefault("publish.topic", "working-links")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Run.Workers <= 0 {
		return fmt.Errorf("run.workers must be > 0")
	}
	if c.Run.DelayMin < 0 || c.Run.DelayMax < c.Run.DelayMin {
		return fmt.Errorf("run.delay_min must be >= 0 and <= run.delay_max")
	}
	if c.Run.MaxTaskAttempts < 0 || c.Run.MaxLoginAttempts < 0 {
		return fmt.Errorf("run attempt limits must be >= 0")
	}
	if !worker.RateLimitPolicy(c.Run.RateLimitPolicy).Valid() {
		return fmt.Errorf("run.rate_limit_policy %q is not one of requeue_and_rest, record_and_rest, record", c.Run.RateLimitPolicy)
	}
	if c.Credentials.File == "" && len(c.Credentials.Accounts) == 0 {
		return fmt.Errorf("credentials.file or credentials.accounts is required")
	}
	if c.Credentials.RestDuration <= 0 {
		return fmt.Errorf("credentials.rest_duration must be > 0")
	}
	if len(c.Input.TargetDomains) == 0 {
		return fmt.Errorf("input.target_domains must not be empty")
	}
	switch c.Session.Driver {
	case "headless", "http":
	default:
		return fmt.Errorf("session.driver %q is not one of headless, http", c.Session.Driver)
	}
	if err := c.Session.Login.Validate(); err != nil {
		return fmt.Errorf("session.login: %w", err)
	}
	if c.Session.Throttle.RPS < 0 {
		return fmt.Errorf("session.throttle.rps must be >= 0")
	}
	switch c.ProcessedLog.Backend {
	case "file":
		if c.ProcessedLog.Path == "" {
			return fmt.Errorf("processed_log.path is required for the file backend")
		}
	case "redis":
		if c.ProcessedLog.Redis.Addr == "" {
			return fmt.Errorf("processed_log.redis.addr is required for the redis backend")
		}
	case "postgres":
		if c.ProcessedLog.Postgres.DSN == "" {
			return fmt.Errorf("processed_log.postgres.dsn is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("processed_log.backend %q is not one of file, redis, postgres, memory", c.ProcessedLog.Backend)
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend)
	}
	if c.Publish.Enabled {
		switch c.Publish.Driver {
		case "pubsub":
			if c.Publish.ProjectID == "" {
				return fmt.Errorf("publish.project_id is required for the pubsub driver")
			}
		case "memory":
		default:
			return fmt.Errorf("publish.driver %q is not one of pubsub, memory", c.Publish.Driver)
		}
		if c.Publish.Topic == "" {
			return fmt.Errorf("publish.topic is required when publishing is enabled")
		}
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// WorkerConfig projects the run section onto the worker settings.
func (c Config) WorkerConfig() worker.Config {
	return worker.Config{
		DelayMin:                c.Run.DelayMin,
		DelayMax:                c.Run.DelayMax,
		CredentialRetryInterval: c.Run.CredentialRetryInterval,
		MaxTaskAttempts:         c.Run.MaxTaskAttempts,
		MaxLoginAttempts:        c.Run.MaxLoginAttempts,
		LoginBackoffInitial:     c.Run.LoginBackoffInitial,
		LoginBackoffMax:         c.Run.LoginBackoffMax,
		RateLimitPolicy:         worker.RateLimitPolicy(c.Run.RateLimitPolicy),
	}
}
