// Package app builds a run from configuration. It acts as the dependency
// injection container between the config layer and the dispatcher.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/linkcheck/internal/api"
	"github.com/JakeFAU/linkcheck/internal/checker"
	"github.com/JakeFAU/linkcheck/internal/classifier"
	"github.com/JakeFAU/linkcheck/internal/clock/system"
	"github.com/JakeFAU/linkcheck/internal/config"
	"github.com/JakeFAU/linkcheck/internal/credentials"
	"github.com/JakeFAU/linkcheck/internal/dispatcher"
	"github.com/JakeFAU/linkcheck/internal/id/uuid"
	"github.com/JakeFAU/linkcheck/internal/logging"
	"github.com/JakeFAU/linkcheck/internal/metrics"
	"github.com/JakeFAU/linkcheck/internal/policy/ratelimit"
	"github.com/JakeFAU/linkcheck/internal/progress"
	"github.com/JakeFAU/linkcheck/internal/progress/sinks"
	memorypub "github.com/JakeFAU/linkcheck/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/linkcheck/internal/publisher/pubsub"
	"github.com/JakeFAU/linkcheck/internal/results"
	collysession "github.com/JakeFAU/linkcheck/internal/session/colly"
	"github.com/JakeFAU/linkcheck/internal/session/headless"
	"github.com/JakeFAU/linkcheck/internal/storage/gcs"
	"github.com/JakeFAU/linkcheck/internal/storage/local"
	"github.com/JakeFAU/linkcheck/internal/storage/memory"
	"github.com/JakeFAU/linkcheck/internal/storage/postgres"
	"github.com/JakeFAU/linkcheck/internal/storage/redis"
	"github.com/JakeFAU/linkcheck/internal/worker"
)

// StdinInput is the run.input value that reads links from Options.Stdin.
const StdinInput = "-"

// Options carries process-level collaborators. Everything is optional;
// Sessions and Publisher replace the configured drivers when set.
type Options struct {
	Logger    *zap.Logger
	Stdin     io.Reader
	Prompt    progress.Prompt
	Sessions  checker.SessionFactory
	Publisher checker.Publisher
	Clock     checker.Clock
	IDs       checker.IDGenerator
}

// App holds the long-lived services of one run.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	runID    string
	tasks    []checker.Task
	registry *prometheus.Registry

	pool       *credentials.Pool
	dispatcher *dispatcher.Dispatcher
	hub        *progress.Hub
	reporter   *progress.Reporter
	server     *api.Server

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// New wires every service named by cfg. On error, anything already opened is
// closed before returning.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	if opts.Logger == nil {
		opts.Logger, err = logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, err
		}
	}
	if opts.Clock == nil {
		opts.Clock = system.New()
	}
	if opts.IDs == nil {
		opts.IDs = uuid.NewUUIDGenerator()
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}

	runID, err := opts.IDs.NewID()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logging.ForRun(opts.Logger, runID),
		runID:    runID,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.closeAll()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err = a.loadTasks(opts.Stdin); err != nil {
		return nil, err
	}

	creds, err := credentials.Load(cfg.Credentials.File, cfg.Credentials.Accounts)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	a.pool = credentials.NewPool(creds, cfg.Credentials.RestDuration, opts.Clock)

	processed, err := a.openProcessedLog(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.openBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	sessions := opts.Sessions
	if sessions == nil {
		if sessions, err = a.openSessions(); err != nil {
			return nil, err
		}
	}

	hubSinks, err := a.buildSinks(ctx, opts.Publisher)
	if err != nil {
		return nil, err
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger}, hubSinks...)

	var prompt progress.Prompt
	if cfg.Run.Interactive {
		prompt = opts.Prompt
	}
	a.reporter = progress.NewReporter(a.hub, progress.ReporterConfig{
		RunID:  runID,
		Clock:  opts.Clock,
		Prompt: prompt,
	})

	a.dispatcher = dispatcher.New(
		dispatcher.Config{RunID: runID, Workers: cfg.Run.Workers, Worker: cfg.WorkerConfig()},
		dispatcher.Dependencies{
			Pool:         a.pool,
			Sessions:     sessions,
			Classifier:   classifier.New(cfg.Classifier),
			ProcessedLog: processed,
			Results:      results.NewWriter(store, a.logger),
			Observer:     a.reporter,
			Throttle:     a.buildThrottle(),
			Clock:        opts.Clock,
			IDs:          opts.IDs,
			Logger:       opts.Logger,
		},
	)

	if cfg.Server.Enabled {
		httpMetrics, mErr := metrics.NewHTTP(a.registry)
		if mErr != nil {
			return nil, fmt.Errorf("register http metrics: %w", mErr)
		}
		a.server = api.NewServer(a.dispatcher, a.registry, httpMetrics, api.Config{
			Port:   cfg.Server.Port,
			APIKey: cfg.Server.APIKey,
		}, a.logger)
	}

	a.logger.Info("run prepared",
		zap.Int("tasks", len(a.tasks)),
		zap.Int("credentials", a.pool.Size()),
		zap.Int("workers", cfg.Run.Workers),
		zap.String("session_driver", cfg.Session.Driver),
		zap.String("processed_log", cfg.ProcessedLog.Backend),
		zap.String("storage", cfg.Storage.Backend),
	)
	return a, nil
}

// RunID identifies this run in logs, events, and artifacts.
func (a *App) RunID() string { return a.runID }

// Tasks returns the extracted tasks in input order.
func (a *App) Tasks() []checker.Task { return a.tasks }

// Dispatcher exposes the run controls.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatcher }

// Registry is the Prometheus registry the run reports into.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Run executes the check and, when enabled, serves the control API until
// the run finishes. The final RUN_DONE event is emitted before returning.
func (a *App) Run(ctx context.Context) (dispatcher.Report, error) {
	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if a.server != nil {
		addr := ":" + strconv.Itoa(a.cfg.Server.Port)
		g.Go(func() error {
			return a.server.ListenAndServe(serverCtx, addr)
		})
	}

	var report dispatcher.Report
	g.Go(func() error {
		defer stopServer()
		var err error
		report, err = a.dispatcher.Run(gctx, a.tasks)
		if err != nil {
			return err
		}
		a.reporter.Finish(report.Stats, report.Reason)
		return nil
	})

	if err := g.Wait(); err != nil {
		return report, err
	}
	a.logger.Info("run finished",
		zap.String("reason", report.Reason),
		zap.Int("succeeded", report.Stats.Succeeded),
		zap.Int("processed", report.Stats.Processed),
		zap.String("working_links", report.Artifacts.WorkingLinks),
		zap.String("detailed_results", report.Artifacts.Detailed),
	)
	return report, nil
}

// Close flushes progress sinks and releases every backend.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	errs = append(errs, a.closeAll())
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

func (a *App) loadTasks(stdin io.Reader) error {
	extractor, err := checker.NewExtractor(checker.ExtractorConfig{
		TargetDomains:  a.cfg.Input.TargetDomains,
		TrackingParams: a.cfg.Input.TrackingParams,
	})
	if err != nil {
		return fmt.Errorf("build extractor: %w", err)
	}

	var in io.Reader
	switch a.cfg.Run.Input {
	case "":
		return fmt.Errorf("run.input is required")
	case StdinInput:
		in = stdin
	default:
		// #nosec G304 -- input path comes from operator configuration.
		f, err := os.Open(a.cfg.Run.Input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		in = f
	}

	tasks, err := extractor.Extract(in)
	if err != nil {
		return fmt.Errorf("extract links: %w", err)
	}
	a.tasks = tasks
	return nil
}

func (a *App) openProcessedLog(ctx context.Context) (checker.ProcessedLog, error) {
	cfg := a.cfg.ProcessedLog
	switch cfg.Backend {
	case "file":
		l, err := local.OpenProcessedLog(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open processed log: %w", err)
		}
		a.onClose("processed log", l.Close)
		return l, nil
	case "redis":
		l, err := redis.New(ctx, cfg.Redis, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open redis processed log: %w", err)
		}
		a.onClose("redis processed log", l.Close)
		return l, nil
	case "postgres":
		l, err := postgres.New(ctx, cfg.Postgres, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres processed log: %w", err)
		}
		a.onClose("postgres processed log", l.Close)
		return l, nil
	case "memory":
		return memory.NewProcessedLog(), nil
	default:
		return nil, fmt.Errorf("unknown processed log backend %q", cfg.Backend)
	}
}

func (a *App) openBlobStore(ctx context.Context) (checker.BlobStore, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case "local":
		s, err := local.New(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		return s, nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose("gcs client", client.Close)
		s, err := gcs.New(client, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("open gcs store: %w", err)
		}
		return s, nil
	case "memory":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func (a *App) openSessions() (checker.SessionFactory, error) {
	cfg := a.cfg.Session
	switch cfg.Driver {
	case "headless":
		f, err := headless.NewFactory(cfg.Config, a.logger)
		if err != nil {
			return nil, fmt.Errorf("create headless sessions: %w", err)
		}
		a.onClose("browser allocator", func() error {
			f.Close()
			return nil
		})
		return f, nil
	case "http":
		f, err := collysession.NewFactory(cfg.Config)
		if err != nil {
			return nil, fmt.Errorf("create http sessions: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", cfg.Driver)
	}
}

func (a *App) buildThrottle() worker.Throttle {
	cfg := a.cfg.Session.Throttle
	if cfg.RPS <= 0 {
		return nil
	}
	log := a.logger.Named("throttle")
	cfg.OnDelay = func(host string, waited time.Duration) {
		log.Debug("navigation delayed", zap.String("host", host), zap.Duration("waited", waited))
	}
	return ratelimit.New(cfg)
}

func (a *App) buildSinks(ctx context.Context, pub checker.Publisher) ([]progress.Sink, error) {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("register progress metrics: %w", err)
	}
	out := []progress.Sink{sinks.NewLogSink(a.logger), promSink}

	cfg := a.cfg.Publish
	if !cfg.Enabled {
		return out, nil
	}
	if pub == nil {
		switch cfg.Driver {
		case "pubsub":
			p, err := pubsubpub.Dial(ctx, cfg.ProjectID, cfg.Topic)
			if err != nil {
				return nil, fmt.Errorf("connect pubsub: %w", err)
			}
			a.onClose("pubsub publisher", p.Close)
			pub = p
		case "memory":
			pub = memorypub.New()
		default:
			return nil, fmt.Errorf("unknown publish driver %q", cfg.Driver)
		}
	}
	return append(out, sinks.NewPublishSink(pub, cfg.Topic, a.logger)), nil
}
