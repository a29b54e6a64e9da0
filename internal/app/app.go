package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"merchant-guard/internal/actions"
	"merchant-guard/internal/alerts"
	"merchant-guard/internal/config"
	"merchant-guard/internal/eventlog"
	"merchant-guard/internal/ingest"
	"merchant-guard/internal/notify"
	"merchant-guard/internal/rules"
	"merchant-guard/internal/scheduler"
	"merchant-guard/internal/server"
	"merchant-guard/internal/service"
	"merchant-guard/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	// repo overrides the configured repository; used by tests.
	repo storage.Repository
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// openRepository returns the Postgres repository, or the in-memory one when no DSN is configured.
func (a *App) openRepository(ctx context.Context) (storage.Repository, func(), error) {
	if a.repo != nil {
		return a.repo, func() {}, nil
	}
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory repository, state is lost on exit")
		return storage.NewMemory(), func() {}, nil
	}

	store, closer, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if a.Config.Database.AutoMigrate {
		applied, err := store.Migrate(ctx)
		if err != nil {
			closer()
			return nil, nil, err
		}
		if len(applied) > 0 {
			a.Logger.Info().Strs("migrations", applied).Msg("migrations applied")
		}
	}
	return store, closer, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database, a.Config.App.Name)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// newNotifier builds the configured channels. The returned closer releases channel connections.
func (a *App) newNotifier() (notify.Notifier, func(), error) {
	closer := func() {}
	if !a.Config.Alerting.Enabled {
		return nil, closer, nil
	}

	var list []notify.Notifier
	if a.Config.ChannelEnabled(config.ChannelSlack) {
		slack := a.Config.Alerting.Slack
		list = append(list, notify.NewSlackNotifier(slack.Timeout, slack.UserAgent, a.Logger))
	}
	if a.Config.ChannelEnabled(config.ChannelNATS) {
		pub, err := notify.NewNATSPublisher(a.Config.NATS.URL)
		if err != nil {
			return nil, closer, err
		}
		closer = pub.Close
		list = append(list, notify.NewNATSNotifier(pub, a.Config.NATS.Subject, a.Logger))
	}
	if len(list) == 0 {
		return nil, closer, nil
	}
	return notify.NewMulti(a.Logger, list...), closer, nil
}

// runtime is the wired object graph shared by every command.
type runtime struct {
	repo     storage.Repository
	pipeline *service.Pipeline
	actions  *actions.Service
	executor *actions.Executor
	closers  []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// newRuntime wires the pipeline. Actions execute synchronously until a pool is attached.
func (a *App) newRuntime(ctx context.Context, withNotifier bool) (*runtime, error) {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}
	rt := &runtime{repo: repo, closers: []func(){closeRepo}}

	var notifier notify.Notifier
	if withNotifier {
		n, closeNotifier, err := a.newNotifier()
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, closeNotifier)
		notifier = n
	}

	lifecycle := alerts.NewLifecycle(repo, repo, nil, a.Logger)
	rt.executor = actions.NewExecutor(repo, lifecycle, actions.NewSimulated(a.Logger).Remediation(), actions.ExecutorOptions{
		Timeout: a.Config.Workers.ExecutionTimeout,
	}, a.Logger)
	rt.actions = actions.NewService(repo, actions.QueueFunc(actions.ExecuteHandler(rt.executor, a.Logger)), rt.executor, a.Logger)

	rt.pipeline = service.New(repo, service.Components{
		Events:    eventlog.New(repo, eventlog.Options{}, a.Logger),
		Lifecycle: lifecycle,
		Rules:     rules.NewManager(repo, repo, nil, a.Logger),
		Actions:   rt.actions,
		Notifier:  notifier,
	}, service.Options{
		DedupeActive:    a.Config.Alerting.DedupeActive,
		NotifyTimeout:   a.Config.Alerting.NotifyTimeout,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)
	return rt, nil
}

// Run executes the long-running service: HTTP API, action workers, periodic jobs and
// the optional Kafka consumer.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.newRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	pool := actions.NewPool(actions.PoolConfig{
		Workers:   a.Config.Workers.Count,
		QueueSize: a.Config.Workers.QueueSize,
		Handler:   actions.ExecuteHandler(rt.executor, a.Logger),
	}, a.Logger)
	pool.Start()
	defer pool.Stop()
	rt.actions.SetQueue(pool)

	jobs := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"http", server.New(rt.pipeline, a.Config.Server, a.Logger).Run},
		{"rule_sweep", func(ctx context.Context) error {
			return scheduler.New(scheduler.Options{
				Name:         "rule_sweep",
				Interval:     a.Config.Scheduler.EvaluationInterval,
				AlignToStart: a.Config.Scheduler.AlignToBucket,
				StartupDelay: a.Config.Scheduler.StartupDelay,
			}, a.Logger).Run(ctx, rt.pipeline.SweepRules)
		}},
		{"rule_review", func(ctx context.Context) error {
			return scheduler.New(scheduler.Options{
				Name:         "rule_review",
				Interval:     a.Config.Scheduler.ReviewInterval,
				AlignToStart: a.Config.Scheduler.AlignToBucket,
				StartupDelay: a.Config.Scheduler.StartupDelay,
			}, a.Logger).Run(ctx, rt.pipeline.ReviewRules)
		}},
	}
	if a.Config.Kafka.Enabled {
		reader, err := ingest.NewReader(a.Config.Kafka)
		if err != nil {
			return err
		}
		consumer := ingest.NewConsumer(reader, rt.pipeline, ingest.ConsumerOptions{
			Stages:       service.IngestOptions{Evaluate: true, Notify: true},
			MaxRetries:   3,
			RetryBackoff: 500 * time.Millisecond,
		}, a.Logger)
		jobs = append(jobs, struct {
			name string
			run  func(ctx context.Context) error
		}{"kafka_consumer", consumer.Run})
	}

	a.Logger.Info().Int("jobs", len(jobs)).Msg("starting merchantguard")

	var wg sync.WaitGroup
	errCh := make(chan error, len(jobs))
	for _, job := range jobs {
		wg.Add(1)
		go func(name string, run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}(job.name, job.run)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		errs = append(errs, err)
	}
	a.Logger.Info().Msg("merchantguard stopped")
	return errors.Join(errs...)
}

// ExportOptions hold parameters for exporting alerts.
type ExportOptions struct {
	StoreID   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	StoreID string
	Limit   int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	Path     string
	StoreID  string
	Evaluate bool
	Notify   bool
	DryRun   bool
}
