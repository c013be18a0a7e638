package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/prometheus/client_golang/prometheus"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/kafkapubsub"
	_ "gocloud.dev/pubsub/mempubsub"
	_ "gocloud.dev/pubsub/natspubsub"
	_ "gocloud.dev/pubsub/rabbitpubsub"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	monitorPath := flag.String("monitor", "monitor.yaml", "Path to the file with users, monitors and webhooks to seed")
	flag.Parse()

	serverConfig, err := LoadServerConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: serverConfig.Server.LogLevel})))

	monitorConfig, err := LoadMonitorConfig(*monitorPath)
	if err != nil {
		slog.Error("failed to load monitor file", slog.String("error", err.Error()))
		os.Exit(1)
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              serverConfig.Sentry.Dsn,
		SampleRate:       serverConfig.Sentry.ErrorSampleRate,
		EnableTracing:    serverConfig.Sentry.TracesSampleRate > 0,
		TracesSampleRate: serverConfig.Sentry.TracesSampleRate,
		Debug:            serverConfig.Sentry.Debug,
	})
	if err != nil {
		slog.Error("failed to initialize sentry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, serverConfig, monitorConfig); err != nil {
		sentry.CaptureException(err)
		slog.Error("pingmaster exited with error", slog.String("error", err.Error()))
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func run(ctx context.Context, serverConfig ServerConfig, monitorConfig MonitorConfig) error {
	db, err := sql.Open("duckdb", serverConfig.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(ctx, time.Minute)
	err = Migrate(db, migrateCtx, true)
	migrateCancel()
	if err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	repository := NewDuckDBRepository(db)
	if err := seed(ctx, repository, monitorConfig); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	emailProducer, err := pubsub.OpenTopic(ctx, serverConfig.TaskQueue.Email.ProducerAddress)
	if err != nil {
		return fmt.Errorf("opening email topic: %w", err)
	}
	defer emailProducer.Shutdown(context.Background())

	emailSubscriber, err := pubsub.OpenSubscription(ctx, serverConfig.TaskQueue.Email.ConsumerAddress)
	if err != nil {
		return fmt.Errorf("opening email subscription: %w", err)
	}
	defer emailSubscriber.Shutdown(context.Background())

	deliverer := NewWebhookDeliverer(WebhookDelivererOptions{
		Repository: repository,
		HttpClient: &http.Client{Timeout: serverConfig.Webhook.Timeout},
		Policy:     serverConfig.BackoffPolicy(),
		Metrics:    metrics,
	})
	retryWorker := NewWebhookRetryWorker(WebhookRetryWorkerOptions{
		Repository:    repository,
		Deliverer:     deliverer,
		SweepInterval: serverConfig.Webhook.SweepInterval,
		Concurrency:   serverConfig.Webhook.Concurrency,
		Metrics:       metrics,
	})

	push := NewPushBroadcaster(metrics)
	alerters := []Alerter{
		push,
		NewWebhookAlerter(repository, deliverer, retryWorker),
	}

	var emailWorker *EmailWorker
	emailSender, err := NewShoutrrrEmailSender(serverConfig.Email.SmtpUrl, serverConfig.Email.From, serverConfig.Webhook.Timeout)
	switch {
	case err == nil:
		alerters = append(alerters, NewEmailAlerter(repository, emailProducer))
		emailWorker = NewEmailWorker(EmailWorkerOptions{
			Subscriber: emailSubscriber,
			Producer:   emailProducer,
			Sender:     emailSender,
			MaxRetries: serverConfig.Email.MaxRetries,
			RetryDelay: serverConfig.Email.RetryDelay,
			Metrics:    metrics,
		})
	case errors.Is(err, ErrAlerterNotConfigured):
		slog.WarnContext(ctx, "email delivery disabled, smtp_url is not set")
	default:
		return fmt.Errorf("configuring email sender: %w", err)
	}

	dispatcher := NewDispatcher(DispatcherOptions{
		Repository: repository,
		Throttle:   NewThrottle(serverConfig.Notification.ThrottleWindow),
		Alerters:   alerters,
		Metrics:    metrics,
	})

	scheduler := NewScheduler(SchedulerOptions{
		Repository:         repository,
		Prober:             NewProber(ProberOptions{}),
		Dispatcher:         dispatcher,
		Metrics:            metrics,
		MinimumInterval:    serverConfig.Scheduler.MinimumInterval,
		RetryDelay:         serverConfig.Scheduler.RetryDelay,
		ShutdownGrace:      serverConfig.Scheduler.ShutdownGrace,
		StartupConcurrency: serverConfig.Scheduler.StartupConcurrency,
	})

	aggregator := NewAggregatorWorker(AggregatorWorkerOptions{
		Repository:   repository,
		Interval:     serverConfig.Stats.AggregationInterval,
		LookbackDays: serverConfig.Stats.LookbackDays,
	})

	server, err := NewServer(ServerOptions{
		Repository:   repository,
		Scheduler:    scheduler,
		Dispatcher:   dispatcher,
		Push:         push,
		Registry:     registry,
		ServerConfig: serverConfig,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(retryWorker.Start)
	g.Go(aggregator.Start)
	if emailWorker != nil {
		g.Go(emailWorker.Start)
	}
	g.Go(func() error {
		slog.InfoContext(gctx, "starting server", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.Scheduler.ShutdownGrace)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down server: %w", err))
		}
		if err := scheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		_ = retryWorker.Stop()
		_ = aggregator.Stop()
		if emailWorker != nil {
			_ = emailWorker.Stop()
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// seed upserts the users, monitors and webhooks declared in the monitor file.
// Runtime state of existing monitors is kept.
func seed(ctx context.Context, repository Repository, monitorConfig MonitorConfig) error {
	for _, user := range monitorConfig.Users {
		if err := repository.UpsertUser(ctx, user); err != nil {
			return fmt.Errorf("seeding user %s: %w", user.ID, err)
		}
	}
	for _, monitor := range monitorConfig.Monitors {
		if err := repository.UpsertMonitor(ctx, monitor); err != nil {
			return fmt.Errorf("seeding monitor %s: %w", monitor.ID, err)
		}
	}
	for _, webhook := range monitorConfig.Webhooks {
		if err := repository.UpsertWebhook(ctx, webhook); err != nil {
			return fmt.Errorf("seeding webhook %s: %w", webhook.ID, err)
		}
	}

	slog.InfoContext(ctx, "seeded monitor file",
		slog.Int("users", len(monitorConfig.Users)),
		slog.Int("monitors", len(monitorConfig.Monitors)),
		slog.Int("webhooks", len(monitorConfig.Webhooks)))
	return nil
}
