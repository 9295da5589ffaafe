package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aburke/highgarden/internal/awsclient"
	"github.com/aburke/highgarden/internal/config"
	"github.com/aburke/highgarden/internal/health"
	"github.com/aburke/highgarden/internal/jobs"
	"github.com/aburke/highgarden/internal/logsource"
	"github.com/aburke/highgarden/internal/notify"
	"github.com/aburke/highgarden/internal/reference"
	"github.com/aburke/highgarden/internal/report"
	"github.com/aburke/highgarden/internal/reportjob"
	"github.com/aburke/highgarden/internal/runlock"
	"github.com/aburke/highgarden/internal/secrets"
	"github.com/aburke/highgarden/internal/storage"
	"github.com/aburke/highgarden/internal/tracing"
)

// app holds everything a report run needs, built from configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	job      *reportjob.Job
	checkers map[string]health.Checker

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		checkers: make(map[string]health.Checker),
	}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn("cleanup after failed startup", "error", cerr)
			}
			a = nil
		}
	}()

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:  "auditreport",
		Version:      Version,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		Insecure:     cfg.TracingInsecure,
	}, logger)
	if err != nil {
		return a, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	clients, err := awsclient.New(ctx, awsConfig(cfg))
	if err != nil {
		return a, err
	}
	sm := secrets.NewManager(clients.Secrets)

	source, err := a.referenceSource(ctx, sm)
	if err != nil {
		return a, err
	}

	notifier, err := newNotifier(ctx, cfg, sm, logger)
	if err != nil {
		return a, err
	}

	store, err := storage.NewS3Store(clients.S3, storage.S3Config{Bucket: cfg.ReportBucket}, logger)
	if err != nil {
		return a, err
	}
	a.checkers["bucket"] = health.NewBucketChecker(clients.S3, cfg.ReportBucket)

	logs, err := logsource.NewCloudWatchSource(clients.Logs, clients.S3, logsource.CloudWatchConfig{
		LogGroup:      cfg.LogGroup,
		Bucket:        cfg.ReportBucket,
		ArchivePrefix: cfg.LogArchivePrefix,
		PollInterval:  cfg.ExportPollInterval,
	}, logger)
	if err != nil {
		return a, err
	}

	locker, err := a.locker(ctx)
	if err != nil {
		return a, err
	}

	jobMetrics := jobs.NewMetrics()
	reportMetrics := report.NewMetrics()
	for _, r := range []interface {
		Register(prometheus.Registerer) error
	}{jobMetrics, reportMetrics} {
		if err := r.Register(a.registry); err != nil {
			return a, fmt.Errorf("register metrics: %w", err)
		}
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	encoding, err := report.ParseEncoding(cfg.CSVEncoding)
	if err != nil {
		return a, err
	}

	a.job = reportjob.New(reportjob.Deps{
		Logs:      logs,
		Reference: source,
		Store:     store,
		Notifier:  notifier,
		Locker:    locker,
	}, reportjob.Config{
		Prefix:        cfg.ReportPrefix,
		Visibility:    visibility(cfg.ReportPublic),
		Channel:       channel(cfg),
		Encoding:      encoding,
		BatchSize:     cfg.ReferenceBatchSize,
		LockTTL:       cfg.LockTTL,
		Logger:        logger,
		JobMetrics:    jobMetrics,
		ReportMetrics: reportMetrics,
	})
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) referenceSource(ctx context.Context, sm *secrets.Manager) (reference.Source, error) {
	dsn, err := databaseURL(ctx, a.cfg, sm)
	if err != nil {
		return nil, err
	}
	db, err := reference.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	a.checkers["database"] = health.NewDBChecker(db)
	return reference.NewPostgresSource(db, a.cfg.PipelinesSchema), nil
}

func (a *app) locker(ctx context.Context) (runlock.Locker, error) {
	if a.cfg.RedisURL == "" {
		a.logger.Info("redis not configured, runs are not locked")
		return runlock.NoopLocker{}, nil
	}
	client, err := runlock.NewRedisClient(ctx, a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	a.checkers["redis"] = health.NewRedisChecker(client)
	return runlock.NewRedisLocker(client), nil
}

func awsConfig(cfg *config.Config) awsclient.Config {
	return awsclient.Config{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		Endpoint:        cfg.AWSEndpoint,
		UsePathStyle:    cfg.AWSEndpoint != "",
	}
}

// databaseURL prefers the configured URL and falls back to the database secret.
func databaseURL(ctx context.Context, cfg *config.Config, sm *secrets.Manager) (string, error) {
	if cfg.DatabaseURL != "" {
		return cfg.DatabaseURL, nil
	}
	creds, err := sm.DatabaseCredentials(ctx, cfg.DatabaseSecretID)
	if err != nil {
		return "", fmt.Errorf("resolve reference database: %w", err)
	}
	return creds.URL(), nil
}

// newNotifier returns a Slack notifier when a token is available. Outside
// production a missing token falls back to logging the message.
func newNotifier(ctx context.Context, cfg *config.Config, sm *secrets.Manager, logger *slog.Logger) (notify.Notifier, error) {
	token := cfg.SlackToken
	if token == "" && cfg.SlackSecretID != "" {
		var err error
		token, err = sm.SlackToken(ctx, cfg.SlackSecretID)
		if err != nil {
			if cfg.IsProduction() {
				return nil, fmt.Errorf("resolve slack token: %w", err)
			}
			logger.Warn("slack token unavailable, notifications will be logged", "error", err)
			token = ""
		}
	}
	if token == "" {
		return notify.LogNotifier{Logger: logger}, nil
	}
	return notify.NewSlackNotifier(token, notify.SlackOptions{Logger: logger})
}

func visibility(public bool) storage.Visibility {
	if public {
		return storage.VisibilityPublic
	}
	return storage.VisibilityPrivate
}

func channel(cfg *config.Config) string {
	if cfg.SlackChannel != "" {
		return cfg.SlackChannel
	}
	return notify.DefaultChannel(cfg.Env)
}
