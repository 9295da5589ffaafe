// Package reportjob runs the daily admin audit report: export the day's
// admin logs, assemble the CSV, publish it and announce the link.
package reportjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aburke/highgarden/internal/jobs"
	"github.com/aburke/highgarden/internal/logsource"
	"github.com/aburke/highgarden/internal/notify"
	"github.com/aburke/highgarden/internal/reference"
	"github.com/aburke/highgarden/internal/report"
	"github.com/aburke/highgarden/internal/runlock"
	"github.com/aburke/highgarden/internal/storage"
	"github.com/aburke/highgarden/internal/tracing"
)

// Defaults for Config.
const (
	DefaultPrefix  = "audit-trail"
	DefaultLockTTL = 2 * time.Hour
	DefaultTimeout = 60 * time.Minute
)

// Stages label job errors in metrics and wrapped errors.
const (
	StageLock      = "lock"
	StageLogSource = "log_source"
	StageAssemble  = "assemble"
	StageUpload    = "upload"
	StageNotify    = "notify"
)

// JobMetrics provides centralized background job metrics tracking.
type JobMetrics interface {
	IncJobsTotal(jobType, status string)
	ObserveJobDuration(jobType string, seconds float64)
	IncJobErrors(jobType, errorType string)
	SetLastSuccess(jobType string, t time.Time)
}

// ReportMetrics records what each published report contained.
type ReportMetrics interface {
	ObserveReport(rep *report.Report)
	AddUnresolvedReferences(n int64)
	SetLastReportTimestamp(timestamp float64)
}

// Deps are the collaborators of a Job.
type Deps struct {
	Logs      logsource.Source
	Reference reference.Source
	Store     storage.Store
	Notifier  notify.Notifier
	Locker    runlock.Locker
}

// Config configures a Job.
type Config struct {
	// Prefix is the key prefix reports are stored under.
	Prefix     string
	Visibility storage.Visibility
	Channel    string
	Encoding   report.Encoding
	BatchSize  int
	LockTTL    time.Duration
	// Timeout bounds a single run.
	Timeout time.Duration

	Logger        *slog.Logger
	JobMetrics    JobMetrics
	ReportMetrics ReportMetrics
}

// Result describes a published report.
type Result struct {
	RunID      string
	ReportDate string
	Key        string
	URL        string
	Report     *report.Report
	Unresolved int64
}

// Job produces one report per processing date.
type Job struct {
	deps   Deps
	config Config
}

// New returns a Job. Locker defaults to runlock.NoopLocker.
func New(deps Deps, config Config) *Job {
	if deps.Locker == nil {
		deps.Locker = runlock.NoopLocker{}
	}
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.Channel == "" {
		config.Channel = notify.ChannelDefault
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Job{deps: deps, config: config}
}

// Window returns the day covered by a run on procDate: the UTC day before it.
func Window(procDate time.Time) (start, end time.Time) {
	y, m, d := procDate.UTC().Date()
	end = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, 0, -1), end
}

// ReportDate formats the day covered by a run on procDate.
func ReportDate(procDate time.Time) string {
	start, _ := Window(procDate)
	return start.Format(time.DateOnly)
}

// ReportKey returns the object key of the report for date.
func ReportKey(prefix, date string) string {
	return fmt.Sprintf("%s/%s/%s_Admin_Panel_Audit_Report.csv", prefix, date, date)
}

// Run builds and publishes the report for the day before procDate.
// Nothing is uploaded unless the whole report was assembled.
func (j *Job) Run(ctx context.Context, procDate time.Time) (res *Result, err error) {
	start, end := Window(procDate)
	res = &Result{
		RunID:      uuid.NewString(),
		ReportDate: start.Format(time.DateOnly),
	}
	res.Key = ReportKey(j.config.Prefix, res.ReportDate)
	logger := j.config.Logger.With("run_id", res.RunID, "report_date", res.ReportDate)

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()
	ctx, endSpan := tracing.StartSpan(ctx, "report.run")
	defer func() { endSpan(err) }()
	tracing.SetAttributes(ctx,
		attribute.String("report.run_id", res.RunID),
		attribute.String("report.date", res.ReportDate),
	)

	began := time.Now()
	logger.Info("report run started", "window_start", start, "window_end", end)

	lock, err := j.deps.Locker.Acquire(ctx, res.ReportDate, j.config.LockTTL)
	if err != nil {
		if errors.Is(err, runlock.ErrRunInProgress) {
			logger.Warn("report run skipped", "error", err)
			j.incJobs(jobs.StatusSkipped)
			return nil, err
		}
		return nil, j.fail(logger, began, StageLock, err)
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			logger.Warn("failed to release run lock", "error", rerr)
		}
	}()

	rep, unresolved, err := j.assemble(ctx, logger, start, end)
	if err != nil {
		return nil, j.fail(logger, began, stageOf(err), err)
	}
	res.Report = rep
	res.Unresolved = unresolved

	if err := j.publish(ctx, res); err != nil {
		return nil, j.fail(logger, began, stageOf(err), err)
	}

	duration := time.Since(began)
	finished := time.Now()
	if m := j.config.ReportMetrics; m != nil {
		m.ObserveReport(rep)
		m.AddUnresolvedReferences(unresolved)
		m.SetLastReportTimestamp(float64(finished.Unix()))
	}
	if m := j.config.JobMetrics; m != nil {
		m.IncJobsTotal(jobs.JobTypeReportGenerate, jobs.StatusSuccess)
		m.ObserveJobDuration(jobs.JobTypeReportGenerate, duration.Seconds())
		m.SetLastSuccess(jobs.JobTypeReportGenerate, finished)
	}
	logger.Info("report run completed",
		"key", res.Key,
		"lines_scanned", rep.LinesScanned,
		"lines_recognized", rep.LinesRecognized,
		"lines_skipped", rep.LinesScanned-rep.LinesRecognized,
		"rows", rep.Rows,
		"unresolved_references", unresolved,
		"unsafe_values", rep.UnsafeValues,
		"duration_seconds", duration.Seconds(),
	)
	return res, nil
}

func (j *Job) assemble(ctx context.Context, logger *slog.Logger, start, end time.Time) (rep *report.Report, unresolved int64, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "report.assemble")
	defer func() { endSpan(err) }()

	sc, err := j.deps.Logs.Open(ctx, start, end)
	if err != nil {
		return nil, 0, stageErr(StageLogSource, err)
	}
	defer func() {
		if cerr := sc.Close(); cerr != nil {
			logger.Warn("failed to clean up log source", "error", cerr)
		}
	}()

	resolver := reference.NewResolver(j.deps.Reference, reference.ResolverConfig{
		BatchSize: j.config.BatchSize,
		Logger:    logger,
	})
	asm := report.NewAssembler(resolver, report.Options{
		Encoding: j.config.Encoding,
		Logger:   logger,
	})
	rep, err = asm.Assemble(ctx, sc)
	if err != nil {
		return nil, 0, stageErr(StageAssemble, err)
	}
	if oc, ok := sc.(logsource.OversizedCounter); ok && oc.Oversized() > 0 {
		logger.Warn("skipped oversized log lines", "lines_oversized", oc.Oversized())
	}
	return rep, resolver.Misses(), nil
}

func (j *Job) publish(ctx context.Context, res *Result) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "report.publish")
	defer func() { endSpan(err) }()

	vis := j.config.Visibility
	if err := j.deps.Store.Upload(ctx, res.Key, res.Report.Body, vis); err != nil {
		return stageErr(StageUpload, err)
	}
	url, err := j.deps.Store.ShareURL(ctx, res.Key, vis)
	if err != nil {
		return stageErr(StageUpload, err)
	}
	res.URL = url

	if err := j.deps.Notifier.Notify(ctx, j.config.Channel, url); err != nil {
		return stageErr(StageNotify, err)
	}
	return nil
}

func (j *Job) incJobs(status string) {
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobs.JobTypeReportGenerate, status)
	}
}

func (j *Job) fail(logger *slog.Logger, began time.Time, stage string, err error) error {
	if m := j.config.JobMetrics; m != nil {
		m.IncJobErrors(jobs.JobTypeReportGenerate, stage)
		m.IncJobsTotal(jobs.JobTypeReportGenerate, jobs.StatusFailure)
		m.ObserveJobDuration(jobs.JobTypeReportGenerate, time.Since(began).Seconds())
	}
	logger.Error("report run failed", "stage", stage, "error", err)
	return err
}

// StageError tags an error with the run stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

func stageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "unknown"
}
