package logsource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/aburke/highgarden/internal/tracing"
)

// Defaults for CloudWatchConfig.
const (
	DefaultLogGroup      = "/aws/elasticbeanstalk/businesslogicapi-admin/var/log/nodejs/nodejs.log"
	DefaultArchivePrefix = "log-archive"
	DefaultPollInterval  = time.Second
	DefaultTaskName      = "export_task"

	// maxDeleteBatch is the S3 limit on keys per DeleteObjects call.
	maxDeleteBatch = 1000
)

// ExportAPI is the subset of the CloudWatch Logs client used for exports.
type ExportAPI interface {
	CreateExportTask(ctx context.Context, params *cloudwatchlogs.CreateExportTaskInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateExportTaskOutput, error)
	DescribeExportTasks(ctx context.Context, params *cloudwatchlogs.DescribeExportTasksInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeExportTasksOutput, error)
}

// ArchiveAPI is the subset of the S3 client used to read and remove
// exported archives.
type ArchiveAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// CloudWatchConfig configures a CloudWatchSource.
type CloudWatchConfig struct {
	LogGroup      string
	Bucket        string
	ArchivePrefix string
	PollInterval  time.Duration
	TaskName      string
}

// CloudWatchSource exports a log group to S3 and streams the archive.
type CloudWatchSource struct {
	logs    ExportAPI
	objects ArchiveAPI
	config  CloudWatchConfig
	logger  *slog.Logger
}

// NewCloudWatchSource creates a CloudWatchSource. Bucket is required.
func NewCloudWatchSource(logs ExportAPI, objects ArchiveAPI, cfg CloudWatchConfig, logger *slog.Logger) (*CloudWatchSource, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if cfg.LogGroup == "" {
		cfg.LogGroup = DefaultLogGroup
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = DefaultArchivePrefix
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.TaskName == "" {
		cfg.TaskName = DefaultTaskName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchSource{logs: logs, objects: objects, config: cfg, logger: logger}, nil
}

// Open exports [start, end) and returns a Scanner over the archived lines.
// Closing the Scanner deletes the archive objects.
func (s *CloudWatchSource) Open(ctx context.Context, start, end time.Time) (Scanner, error) {
	if err := validateWindow(start, end); err != nil {
		return nil, err
	}

	taskID, err := s.export(ctx, start, end)
	if err != nil {
		return nil, err
	}

	keys, err := s.archiveKeys(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("log export ready",
		"task_id", taskID,
		"log_group", s.config.LogGroup,
		"objects", len(keys),
	)

	streams := make([]opener, 0, len(keys))
	for _, key := range keys {
		streams = append(streams, opener{name: key, open: s.openObject(key)})
	}
	return newLineScanner(ctx, streams, func() error {
		return s.deleteObjects(context.WithoutCancel(ctx), keys)
	}), nil
}

func (s *CloudWatchSource) export(ctx context.Context, start, end time.Time) (taskID string, err error) {
	ctx, endSpan := tracing.StartClientSpan(ctx, "cloudwatchlogs", "CreateExportTask")
	defer func() { endSpan(err) }()

	out, err := s.logs.CreateExportTask(ctx, &cloudwatchlogs.CreateExportTaskInput{
		TaskName:          aws.String(s.config.TaskName),
		LogGroupName:      aws.String(s.config.LogGroup),
		From:              aws.Int64(start.UTC().UnixMilli()),
		To:                aws.Int64(end.UTC().UnixMilli()),
		Destination:       aws.String(s.config.Bucket),
		DestinationPrefix: aws.String(s.config.ArchivePrefix),
	})
	if err != nil {
		return "", fmt.Errorf("create export task: %w", err)
	}
	taskID = aws.ToString(out.TaskId)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		status, err := s.taskStatus(ctx, taskID)
		if err != nil {
			return "", err
		}
		switch status.Code {
		case cwtypes.ExportTaskStatusCodeCompleted:
			return taskID, nil
		case cwtypes.ExportTaskStatusCodePending,
			cwtypes.ExportTaskStatusCodePendingCancel,
			cwtypes.ExportTaskStatusCodeRunning:
		default:
			return "", fmt.Errorf("%w: task %s status %s: %s",
				ErrExportFailed, taskID, status.Code, aws.ToString(status.Message))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *CloudWatchSource) taskStatus(ctx context.Context, taskID string) (cwtypes.ExportTaskStatus, error) {
	out, err := s.logs.DescribeExportTasks(ctx, &cloudwatchlogs.DescribeExportTasksInput{
		TaskId: aws.String(taskID),
	})
	if err != nil {
		return cwtypes.ExportTaskStatus{}, fmt.Errorf("describe export task %s: %w", taskID, err)
	}
	if len(out.ExportTasks) == 0 || out.ExportTasks[0].Status == nil {
		return cwtypes.ExportTaskStatus{}, fmt.Errorf("describe export task %s: no status returned", taskID)
	}
	return *out.ExportTasks[0].Status, nil
}

func (s *CloudWatchSource) archiveKeys(ctx context.Context, taskID string) (keys []string, err error) {
	ctx, endSpan := tracing.StartClientSpan(ctx, "s3", "ListObjectsV2")
	defer func() { endSpan(err) }()

	p := s3.NewListObjectsV2Paginator(s.objects, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
		Prefix: aws.String(path.Join(s.config.ArchivePrefix, taskID)),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list archive %s: %w", taskID, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *CloudWatchSource) openObject(key string) func(context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		out, err := s.objects.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, err
		}
		return out.Body, nil
	}
}

func (s *CloudWatchSource) deleteObjects(ctx context.Context, keys []string) (err error) {
	if len(keys) == 0 {
		return nil
	}
	ctx, endSpan := tracing.StartClientSpan(ctx, "s3", "DeleteObjects")
	defer func() { endSpan(err) }()

	for start := 0; start < len(keys); start += maxDeleteBatch {
		batch := keys[start:min(start+maxDeleteBatch, len(keys))]
		ids := make([]s3types.ObjectIdentifier, len(batch))
		for i, k := range batch {
			ids[i] = s3types.ObjectIdentifier{Key: aws.String(k)}
		}
		out, err := s.objects.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.config.Bucket),
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete archive objects: %w", err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("delete archive objects: %d failed, first %s: %s",
				len(out.Errors), aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	s.logger.Debug("deleted log archive", "objects", len(keys))
	return nil
}
