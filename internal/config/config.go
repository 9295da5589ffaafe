// Package config provides configuration loading and validation for the
// audit report job. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aburke/highgarden/internal/logsource"
	"github.com/aburke/highgarden/internal/report"
)

// Config holds all configuration values for the audit report job.
type Config struct {
	Env      string `koanf:"env"`
	LogLevel string `koanf:"log_level"`

	// AWS
	AWSRegion          string `koanf:"aws_region"`
	AWSEndpoint        string `koanf:"aws_endpoint"` // LocalStack or other S3-compatible endpoint
	AWSAccessKeyID     string `koanf:"aws_access_key_id"`
	AWSSecretAccessKey string `koanf:"aws_secret_access_key"`

	// Report output
	ReportBucket string `koanf:"report_bucket"` // Default: <env>-reservoir
	ReportPrefix string `koanf:"report_prefix"`
	ReportPublic bool   `koanf:"report_public"`
	CSVEncoding  string `koanf:"csv_encoding"`

	// Log export
	LogGroup           string        `koanf:"log_group"`
	LogArchivePrefix   string        `koanf:"log_archive_prefix"`
	ExportPollInterval time.Duration `koanf:"export_poll_interval"`

	// Reference database
	DatabaseURL        string `koanf:"database_url"`
	DatabaseSecretID   string `koanf:"database_secret_id"`
	PipelinesSchema    string `koanf:"pipelines_schema"`
	ReferenceBatchSize int    `koanf:"reference_batch_size"`

	// Slack
	SlackToken    string `koanf:"slack_token"`
	SlackSecretID string `koanf:"slack_secret_id"`
	SlackChannel  string `koanf:"slack_channel"` // Default depends on env

	// Run lock
	RedisURL string        `koanf:"redis_url"`
	LockTTL  time.Duration `koanf:"lock_ttl"`

	// Scheduling and ops server
	ScheduleHour int    `koanf:"schedule_hour"`
	MetricsAddr  string `koanf:"metrics_addr"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	TracingEndpoint   string  `koanf:"tracing_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingReportBucket = errors.New("REPORT_BUCKET is required")
	ErrMissingDatabase     = errors.New("DATABASE_URL or DATABASE_SECRET_ID is required")
	ErrInvalidEncoding     = errors.New("CSV_ENCODING must be legacy or rfc4180")
	ErrInvalidScheduleHour = errors.New("SCHEDULE_HOUR must be between 0 and 23")
	ErrInvalidBatchSize    = errors.New("REFERENCE_BATCH_SIZE must be positive")
	ErrInvalidDuration     = errors.New("must be a positive duration")
	ErrInvalidSampleRate   = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidInteger      = errors.New("must be a valid integer")
	ErrInvalidBool         = errors.New("must be a valid boolean")
)

// Default values for non-secret configuration.
const (
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultAWSRegion          = "us-east-1"
	DefaultReportPrefix       = "audit-trail"
	DefaultReportPublic       = true
	DefaultCSVEncoding        = string(report.EncodingLegacy)
	DefaultExportPollInterval = logsource.DefaultPollInterval
	DefaultDatabaseSecretID   = "bastille/app/businesslogicapi/CustomerDB"
	DefaultPipelinesSchema    = "pipelines"
	DefaultReferenceBatchSize = 10000
	DefaultSlackSecretID      = "gh-pipelines/gb-notifications-token"
	DefaultLockTTL            = 2 * time.Hour
	DefaultScheduleHour       = 0
	DefaultMetricsAddr        = ":9090"
	DefaultTracingExporter    = "otlp-http"
	DefaultTracingSampleRate  = 1.0
)

// DefaultReportBucket returns the bucket reports go to in env.
func DefaultReportBucket(env string) string {
	return strings.ToLower(env) + "-reservoir"
}

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error
	collect := func(err error) {
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	env := getEnvOrDefaultMulti([]string{"ENV_NAME", "ENV"}, k.String("env"), DefaultEnv)

	reportPublic, err := getEnvBoolOrDefault("REPORT_PUBLIC", k, "report_public", DefaultReportPublic)
	collect(err)
	tracingEnabled, err := getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false)
	collect(err)
	tracingInsecure, err := getEnvBoolOrDefault("TRACING_INSECURE", k, "tracing_insecure", false)
	collect(err)

	pollInterval, err := getEnvDurationOrDefault("EXPORT_POLL_INTERVAL", k.Duration("export_poll_interval"), DefaultExportPollInterval)
	collect(err)
	lockTTL, err := getEnvDurationOrDefault("LOCK_TTL", k.Duration("lock_ttl"), DefaultLockTTL)
	collect(err)

	batchSize, err := getEnvIntOrDefault("REFERENCE_BATCH_SIZE", k.Int("reference_batch_size"), DefaultReferenceBatchSize)
	collect(err)

	// Hour 0 is a valid value, so only fall back when the key is absent.
	scheduleHour := DefaultScheduleHour
	if k.Exists("schedule_hour") {
		scheduleHour = k.Int("schedule_hour")
	}
	scheduleHour, err = getEnvIntOrDefault("SCHEDULE_HOUR", scheduleHour, scheduleHour)
	collect(err)

	sampleRate := DefaultTracingSampleRate
	if k.Exists("tracing_sample_rate") {
		sampleRate = k.Float64("tracing_sample_rate")
	}
	sampleRate, err = getEnvFloatOrDefault("TRACING_SAMPLE_RATE", sampleRate, sampleRate)
	collect(err)

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Env:                env,
		LogLevel:           getEnvOrDefault("LOG_LEVEL", k.String("log_level"), DefaultLogLevel),
		AWSRegion:          getEnvOrDefault("AWS_REGION", k.String("aws_region"), DefaultAWSRegion),
		AWSEndpoint:        getEnvOrKoanf("AWS_ENDPOINT_URL", k, "aws_endpoint"),
		AWSAccessKeyID:     getEnvOrKoanf("AWS_ACCESS_KEY_ID", k, "aws_access_key_id"),
		AWSSecretAccessKey: getEnvOrKoanf("AWS_SECRET_ACCESS_KEY", k, "aws_secret_access_key"),
		ReportBucket:       getEnvOrDefault("REPORT_BUCKET", k.String("report_bucket"), DefaultReportBucket(env)),
		ReportPrefix:       getEnvOrDefault("REPORT_PREFIX", k.String("report_prefix"), DefaultReportPrefix),
		ReportPublic:       reportPublic,
		CSVEncoding:        getEnvOrDefault("CSV_ENCODING", k.String("csv_encoding"), DefaultCSVEncoding),
		LogGroup:           getEnvOrDefault("LOG_GROUP", k.String("log_group"), logsource.DefaultLogGroup),
		LogArchivePrefix:   getEnvOrDefault("LOG_ARCHIVE_PREFIX", k.String("log_archive_prefix"), logsource.DefaultArchivePrefix),
		ExportPollInterval: pollInterval,
		DatabaseURL:        getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		DatabaseSecretID:   getEnvOrDefault("DATABASE_SECRET_ID", k.String("database_secret_id"), DefaultDatabaseSecretID),
		PipelinesSchema:    getEnvOrDefault("PIPELINES_SCHEMA", k.String("pipelines_schema"), DefaultPipelinesSchema),
		ReferenceBatchSize: batchSize,
		SlackToken:         getEnvOrKoanf("SLACK_TOKEN", k, "slack_token"),
		SlackSecretID:      getEnvOrDefault("SLACK_SECRET_ID", k.String("slack_secret_id"), DefaultSlackSecretID),
		SlackChannel:       getEnvOrKoanf("SLACK_CHANNEL", k, "slack_channel"),
		RedisURL:           getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		LockTTL:            lockTTL,
		ScheduleHour:       scheduleHour,
		MetricsAddr:        getEnvOrDefault("METRICS_ADDR", k.String("metrics_addr"), DefaultMetricsAddr),
		TracingEnabled:     tracingEnabled,
		TracingExporter:    getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), DefaultTracingExporter),
		TracingEndpoint:    getEnvOrKoanf("TRACING_ENDPOINT", k, "tracing_endpoint"),
		TracingSampleRate:  sampleRate,
		TracingInsecure:    tracingInsecure,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// IsProduction reports whether the config targets the production environment.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.Env) {
	case "prod", "production":
		return true
	}
	return false
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return defaultVal, fmt.Errorf("%s %w", envKey, ErrInvalidInteger)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return defaultVal, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if set,
// otherwise the koanf value, or default.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return defaultVal, fmt.Errorf("%s %w: %v", envKey, ErrInvalidDuration, err)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault returns the environment variable as bool if set,
// otherwise the koanf value when the key exists, or default.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) (bool, error) {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		// Env var takes precedence over file config
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		default:
			return result, fmt.Errorf("%s %w", envKey, ErrInvalidBool)
		}
	}
	return result, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.ReportBucket == "" {
		errs = append(errs, ErrMissingReportBucket)
	}
	if c.DatabaseURL == "" && c.DatabaseSecretID == "" {
		errs = append(errs, ErrMissingDatabase)
	}
	if _, err := report.ParseEncoding(c.CSVEncoding); err != nil {
		errs = append(errs, ErrInvalidEncoding)
	}
	if c.ScheduleHour < 0 || c.ScheduleHour > 23 {
		errs = append(errs, ErrInvalidScheduleHour)
	}
	if c.ReferenceBatchSize <= 0 {
		errs = append(errs, ErrInvalidBatchSize)
	}
	if c.ExportPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("EXPORT_POLL_INTERVAL %w", ErrInvalidDuration))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("LOCK_TTL %w", ErrInvalidDuration))
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"env":                   c.Env,
		"log_level":             c.LogLevel,
		"aws_region":            c.AWSRegion,
		"aws_endpoint":          c.AWSEndpoint,
		"aws_access_key_id":     maskSecret(c.AWSAccessKeyID),
		"aws_secret_access_key": maskSecret(c.AWSSecretAccessKey),
		"report_bucket":         c.ReportBucket,
		"report_prefix":         c.ReportPrefix,
		"report_public":         strconv.FormatBool(c.ReportPublic),
		"csv_encoding":          c.CSVEncoding,
		"log_group":             c.LogGroup,
		"log_archive_prefix":    c.LogArchivePrefix,
		"export_poll_interval":  c.ExportPollInterval.String(),
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"database_secret_id":    c.DatabaseSecretID,
		"pipelines_schema":      c.PipelinesSchema,
		"reference_batch_size":  strconv.Itoa(c.ReferenceBatchSize),
		"slack_token":           maskSlackToken(c.SlackToken),
		"slack_secret_id":       c.SlackSecretID,
		"slack_channel":         c.SlackChannel,
		"redis_url":             maskDatabaseURL(c.RedisURL),
		"lock_ttl":              c.LockTTL.String(),
		"schedule_hour":         strconv.Itoa(c.ScheduleHour),
		"metrics_addr":          c.MetricsAddr,
		"tracing_enabled":       strconv.FormatBool(c.TracingEnabled),
		"tracing_exporter":      c.TracingExporter,
		"tracing_endpoint":      c.TracingEndpoint,
		"tracing_sample_rate":   strconv.FormatFloat(c.TracingSampleRate, 'f', -1, 64),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskSlackToken masks a Slack token, preserving the token type prefix (xoxb-, xoxp-).
func maskSlackToken(s string) string {
	if s == "" {
		return "<not set>"
	}
	if prefix, _, ok := strings.Cut(s, "-"); ok && strings.HasPrefix(prefix, "xox") {
		return prefix + "-****"
	}
	return maskSecret(s)
}

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, postgresql:// and redis:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
