// Package s3 archives resolved incidents as JSON objects in S3 for
// long-term retention and compliance review.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/goccy/go-json"

	"hub-sentinel/internal/incident"
)

// Config holds S3 connection and archival configuration.
type Config struct {
	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// Endpoint overrides the AWS endpoint, for MinIO and LocalStack.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Static credentials. IAM is used when empty.
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	SessionToken    string `yaml:"session_token,omitempty"`

	StorageClass     string        `yaml:"storage_class"`
	UsePathStyle     bool          `yaml:"use_path_style"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	Timeout          time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Region:           "eu-central-1",
		Bucket:           "sentinel-incident-archive",
		Prefix:           "incidents/",
		StorageClass:     "INTELLIGENT_TIERING",
		RetryMaxAttempts: 3,
		Timeout:          30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Region == "" {
		return errors.New("s3: region is required")
	}
	if c.Bucket == "" {
		return errors.New("s3: bucket is required")
	}
	return nil
}

func (c *Config) storageClass() types.StorageClass {
	switch strings.ToUpper(c.StorageClass) {
	case "STANDARD":
		return types.StorageClassStandard
	case "STANDARD_IA":
		return types.StorageClassStandardIa
	case "INTELLIGENT_TIERING":
		return types.StorageClassIntelligentTiering
	case "GLACIER":
		return types.StorageClassGlacier
	case "GLACIER_IR":
		return types.StorageClassGlacierIr
	case "DEEP_ARCHIVE":
		return types.StorageClassDeepArchive
	default:
		return types.StorageClassStandard
	}
}

type putObjectAPI interface {
	PutObject(ctx context.Context, input *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

// IncidentArchive writes resolved incidents to an S3 bucket.
type IncidentArchive struct {
	client putObjectAPI
	config *Config
	logger *slog.Logger

	archived atomic.Int64
	failures atomic.Int64
}

// NewIncidentArchive creates an archive backed by a real S3 client.
func NewIncidentArchive(ctx context.Context, cfg *Config, logger *slog.Logger) (*IncidentArchive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}
	if cfg.RetryMaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*awss3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	client := awss3.NewFromConfig(awsCfg, s3Opts...)

	logger.Info("incident archive initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"storage_class", cfg.StorageClass,
	)

	return &IncidentArchive{client: client, config: cfg, logger: logger}, nil
}

// ObjectKey returns the date-partitioned key an incident is stored under.
func (a *IncidentArchive) ObjectKey(inc *incident.Incident) string {
	ts := inc.ResolvedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s%s/%s.json", a.config.Prefix, ts.UTC().Format("2006/01/02"), inc.ID)
}

// Archive uploads one resolved incident.
func (a *IncidentArchive) Archive(ctx context.Context, inc *incident.Incident) error {
	body, err := json.MarshalIndent(inc, "", "  ")
	if err != nil {
		a.failures.Add(1)
		return fmt.Errorf("s3: failed to marshal incident %s: %w", inc.ID, err)
	}

	key := a.ObjectKey(inc)

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	_, err = a.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:       aws.String(a.config.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String("application/json"),
		StorageClass: a.config.storageClass(),
		Metadata: map[string]string{
			"incident-id": inc.ID,
			"category":    string(inc.Category),
			"severity":    string(inc.Severity),
		},
	})
	if err != nil {
		a.failures.Add(1)
		return fmt.Errorf("s3: failed to archive incident %s: %w", inc.ID, err)
	}

	a.archived.Add(1)
	a.logger.Info("incident archived",
		"incident_id", inc.ID,
		"key", key,
		"size", len(body),
	)
	return nil
}

// Stats reports archive counters.
type Stats struct {
	Archived int64
	Failures int64
}

// GetStats returns current archive counters.
func (a *IncidentArchive) GetStats() Stats {
	return Stats{
		Archived: a.archived.Load(),
		Failures: a.failures.Load(),
	}
}
