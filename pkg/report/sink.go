package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/leanprover/radar/pkg/config"
)

// ContentType is the MIME type of rendered reports.
const ContentType = "text/markdown; charset=utf-8"

// DefaultS3Prefix is the key prefix used when none is configured.
const DefaultS3Prefix = "reports"

// Sink stores rendered reports.
type Sink interface {
	// Write stores content under name, a slash separated relative path,
	// and returns where it was written.
	Write(ctx context.Context, name string, content []byte) (string, error)
}

// FileName returns the relative report path for a comparison.
func FileName(repo, first, second string) string {
	return safeSegment(repo) + "/" + safeSegment(first) + ".." + safeSegment(second) + ".md"
}

func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}

	return s
}

// NewSink creates the sink enabled in cfg.
func NewSink(log logrus.FieldLogger, cfg *config.ReportConfig) (Sink, error) {
	switch {
	case cfg.S3 != nil && cfg.S3.Enabled:
		return NewS3Sink(log, cfg.S3), nil
	case cfg.Local != nil && cfg.Local.Enabled:
		return NewLocalSink(log, cfg.Local.Dir), nil
	default:
		return nil, fmt.Errorf("no report sink configured")
	}
}

// Compile-time interface checks.
var (
	_ Sink = (*localSink)(nil)
	_ Sink = (*s3Sink)(nil)
)

type localSink struct {
	log logrus.FieldLogger
	dir string
}

// NewLocalSink writes reports below dir.
func NewLocalSink(log logrus.FieldLogger, dir string) Sink {
	return &localSink{
		log: log.WithField("component", "report-local"),
		dir: dir,
	}
}

// Write stores the report through a temporary file so readers never see a
// partial report.
func (s *localSink) Write(ctx context.Context, name string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, filepath.FromSlash(path.Clean("/"+name)))

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".report-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()

		return "", fmt.Errorf("writing report: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("renaming report: %w", err)
	}

	s.log.WithField("path", target).Debug("Report written")

	return target, nil
}

type s3Sink struct {
	log    logrus.FieldLogger
	cfg    *config.S3ReportConfig
	client *s3.Client
}

// NewS3Sink uploads reports to an S3 compatible bucket.
func NewS3Sink(log logrus.FieldLogger, cfg *config.S3ReportConfig) Sink {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return &s3Sink{
		log:    log.WithField("component", "report-s3"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, opts...),
	}
}

// Write uploads the report and returns its s3:// URI.
func (s *s3Sink) Write(ctx context.Context, name string, content []byte) (string, error) {
	key := s.resolveKey(name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading report to s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}

	s.log.WithFields(logrus.Fields{
		"bucket": s.cfg.Bucket,
		"key":    key,
	}).Debug("Report uploaded")

	return fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, key), nil
}

// resolveKey joins the configured prefix and name.
func (s *s3Sink) resolveKey(name string) string {
	prefix := s.cfg.Prefix
	if prefix == "" {
		prefix = DefaultS3Prefix
	}

	return strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(path.Clean("/"+name), "/")
}
