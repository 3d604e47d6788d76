// Package archive copies finished analysis reports to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"stockpulse/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver stores each report as JSON under
// prefix/market/code/yyyy/mm/dd/task_id.json.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
	tracer trace.Tracer
}

var loadAWSConfig = config.LoadDefaultConfig

func NewS3Archiver(ctx context.Context, cfg Config, tracer trace.Tracer) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := loadAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newS3Archiver(client, cfg, tracer), nil
}

func newS3Archiver(client objectPutter, cfg Config, tracer trace.Tracer) *S3Archiver {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "reports"
	}
	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: prefix, tracer: tracer}
}

// Key returns the object key for report.
func (a *S3Archiver) Key(report *domain.AnalysisReport) string {
	day := report.CompletedAt.UTC()
	return path.Join(
		a.prefix,
		string(report.Instrument.Market),
		report.Instrument.CanonicalCode,
		day.Format("2006/01/02"),
		report.TaskID+".json",
	)
}

func (a *S3Archiver) SaveReport(ctx context.Context, report *domain.AnalysisReport) error {
	ctx, span := a.tracer.Start(ctx, "archive.save-report")
	defer span.End()

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report %s: %w", report.TaskID, err)
	}

	key := a.Key(report)
	span.SetAttributes(attribute.String("key", key))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"task-id":        report.TaskID,
			"recommendation": report.Scores.Recommendation,
			"ai-model":       report.AIModel,
		},
	})
	if err != nil {
		return fmt.Errorf("upload report %s: %w", report.TaskID, err)
	}
	return nil
}
