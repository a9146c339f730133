package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/otrix/occam-agents/internal/clock"
	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/domain"
)

// Archive uploads retention-expired batches of audit events to S3 cold
// storage, keyed by the category that governed their retention deadline.
type Archive struct {
	client *s3.Client
	bucket string
	clock  clock.Clock
}

func NewArchive(ctx context.Context, cfg config.S3Config, clk clock.Clock) (*Archive, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.Endpoint != "" {
			return aws.Endpoint{PartitionID: "aws", URL: cfg.Endpoint, SigningRegion: cfg.Region}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) { o.UsePathStyle = true })
	return &Archive{client: client, bucket: cfg.ArchiveBucket, clock: clk}, nil
}

// ArchiveBatch uploads a batch of events that have crossed their retention
// deadline, under a year/month/day/category key.
func (a *Archive) ArchiveBatch(ctx context.Context, events []*domain.AuditEvent, category, batchID string) error {
	if len(events) == 0 {
		return nil
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("audit: marshal archive batch: %w", err)
	}
	now := a.clock.Now().UTC()
	key := fmt.Sprintf("%d/%02d/%02d/%s/%s.json", now.Year(), now.Month(), now.Day(), category, batchID)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("audit: upload archive batch: %w", err)
	}
	return nil
}

// ArchiveKeyFor is exposed for tests that need a deterministic key without
// touching S3.
func ArchiveKeyFor(now time.Time, category, batchID string) string {
	return fmt.Sprintf("%d/%02d/%02d/%s/%s.json", now.Year(), now.Month(), now.Day(), category, batchID)
}
