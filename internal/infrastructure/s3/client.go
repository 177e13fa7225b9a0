package s3infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prazos-api/internal/config"
	"github.com/prazos-api/internal/domain"
	"github.com/prazos-api/internal/pkg/id"
)

type putAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewClient creates an S3 client. When cfg.AWSEndpointURL is set (LocalStack),
// it overrides the endpoint and enables path-style addressing.
func NewClient(cfg *config.Config, awsCfg aws.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
			o.UsePathStyle = true
		}
	})
}

// Snapshot is the archived content of one category taken right before a clear.
type Snapshot struct {
	TenantID string          `json:"tenant_id"`
	Category domain.Category `json:"category"`
	Numbers  []int           `json:"numbers"`
	TakenAt  time.Time       `json:"taken_at"`
}

// Archiver writes clear snapshots to a bucket.
type Archiver struct {
	client putAPI
	bucket string
	now    func() time.Time
}

func NewArchiver(client putAPI, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket, now: time.Now}
}

// Archive uploads numbers under snapshots/{tenant}/{category}/{ulid}.json.
func (a *Archiver) Archive(ctx context.Context, tenantID string, c domain.Category, numbers []int) error {
	taken := a.now().UTC()
	body, err := json.Marshal(Snapshot{TenantID: tenantID, Category: c, Numbers: numbers, TakenAt: taken})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(Key(tenantID, c, taken)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// Key returns a fresh object key for a snapshot taken at at. Keys of one
// category list in the order the snapshots were taken.
func Key(tenantID string, c domain.Category, at time.Time) string {
	return fmt.Sprintf("snapshots/%s/%s/%s.json", tenantID, c, id.NewAt(at))
}
