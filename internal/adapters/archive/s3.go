// Package archive copies terminal enhancement results to S3 for long-term audit.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/target/ticket-enhancer/config"
	"github.com/target/ticket-enhancer/internal/domain/model"
)

// Uploader is the subset of *manager.Uploader the archiver uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver writes results to keys of the form
//
//	<prefix>/<tenant>/YYYY/MM/DD/<job id>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader Uploader
}

// NewS3Archiver loads the default AWS configuration (environment, profile, or
// instance role) and builds an uploader for the configured bucket.
func NewS3Archiver(ctx context.Context, cfg config.ResultArchiveConfig) (*S3Archiver, error) {
	if !cfg.IsEnabled() {
		return nil, errors.New("result archive: bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3ArchiverWithUploader(cfg.Bucket, cfg.Prefix, manager.NewUploader(client)), nil
}

// NewS3ArchiverWithUploader builds an archiver around an existing uploader.
func NewS3ArchiverWithUploader(bucket, prefix string, up Uploader) *S3Archiver {
	return &S3Archiver{bucket: bucket, prefix: prefix, uploader: up}
}

// ObjectKey returns the key a result is stored under. The date comes from the
// result's creation time so a re-upload lands on the same key.
func (a *S3Archiver) ObjectKey(res model.EnhancementResult) string {
	ts := res.CreatedAt.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	year, month, day := ts.Date()
	return path.Join(a.prefix, res.TenantID,
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		res.JobID+".json",
	)
}

// Archive implements ports.ResultArchiver.
func (a *S3Archiver) Archive(ctx context.Context, res model.EnhancementResult) error {
	if res.JobID == "" || res.TenantID == "" {
		return errors.New("result archive: job and tenant ids are required")
	}
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	key := a.ObjectKey(res)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
		Metadata: map[string]string{
			"tenant-id": res.TenantID,
			"status":    string(res.Status),
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
