package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tutu-network/streakd/internal/domain"
)

// ObjectPutter is the slice of the S3 client the sink uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads one JSONL object per reference day.
type S3Sink struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Sink loads AWS configuration from the environment. Static keys from
// STREAKD_S3_ACCESS_KEY_ID / STREAKD_S3_SECRET_ACCESS_KEY take precedence
// when set; a custom endpoint switches to path-style addressing.
func NewS3Sink(ctx context.Context, cfg Config) (*S3Sink, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 archive: bucket is required")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.S3Region != "" {
		opts = append(opts, config.WithRegion(cfg.S3Region))
	}
	if id, secret := os.Getenv("STREAKD_S3_ACCESS_KEY_ID"), os.Getenv("STREAKD_S3_SECRET_ACCESS_KEY"); id != "" && secret != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SinkWithClient(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

// NewS3SinkWithClient wraps an existing client.
func NewS3SinkWithClient(client ObjectPutter, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

// Archive implements Sink. A rerun for the same day overwrites the object;
// the cutoff is derived from the day, so it carries the same awards.
func (s *S3Sink) Archive(ctx context.Context, day domain.Date, awards []domain.BadgeAward) (string, error) {
	if len(awards) == 0 {
		return "", nil
	}
	data, err := encode(awards)
	if err != nil {
		return "", fmt.Errorf("encode awards: %w", err)
	}

	key := path.Join(s.prefix, ObjectName(day))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("upload archive: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
