package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/mailcraft/server/internal/infra/config"
	"github.com/mailcraft/server/internal/port/outbound"
)

// objectPutter is the part of *s3.Client the archive uses.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PayloadArchive writes raw webhook bodies to S3 or an S3 compatible store.
type PayloadArchive struct {
	client objectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewClient creates an S3 client. A custom endpoint switches to path-style
// addressing for R2, MinIO and B2.
func NewClient(ctx context.Context, cfg config.ArchiveConfig) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewPayloadArchive creates an archive writing under prefix in bucket.
func NewPayloadArchive(client objectPutter, bucket, prefix string) *PayloadArchive {
	return &PayloadArchive{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// Archive stores raw once per (provider, eventID). Redeliveries keep the first copy.
func (a *PayloadArchive) Archive(ctx context.Context, provider, eventID string, raw []byte) error {
	key := a.key(provider, eventID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String(http.DetectContentType(raw)),
		IfNoneMatch: aws.String("*"),
		Metadata: map[string]string{
			"provider": provider,
			"event-id": eventID,
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return nil
		}
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (a *PayloadArchive) key(provider, eventID string) string {
	day := a.now().UTC().Format("2006/01/02")
	return path.Join(a.prefix, provider, day, sanitizeKey(eventID))
}

// sanitizeKey keeps event IDs from escaping their prefix.
func sanitizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.', r == ':':
			return r
		default:
			return '_'
		}
	}, s)
}

// Compile-time check
var _ outbound.PayloadArchivePort = (*PayloadArchive)(nil)
