package destination

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/edvin/spoolvault/internal/model"
)

// S3 uploads archives to any S3-compatible object store via the AWS SDK.
// Custom endpoints (MinIO, Ceph RGW, backblaze) are supported through
// Settings.Endpoint with path-style addressing.
type S3 struct {
	logger zerolog.Logger
}

func NewS3(logger zerolog.Logger) *S3 {
	return &S3{logger: logger.With().Str("component", "s3-destination").Logger()}
}

func (a *S3) Name() string { return model.DestS3 }

// client builds an S3 client for the destination's endpoint and keys.
func (a *S3) client(cfg Config) *s3.Client {
	region := cfg.Settings.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.Credentials.AccessKeyID, cfg.Credentials.SecretAccessKey, ""),
		UsePathStyle: cfg.Settings.PathStyle,
	}
	if cfg.Settings.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Settings.Endpoint)
	}
	return s3.New(opts)
}

func (a *S3) validate(cfg Config) error {
	if cfg.Settings.Bucket == "" {
		return model.E(model.KindConfigInvalid, "s3 bucket is required")
	}
	if cfg.Credentials == nil || cfg.Credentials.AccessKeyID == "" || cfg.Credentials.SecretAccessKey == "" {
		return model.E(model.KindConfigInvalid, "s3 access keys are required")
	}
	return nil
}

func (a *S3) Test(ctx context.Context, cfg Config) error {
	if err := a.validate(cfg); err != nil {
		return err
	}
	_, err := a.client(cfg).HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Settings.Bucket),
	})
	if err != nil {
		return classifyS3("head bucket", err)
	}
	return nil
}

func (a *S3) Upload(ctx context.Context, cfg Config, filename string, data []byte) (RemoteRef, error) {
	if err := a.validate(cfg); err != nil {
		return RemoteRef{}, err
	}
	key := path.Join(cfg.FolderPath, filename)
	a.logger.Debug().Str("bucket", cfg.Settings.Bucket).Str("key", key).Int("size", len(data)).Msg("uploading archive")

	_, err := a.client(cfg).PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Settings.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/zip"),
	})
	if err != nil {
		return RemoteRef{}, classifyS3("put object", err)
	}
	return RemoteRef{Destination: model.DestS3, Key: key}, nil
}

func (a *S3) Download(ctx context.Context, cfg Config, ref RemoteRef) ([]byte, error) {
	if err := a.validate(cfg); err != nil {
		return nil, err
	}
	out, err := a.client(cfg).GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(cfg.Settings.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return nil, classifyS3("get object", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, model.WrapE(model.KindNetworkError, "read object body", err)
	}
	return data, nil
}

func (a *S3) Delete(ctx context.Context, cfg Config, ref RemoteRef) error {
	if err := a.validate(cfg); err != nil {
		return err
	}
	_, err := a.client(cfg).DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Settings.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return classifyS3("delete object", err)
	}
	return nil
}

// classifyS3 inspects SDK error text, following the same pragmatic matching
// the rest of the codebase uses for S3 responses.
func classifyS3(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "InvalidAccessKeyId"),
		strings.Contains(msg, "SignatureDoesNotMatch"),
		strings.Contains(msg, "AccessDenied"),
		strings.Contains(msg, "ExpiredToken"):
		return model.WrapE(model.KindAuthExpired, op, err)
	case strings.Contains(msg, "QuotaExceeded"),
		strings.Contains(msg, "SlowDown"):
		return model.WrapE(model.KindQuotaExceeded, op, err)
	case strings.Contains(msg, "NoSuchBucket"),
		strings.Contains(msg, "NoSuchKey"),
		strings.Contains(msg, "PermanentRedirect"):
		return model.WrapE(model.KindConfigInvalid, op, err)
	default:
		return model.WrapE(model.KindNetworkError, op, err)
	}
}
