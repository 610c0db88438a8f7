// Package archive mirrors persisted document snapshots to S3-compatible
// object storage. Archival is best-effort; editors never see its failures.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mindloom/mindloom/internal/docname"
)

// Config holds the S3/MinIO connection settings.
type Config struct {
	// Endpoint for MinIO; leave empty for AWS S3.
	Endpoint string
	Bucket   string
	Region   string

	AccessKeyID     string
	SecretAccessKey string

	// UseSSL enables HTTPS on the custom endpoint.
	UseSSL bool

	// PathPrefix is prepended to every object key.
	PathPrefix string
}

// S3Archiver writes snapshot objects keyed by document kind and id.
type S3Archiver struct {
	client     *s3.Client
	bucket     string
	pathPrefix string
}

// New creates the archiver.
func New(cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		endpoint := fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			// Required for MinIO.
			o.UsePathStyle = true
		})
	}

	return &S3Archiver{
		client:     s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:     cfg.Bucket,
		pathPrefix: cfg.PathPrefix,
	}, nil
}

// Archive writes one snapshot object. Keys are versioned by timestamp so
// earlier snapshots of the same document survive.
func (a *S3Archiver) Archive(ctx context.Context, ref docname.Ref, snapshot []byte) error {
	key := fmt.Sprintf("%s/%s/%s.json", ref.Kind, ref.PublicID, time.Now().UTC().Format("20060102T150405Z"))
	if a.pathPrefix != "" {
		key = a.pathPrefix + "/" + key
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(snapshot),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", ref.Name(), err)
	}
	return nil
}
