// Package avatar stores profile images in an S3-compatible bucket.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config describes the bucket avatars are uploaded to. An empty Bucket
// disables uploads entirely.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string

	// PublicBaseURL is the prefix of the returned object URLs, e.g. a CDN
	// origin. Defaults to the endpoint + bucket in path style.
	PublicBaseURL string
}

// Enabled reports whether uploads are configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.Bucket) != "" }

// Store uploads avatar images and returns their public URLs.
type Store struct {
	api     *s3.Client
	bucket  string
	baseURL string
}

// New builds a Store from cfg. Call only when cfg.Enabled().
func New(ctx context.Context, cfg Config) (*Store, error) {
	if !cfg.Enabled() {
		return nil, errors.New("avatar: no bucket configured")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		if endpoint != "" {
			baseURL = strings.TrimRight(endpoint, "/") + "/" + cfg.Bucket
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, region)
		}
	}

	return &Store{api: client, bucket: cfg.Bucket, baseURL: baseURL}, nil
}

// Upload stores the image under avatars/<accountID><ext> and returns its
// public URL. The previous object for the account, if any, is overwritten.
func (s *Store) Upload(ctx context.Context, accountID, filename, contentType string, body io.Reader, size int64) (string, error) {
	if s == nil {
		return "", errors.New("avatar: nil store")
	}

	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp":
	default:
		return "", fmt.Errorf("avatar: unsupported image type %q", ext)
	}

	key := "avatars/" + accountID + ext
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          body,
		ContentLength: &size,
		ContentType:   &contentType,
	})
	if err != nil {
		return "", err
	}
	return s.baseURL + "/" + key, nil
}
