package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lissto-dev/imagecache/pkg/storagepath"
)

const publicReadPolicy = `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"AWS": ["*"]},
    "Action": ["s3:GetObject"],
    "Resource": ["arn:aws:s3:::%s/*"]
  }]
}`

// MinioConfig holds MinIO/S3 connection settings
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	// PublicBaseURL overrides the endpoint when building public URLs,
	// e.g. a CDN in front of the bucket
	PublicBaseURL string
	// Client is an optional pre-configured MinIO client
	Client *minio.Client
}

// MinioStore implements Store for MinIO/S3-compatible storage
type MinioStore struct {
	client     *minio.Client
	normalizer storagepath.Normalizer
	baseURL    string
}

// NewMinioStore creates a Store over a MinIO client. Paths are resolved
// against the normalizer's bucket.
func NewMinioStore(cfg MinioConfig, normalizer storagepath.Normalizer) (*MinioStore, error) {
	client := cfg.Client
	if client == nil {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("endpoint is required when client is not provided")
		}
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = client.EndpointURL().String()
	}

	return &MinioStore{
		client:     client,
		normalizer: normalizer,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// BaseURL is the origin public URLs are built on
func (s *MinioStore) BaseURL() string {
	return s.baseURL
}

// PublicURL confirms the object exists and returns its path-style public URL
func (s *MinioStore) PublicURL(ctx context.Context, canonicalPath string) (string, error) {
	canonical := s.normalizer.Normalize(canonicalPath)
	object := s.normalizer.ToBucketRelative(canonical)
	if object == "" {
		return "", fmt.Errorf("%w: empty path", ErrObjectNotFound)
	}

	if _, err := s.client.StatObject(ctx, s.normalizer.Bucket, object, minio.StatObjectOptions{}); err != nil {
		return "", translate(err, canonical)
	}
	return s.normalizer.ToPublicURL(canonical, s.baseURL), nil
}

// ListBuckets returns the names of all buckets
func (s *MinioStore) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := s.client.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.Name)
	}
	return names, nil
}

// CreateBucket creates a bucket, optionally readable by anyone
func (s *MinioStore) CreateBucket(ctx context.Context, name string, public bool) error {
	if err := s.client.MakeBucket(ctx, name, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to make bucket: %w", err)
	}
	if !public {
		return nil
	}
	if err := s.client.SetBucketPolicy(ctx, name, fmt.Sprintf(publicReadPolicy, name)); err != nil {
		return fmt.Errorf("failed to set public policy: %w", err)
	}
	return nil
}

func translate(err error, path string) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
