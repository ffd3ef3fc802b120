package uploads

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioSource reads uploads from an S3-compatible bucket. Upload URLs map to
// object keys by their path, minus a leading bucket segment if present.
type MinioSource struct {
	client *minio.Client
	bucket string
}

func NewMinioSource(cfg MinioConfig) (*MinioSource, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioSource{client: client, bucket: cfg.Bucket}, nil
}

// Ping checks that the bucket exists.
func (s *MinioSource) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func (s *MinioSource) objectKey(ref string) (string, error) {
	p, err := urlPath(ref)
	if err != nil {
		return "", err
	}
	key := strings.TrimPrefix(p, "/")
	key = strings.TrimPrefix(key, s.bucket+"/")
	if key == "" || key == s.bucket {
		return "", fmt.Errorf("upload url %q names no object", ref)
	}
	return key, nil
}

// Fetch downloads the object into a private temp directory, keeping its base
// name so the tracker attachment gets a sensible filename.
func (s *MinioSource) Fetch(ctx context.Context, ref string) (string, func(), error) {
	key, err := s.objectKey(ref)
	if err != nil {
		return "", nil, err
	}
	dir, err := os.MkdirTemp("", "deskbridge-upload-")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	local := filepath.Join(dir, path.Base(key))
	if err := s.client.FGetObject(ctx, s.bucket, key, local, minio.GetObjectOptions{}); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("get object %s: %w: %v", key, ErrUnreadable, err)
	}
	return local, cleanup, nil
}

func (s *MinioSource) Consume(ctx context.Context, ref string) error {
	key, err := s.objectKey(ref)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}
