// Package objectstore implements the primary artifact backend over any
// S3-compatible object store via the MinIO client.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/driftline/driftline/internal/artifact"
	"github.com/driftline/driftline/internal/errclass"
)

// BackendName identifies this backend in configuration and results.
const BackendName = "objectstore"

// Config holds object store settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLExpiry time.Duration // presigned URL lifetime (default: 24h)
}

// Backend stores artifacts as objects in one bucket.
type Backend struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// New creates an object store backend. The bucket must already exist;
// provisioning is an operator concern, not a sync-path one.
func New(cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("object store endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Backend{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

func (b *Backend) Name() string { return BackendName }

func (b *Backend) Upload(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return classify("putting object", key, err)
	}
	return nil
}

func (b *Backend) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("getting object", key, err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).StatusCode == 404 {
			return nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, key)
		}
		return nil, classify("reading object", key, err)
	}
	return data, nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classify("removing object", key, err)
	}
	return nil
}

// PublicURL returns a presigned GET URL for the object.
func (b *Backend) PublicURL(ctx context.Context, key string) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, b.expiry, url.Values{})
	if err != nil {
		return "", classify("presigning", key, err)
	}
	return u.String(), nil
}

// classify maps an S3 response onto the shared taxonomy. It must see the
// raw client error: ToErrorResponse does not unwrap.
func classify(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	class := errclass.ClassifyHTTPStatus(resp.StatusCode)
	return errclass.Backend(class, fmt.Errorf("%s %s: %w", op, key, err))
}
