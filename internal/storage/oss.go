package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSStorage implements Provider over Aliyun OSS.
type OSSStorage struct {
	bucket     *oss.Bucket
	bucketName string
}

// OSSConfig holds configuration for the OSS backend.
type OSSConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
}

// NewOSSStorage creates a new OSS storage provider. The bucket handle is built
// without a request, so bucket access is not verified here.
func NewOSSStorage(cfg OSSConfig) (*OSSStorage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("OSS_ENDPOINT and OSS_BUCKET are required for oss storage")
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", cfg.Bucket, err)
	}

	slog.Info("OSS storage initialized", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
	return &OSSStorage{bucket: bucket, bucketName: cfg.Bucket}, nil
}

func isOSSNotFound(err error) bool {
	var svcErr oss.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.StatusCode == 404
	}
	return false
}

func (o *OSSStorage) Exists(_ context.Context, key string) (bool, error) {
	ok, err := o.bucket.IsObjectExist(key)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return ok, nil
}

func (o *OSSStorage) PutFile(_ context.Context, path, key, contentType string) error {
	opts := []oss.Option{}
	if contentType != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	if err := o.bucket.PutObjectFromFile(key, path, opts...); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (o *OSSStorage) PutBytes(_ context.Context, data []byte, key, contentType string) error {
	opts := []oss.Option{}
	if contentType != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	if err := o.bucket.PutObject(key, bytes.NewReader(data), opts...); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (o *OSSStorage) GetBytes(_ context.Context, key string) ([]byte, error) {
	body, err := o.bucket.GetObject(key)
	if err != nil {
		if isOSSNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer body.Close()

	content, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return content, nil
}

func (o *OSSStorage) GetFile(_ context.Context, key, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := o.bucket.GetObjectToFile(key, path); err != nil {
		if isOSSNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to download %s: %w", key, err)
	}
	return nil
}

func (o *OSSStorage) Delete(_ context.Context, key string) error {
	if err := o.bucket.DeleteObject(key); err != nil && !isOSSNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (o *OSSStorage) Presign(_ context.Context, key string, opts PresignOptions) (string, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	signOpts := []oss.Option{}
	if opts.Disposition != "" {
		disposition := string(opts.Disposition)
		if opts.Filename != "" {
			disposition = fmt.Sprintf("%s; filename=%s", opts.Disposition, url.QueryEscape(opts.Filename))
		}
		signOpts = append(signOpts, oss.ResponseContentDisposition(disposition))
	}
	if opts.ContentType != "" {
		signOpts = append(signOpts, oss.ResponseContentType(opts.ContentType))
	}
	signedURL, err := o.bucket.SignURL(key, oss.HTTPGet, int64(ttl.Seconds()), signOpts...)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return signedURL, nil
}

func (o *OSSStorage) URIFor(key string) string {
	return fmt.Sprintf("oss://%s/%s", o.bucketName, key)
}
