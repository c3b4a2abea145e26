package storage

import (
	"context"
	"fmt"
	"log/slog"

	"slidespeaker/internal/config"
)

// ProviderType identifies a storage backend.
type ProviderType string

const (
	ProviderLocal ProviderType = "local"
	ProviderS3    ProviderType = "s3"
	ProviderOSS   ProviderType = "oss"
)

// NewProviderFromConfig creates the process-wide storage provider from
// environment configuration.
func NewProviderFromConfig(ctx context.Context) (Provider, error) {
	providerType := ProviderType(config.StorageProvider)
	if providerType == "" {
		providerType = ProviderLocal
		slog.Info("No storage provider specified, defaulting to local")
	}
	return NewProvider(ctx, providerType)
}

// NewProvider creates a storage provider of the given type.
func NewProvider(ctx context.Context, providerType ProviderType) (Provider, error) {
	slog.Info("Creating storage provider", "type", providerType)
	switch providerType {
	case ProviderLocal:
		return NewLocalStorage(config.OutputDir)
	case ProviderS3:
		if config.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required for s3 storage")
		}
		return NewS3Storage(ctx, S3Config{
			Region:      config.S3Region,
			Bucket:      config.S3Bucket,
			AccessKey:   config.S3AccessKey,
			SecretKey:   config.S3SecretKey,
			EndpointURL: config.S3EndpointURL,
		})
	case ProviderOSS:
		return NewOSSStorage(OSSConfig{
			Endpoint:  config.OSSEndpoint,
			Bucket:    config.OSSBucket,
			AccessKey: config.OSSAccessKey,
			SecretKey: config.OSSSecretKey,
		})
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", providerType)
	}
}

// IsValidProviderType checks whether a provider type string is supported.
func IsValidProviderType(s string) bool {
	switch ProviderType(s) {
	case ProviderLocal, ProviderS3, ProviderOSS:
		return true
	default:
		return false
	}
}
