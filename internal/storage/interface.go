package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an object key does not exist in the backend.
var ErrNotFound = errors.New("storage object not found")

// Disposition controls the Content-Disposition of presigned/streamed objects.
type Disposition string

const (
	DispositionInline     Disposition = "inline"
	DispositionAttachment Disposition = "attachment"
)

// PresignOptions tunes presigned URL generation.
type PresignOptions struct {
	TTL         time.Duration
	Disposition Disposition
	Filename    string
	ContentType string
}

// Provider is the uniform capability surface over local/S3/OSS backends.
// Writes always use canonical keys; reads may probe legacy key candidates.
type Provider interface {
	// Exists reports whether an object exists under key.
	Exists(ctx context.Context, key string) (bool, error)
	// PutFile uploads a local file under key with the given content type.
	PutFile(ctx context.Context, path, key, contentType string) error
	// PutBytes uploads an in-memory payload under key.
	PutBytes(ctx context.Context, data []byte, key, contentType string) error
	// GetBytes fetches the full object payload. Returns ErrNotFound when absent.
	GetBytes(ctx context.Context, key string) ([]byte, error)
	// GetFile downloads the object to the given local path.
	GetFile(ctx context.Context, key, path string) error
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// Presign returns a time-limited direct URL for the object, or an empty
	// string when the backend cannot produce one (local storage).
	Presign(ctx context.Context, key string, opts PresignOptions) (string, error)
	// URIFor returns the provider-qualified URI for a key.
	URIFor(key string) string
}
