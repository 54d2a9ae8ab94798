package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

type Object struct {
	Key  string
	Size int64
}

// PutOptions carries the HTTP metadata and the custom key/value record
// attached to a stored object.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// StoredObject is a retrieved object. Body must be closed by the caller.
type StoredObject struct {
	Body        io.ReadCloser
	ContentType string
	ETag        string
	Size        int64
	Metadata    map[string]string
}

type ObjectStore interface {
	CreateBucket(ctx context.Context) error

	PutObject(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	GetObject(ctx context.Context, key string) (*StoredObject, error)

	ListObjects(ctx context.Context, prefix string, limit int) ([]Object, error)
}
