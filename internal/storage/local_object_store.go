package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalObjectStore keeps objects on the filesystem with a JSON sidecar per
// object holding the content type, ETag, and custom metadata. It serves as
// the persistence backend when no S3 endpoint is configured.
type LocalObjectStore struct {
	baseDir string
}

var _ ObjectStore = (*LocalObjectStore)(nil)

const metaSuffix = ".meta.json"

type localObjectMeta struct {
	ContentType string            `json:"contentType,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func NewLocalObjectStore(dir string) (*LocalObjectStore, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}

	if err := os.MkdirAll(baseDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", baseDir, err)
	}

	return &LocalObjectStore{baseDir: baseDir}, nil
}

func (s *LocalObjectStore) fullpath(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

func (s *LocalObjectStore) CreateBucket(ctx context.Context) error {
	return os.MkdirAll(s.baseDir, os.ModePerm)
}

func (s *LocalObjectStore) PutObject(ctx context.Context, key string, data io.Reader, opts PutOptions) error {
	path := s.fullpath(key)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s/%s: %w", s.baseDir, key, err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s/%s: %w", s.baseDir, key, err)
	}
	defer dst.Close()

	hash := md5.New()
	size, err := io.Copy(io.MultiWriter(dst, hash), data)
	if err != nil {
		return fmt.Errorf("failed to write file %s/%s: %w", s.baseDir, key, err)
	}

	meta := localObjectMeta{
		ContentType: opts.ContentType,
		ETag:        hex.EncodeToString(hash.Sum(nil)),
		Size:        size,
		Metadata:    opts.Metadata,
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s/%s: %w", s.baseDir, key, err)
	}
	if err := os.WriteFile(path+metaSuffix, encoded, 0644); err != nil {
		return fmt.Errorf("failed to write metadata for %s/%s: %w", s.baseDir, key, err)
	}

	return nil
}

func (s *LocalObjectStore) GetObject(ctx context.Context, key string) (*StoredObject, error) {
	path := s.fullpath(key)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open file %s/%s: %w", s.baseDir, key, err)
	}

	var meta localObjectMeta
	if encoded, err := os.ReadFile(path + metaSuffix); err == nil {
		if err := json.Unmarshal(encoded, &meta); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to decode metadata for %s/%s: %w", s.baseDir, key, err)
		}
	}

	if meta.Size == 0 {
		if info, err := file.Stat(); err == nil {
			meta.Size = info.Size()
		}
	}

	return &StoredObject{
		Body:        file,
		ContentType: meta.ContentType,
		ETag:        meta.ETag,
		Size:        meta.Size,
		Metadata:    meta.Metadata,
	}, nil
}

func (s *LocalObjectStore) ListObjects(ctx context.Context, prefix string, limit int) ([]Object, error) {
	var objects []Object

	err := filepath.Walk(s.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, metaSuffix) {
			return nil
		}

		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		objects = append(objects, Object{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects in %s with prefix %s: %w", s.baseDir, prefix, err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	if limit > 0 && len(objects) > limit {
		objects = objects[:limit]
	}

	return objects, nil
}
