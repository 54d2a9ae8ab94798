package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"replicate-relay/internal/replicate"
	"replicate-relay/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObject struct {
	data []byte
	opts storage.PutOptions
}

// memStore is a threadsafe in-memory ObjectStore; the persister writes to
// it concurrently.
type memStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	failPut bool
}

var _ storage.ObjectStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{objects: make(map[string]memObject)}
}

func (s *memStore) CreateBucket(ctx context.Context) error { return nil }

func (s *memStore) PutObject(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	if s.failPut {
		return fmt.Errorf("simulated write failure")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{data: body, opts: opts}
	return nil
}

func (s *memStore) GetObject(ctx context.Context, key string) (*storage.StoredObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.StoredObject{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: obj.opts.ContentType,
		Size:        int64(len(obj.data)),
		Metadata:    obj.opts.Metadata,
	}, nil
}

func (s *memStore) ListObjects(ctx context.Context, prefix string, limit int) ([]storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var objects []storage.Object
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, storage.Object{Key: key, Size: int64(len(obj.data))})
		}
	}
	return objects, nil
}

func decodePrediction(t *testing.T, raw string) *replicate.Prediction {
	t.Helper()
	var pred replicate.Prediction
	require.NoError(t, json.Unmarshal([]byte(raw), &pred))
	return &pred
}

func newTestPersister(store storage.ObjectStore) *Persister {
	p := NewPersister(store, "http://relay.test")
	p.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func newAssetServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes")) //nolint:errcheck
	})
	mux.HandleFunc("/b.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("mp4-bytes")) //nolint:errcheck
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	})
	mux.HandleFunc("/weird", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-mystery")
		w.Write([]byte("???")) //nolint:errcheck
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPersisterSavesAssetsAndMetadata(t *testing.T) {
	srv := newAssetServer(t)
	store := newMemStore()
	p := newTestPersister(store)

	pred := decodePrediction(t, fmt.Sprintf(
		`{"id": "pred-1", "status": "succeeded", "model": "owner/trellis:v1", "output": ["%s/a.png"]}`,
		srv.URL))

	result, err := p.SaveOutputs(context.Background(), pred)
	require.NoError(t, err)

	require.Len(t, result.Saved, 2)

	asset := result.Saved[0]
	assert.Equal(t, srv.URL+"/a.png", asset.Source)
	assert.Equal(t, "trellis-20240101-120000-0.png", asset.StorageKey)
	assert.Equal(t, "http://relay.test/image/trellis-20240101-120000-0.png", asset.ServingURL)
	assert.Equal(t, "image/png", asset.ContentType)
	assert.Equal(t, int64(len("png-bytes")), asset.Size)
	assert.Empty(t, asset.Error)

	meta := result.Saved[1]
	assert.Equal(t, "metadata", meta.Type)
	assert.Equal(t, "trellis-20240101-120000-metadata.json", meta.StorageKey)

	assert.Equal(t, []string{asset.ServingURL}, result.StoredURLs)

	stored, err := store.GetObject(context.Background(), asset.StorageKey)
	require.NoError(t, err)
	defer stored.Body.Close()
	assert.Equal(t, "pred-1", stored.Metadata["replicateId"])
	assert.Equal(t, srv.URL+"/a.png", stored.Metadata["sourceUrl"])
	assert.Equal(t, "trellis", stored.Metadata["modelName"])
	assert.NotEmpty(t, stored.Metadata["savedAt"])

	metaObj, err := store.GetObject(context.Background(), meta.StorageKey)
	require.NoError(t, err)
	defer metaObj.Body.Close()
	blob, err := io.ReadAll(metaObj.Body)
	require.NoError(t, err)
	assert.JSONEq(t, string(pred.Raw()), string(blob))
}

func TestPersisterPartialFailure(t *testing.T) {
	srv := newAssetServer(t)
	store := newMemStore()
	p := newTestPersister(store)

	pred := decodePrediction(t, fmt.Sprintf(
		`{"id": "pred-2", "status": "succeeded", "model": "m", "output": ["%s/a.png", "%s/broken", "%s/b.mp4"]}`,
		srv.URL, srv.URL, srv.URL))

	result, err := p.SaveOutputs(context.Background(), pred)
	require.NoError(t, err)

	// 3 per-asset outcomes plus the metadata entry
	require.Len(t, result.Saved, 4)
	assert.Empty(t, result.Saved[0].Error)
	assert.Contains(t, result.Saved[1].Error, "fetch failed with status 500")
	assert.Empty(t, result.Saved[2].Error)
	assert.Equal(t, "metadata", result.Saved[3].Type)

	assert.Len(t, result.StoredURLs, 2)
}

func TestPersisterUnsupportedFormat(t *testing.T) {
	srv := newAssetServer(t)
	store := newMemStore()
	p := newTestPersister(store)

	pred := decodePrediction(t, fmt.Sprintf(
		`{"id": "pred-3", "status": "succeeded", "model": "m", "output": "%s/weird"}`, srv.URL))

	result, err := p.SaveOutputs(context.Background(), pred)
	require.NoError(t, err)

	require.Len(t, result.Saved, 2)
	assert.Equal(t, "Unsupported format", result.Saved[0].Error)
	assert.Empty(t, result.StoredURLs)
}

func TestPersisterStoreWriteFailure(t *testing.T) {
	srv := newAssetServer(t)
	store := newMemStore()
	store.failPut = true
	p := newTestPersister(store)

	pred := decodePrediction(t, fmt.Sprintf(
		`{"id": "pred-4", "status": "succeeded", "model": "m", "output": "%s/a.png"}`, srv.URL))

	result, err := p.SaveOutputs(context.Background(), pred)
	require.NoError(t, err)

	// asset write failed and the metadata write failure is logged only
	require.Len(t, result.Saved, 1)
	assert.Contains(t, result.Saved[0].Error, "store write failed")
	assert.Empty(t, result.StoredURLs)
}

func TestPersisterNoAssets(t *testing.T) {
	store := newMemStore()
	p := newTestPersister(store)

	pred := decodePrediction(t, `{"id": "pred-5", "status": "succeeded", "model": "m", "output": {"text": "no files here"}}`)

	result, err := p.SaveOutputs(context.Background(), pred)
	require.NoError(t, err)

	assert.Empty(t, result.Saved)
	assert.Empty(t, result.StoredURLs)
	assert.Empty(t, store.objects)
}

func TestPersisterStoreNotConfigured(t *testing.T) {
	p := NewPersister(nil, "http://relay.test")

	pred := decodePrediction(t, `{"id": "pred-6", "status": "succeeded", "output": "https://files.example/a.png"}`)

	_, err := p.SaveOutputs(context.Background(), pred)
	assert.ErrorIs(t, err, ErrStoreNotConfigured)
}

func TestPersisterDuplicateURLsStoredOnce(t *testing.T) {
	srv := newAssetServer(t)
	store := newMemStore()
	p := newTestPersister(store)

	pred := decodePrediction(t, fmt.Sprintf(
		`{"id": "pred-7", "status": "succeeded", "model": "m", "output": ["%s/a.png", "%s/a.png"]}`,
		srv.URL, srv.URL))

	result, err := p.SaveOutputs(context.Background(), pred)
	require.NoError(t, err)

	// duplicate collapses to one asset plus metadata
	require.Len(t, result.Saved, 2)
	assert.Equal(t, "m-20240101-120000-0.png", result.Saved[0].StorageKey)
	assert.Equal(t, "metadata", result.Saved[1].Type)
}
