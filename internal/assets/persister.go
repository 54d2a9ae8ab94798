package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"replicate-relay/internal/replicate"
	"replicate-relay/internal/storage"
	"replicate-relay/pkg/api"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
)

var ErrStoreNotConfigured = errors.New("object store is not configured")

const (
	fetchTimeout = 30 * time.Second

	// Cap on simultaneous asset fetches per job.
	maxParallelFetches = 4
)

// Persister downloads every asset referenced by a completed prediction
// and writes it, plus a per-job metadata blob, into the object store.
type Persister struct {
	store   storage.ObjectStore
	fetch   *resty.Client
	baseURL string

	now func() time.Time
}

func NewPersister(store storage.ObjectStore, publicBaseURL string) *Persister {
	return &Persister{
		store:   store,
		fetch:   resty.New().SetTimeout(fetchTimeout),
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		now:     time.Now,
	}
}

// SaveOutputs persists every extractable asset of a terminal prediction.
// Per-asset failures are recorded as error entries and never abort
// sibling fetches; the metadata write is best-effort. The only error
// returned is the missing store binding, which is a configuration fault
// rather than a job outcome.
func (p *Persister) SaveOutputs(ctx context.Context, pred *replicate.Prediction) (*api.SaveResult, error) {
	if p.store == nil {
		return nil, ErrStoreNotConfigured
	}

	result := &api.SaveResult{Saved: []api.SaveOutcome{}, StoredURLs: []string{}}

	urls := ExtractAssetURLs(pred.Output)
	if len(urls) == 0 {
		slog.Info("prediction produced no fetchable assets", "prediction_id", pred.ID)
		return result, nil
	}

	modelName := pred.ModelName()
	savedAt := p.now().UTC()

	outcomes := make([]api.SaveOutcome, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for i, source := range urls {
		g.Go(func() error {
			outcomes[i] = p.saveAsset(gctx, pred, modelName, savedAt, i, source)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines record failures in outcomes

	for _, outcome := range outcomes {
		result.Saved = append(result.Saved, outcome)
		if outcome.Error == "" {
			result.StoredURLs = append(result.StoredURLs, outcome.ServingURL)
		}
	}

	if outcome, ok := p.saveMetadata(ctx, pred, modelName, savedAt); ok {
		result.Saved = append(result.Saved, outcome)
	}

	return result, nil
}

func (p *Persister) saveAsset(ctx context.Context, pred *replicate.Prediction, modelName string, savedAt time.Time, index int, source string) api.SaveOutcome {
	res, err := p.fetch.R().SetContext(ctx).Get(source)
	if err != nil {
		slog.Error("asset fetch failed", "source", source, "error", err)
		return api.SaveOutcome{Source: source, Error: fmt.Sprintf("fetch failed: %v", err)}
	}
	if !res.IsSuccess() {
		slog.Error("asset fetch returned error status", "source", source, "status", res.StatusCode())
		return api.SaveOutcome{Source: source, Error: fmt.Sprintf("fetch failed with status %d", res.StatusCode())}
	}

	contentType := res.Header().Get("Content-Type")
	extension := ResolveExtension(contentType, source)
	if extension == "" {
		slog.Warn("skipping asset with unsupported format", "source", source, "content_type", contentType)
		return api.SaveOutcome{Source: source, Error: "Unsupported format"}
	}

	key := GenerateFileName(modelName, savedAt, index, extension)
	body := res.Body()

	opts := storage.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"sourceUrl":   source,
			"replicateId": pred.ID,
			"savedAt":     savedAt.Format(time.RFC3339),
			"modelName":   modelName,
		},
	}
	if err := p.store.PutObject(ctx, key, bytes.NewReader(body), opts); err != nil {
		slog.Error("failed to store asset", "source", source, "key", key, "error", err)
		return api.SaveOutcome{Source: source, Error: fmt.Sprintf("store write failed: %v", err)}
	}

	return api.SaveOutcome{
		Source:      source,
		StorageKey:  key,
		ServingURL:  p.ServingURL(key),
		ContentType: contentType,
		Size:        int64(len(body)),
	}
}

func (p *Persister) saveMetadata(ctx context.Context, pred *replicate.Prediction, modelName string, savedAt time.Time) (api.SaveOutcome, bool) {
	key := MetadataFileName(modelName, savedAt)

	opts := storage.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"replicateId": pred.ID,
			"savedAt":     savedAt.Format(time.RFC3339),
			"modelName":   modelName,
		},
	}
	if err := p.store.PutObject(ctx, key, bytes.NewReader(pred.Raw()), opts); err != nil {
		slog.Error("failed to store prediction metadata", "key", key, "error", err)
		return api.SaveOutcome{}, false
	}

	return api.SaveOutcome{
		Type:        "metadata",
		StorageKey:  key,
		ServingURL:  p.ServingURL(key),
		ContentType: "application/json",
	}, true
}

// ServingURL is the public URL under which a stored key is re-served.
func (p *Persister) ServingURL(key string) string {
	return p.baseURL + "/image/" + url.PathEscape(key)
}
