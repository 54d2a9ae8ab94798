package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"replicate-relay/internal/assets"
	"replicate-relay/internal/replicate"
	"replicate-relay/internal/storage"
	"replicate-relay/pkg/api"

	"github.com/go-chi/chi/v5"
)

const (
	ServiceName = "replicate-relay"
	Version     = "1.0.0"
)

type Options struct {
	PublicBaseURL string
	BucketName    string
	PollTimeout   time.Duration
}

// RelayService proxies prediction requests to the upstream API, polls
// them to completion, and persists their output assets. It holds only
// injected dependencies; all cross-request state lives upstream and in
// the object store.
type RelayService struct {
	client    *replicate.Client
	poller    *replicate.Poller
	persister *assets.Persister
	store     storage.ObjectStore

	publicBaseURL string
	bucketName    string
	pollTimeout   time.Duration
}

func NewRelayService(client *replicate.Client, poller *replicate.Poller, persister *assets.Persister, store storage.ObjectStore, opts Options) *RelayService {
	pollTimeout := opts.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = replicate.DefaultPollTimeout
	}

	return &RelayService{
		client:        client,
		poller:        poller,
		persister:     persister,
		store:         store,
		publicBaseURL: opts.PublicBaseURL,
		bucketName:    opts.BucketName,
		pollTimeout:   pollTimeout,
	}
}

func (s *RelayService) AddRoutes(r chi.Router) {
	r.Post("/", RestHandler(s.CreatePrediction))
	r.Post("/proxy", RestHandler(s.CreatePrediction))
	r.Post("/poll", RestHandler(s.PollPrediction))
	r.Get("/image", s.missingAssetKey)
	r.Get("/image/", s.missingAssetKey)
	r.Get("/image/{key}", s.GetStoredAsset)
	r.Get("/images", RestHandler(s.ListStoredAssets))
	r.Get("/health", RestHandler(s.Health))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteJsonResponse(w, http.StatusNotFound, ErrorResponse{
			Error:   "Not Found",
			Message: fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path),
		})
	})
}

// CreatePrediction forwards a job-creation request upstream, then polls
// the new prediction and persists its output.
func (s *RelayService) CreatePrediction(r *http.Request) (any, error) {
	body, err := ParseRequest[map[string]any](r)
	if err != nil {
		return nil, err
	}

	rawURL, _ := body["url"].(string)
	path, _ := body["path"].(string)
	requestToken, _ := body["apiToken"].(string)
	delete(body, "url")
	delete(body, "path")
	delete(body, "apiToken")

	target, err := s.client.ResolveTarget(rawURL, path)
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid target: %v", err)
	}

	token, err := s.resolveToken(requestToken)
	if err != nil {
		return nil, err
	}

	pred, err := s.client.CreatePrediction(r.Context(), target, token, body)
	if err != nil {
		return nil, err
	}

	return s.finishPrediction(r.Context(), pred, token)
}

// PollPrediction resumes an existing prediction from its status URL.
func (s *RelayService) PollPrediction(r *http.Request) (any, error) {
	req, err := ParseRequest[api.PollRequest](r)
	if err != nil {
		return nil, err
	}

	statusURL := req.StatusURL()
	if statusURL == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing poll url")
	}
	if err := s.client.ValidateURL(statusURL); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid poll url: %v", err)
	}

	token, err := s.resolveToken(req.APIToken)
	if err != nil {
		return nil, err
	}

	pred, err := s.client.GetPrediction(r.Context(), statusURL, token)
	if err != nil {
		return nil, err
	}

	return s.finishPrediction(r.Context(), pred, token)
}

// finishPrediction drives a prediction to a terminal state and, on
// success, persists its assets. Pending-after-exhaustion becomes a 202
// with a pointer to /poll; anything else unexpected is a polling failure.
func (s *RelayService) finishPrediction(ctx context.Context, pred *replicate.Prediction, token string) (any, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	final, err := s.poller.WaitForCompletion(pollCtx, pred, token)
	if err != nil {
		if errors.Is(err, replicate.ErrPollExhausted) || errors.Is(err, context.DeadlineExceeded) {
			return &StatusResponse{
				Code: http.StatusAccepted,
				Body: api.ProxyResponse{
					OK:         true,
					Pending:    true,
					Prediction: final.Raw(),
					Next:       &api.NextAction{Endpoint: "/poll", PollURL: final.StatusURL()},
				},
			}, nil
		}
		return nil, NamedErrorf(http.StatusInternalServerError, "Polling failed", "%v", err)
	}

	saved := []api.SaveOutcome{}
	storedURLs := []string{}
	if final.Status == replicate.StatusSucceeded {
		result, err := s.persister.SaveOutputs(ctx, final)
		switch {
		case errors.Is(err, assets.ErrStoreNotConfigured):
			slog.Warn("object store not configured, skipping asset persistence", "prediction_id", final.ID)
		case err != nil:
			slog.Error("failed to persist prediction outputs", "prediction_id", final.ID, "error", err)
		default:
			saved = result.Saved
			storedURLs = result.StoredURLs
		}
	}

	return api.ProxyResponse{
		OK:         final.Status == replicate.StatusSucceeded,
		Prediction: final.Raw(),
		Saved:      saved,
		StoredURLs: storedURLs,
	}, nil
}

func (s *RelayService) resolveToken(requestToken string) (string, error) {
	token, err := s.client.ResolveToken(requestToken)
	if err != nil {
		return "", ConfigErrorf(http.StatusBadRequest,
			"set REPLICATE_API_TOKEN on the deployment or pass apiToken in the request body",
			"missing Replicate API token")
	}
	return token, nil
}

func (s *RelayService) missingAssetKey(w http.ResponseWriter, r *http.Request) {
	WriteJsonResponse(w, http.StatusBadRequest, ErrorResponse{
		Error:  "Bad Request",
		Detail: "missing asset key",
	})
}

// GetStoredAsset streams a stored object. Assets are immutable once
// written, hence the year-long cache lifetime.
func (s *RelayService) GetStoredAsset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		s.missingAssetKey(w, r)
		return
	}

	if s.store == nil {
		WriteJsonResponse(w, http.StatusInternalServerError, ErrorResponse{
			Error:  "Internal Server Error",
			Detail: "object store is not configured",
			Hint:   "configure ASSET_BUCKET_NAME or LOCAL_STORAGE_DIR",
		})
		return
	}

	obj, err := s.store.GetObject(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			WriteJsonResponse(w, http.StatusNotFound, ErrorResponse{
				Error:  "Not Found",
				Detail: fmt.Sprintf("no stored asset with key %q", key),
			})
			return
		}
		slog.Error("failed to read stored asset", "key", key, "error", err)
		WriteJsonResponse(w, http.StatusInternalServerError, ErrorResponse{
			Error:  "Internal Server Error",
			Detail: "failed to read stored asset",
		})
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	if obj.ETag != "" {
		w.Header().Set("ETag", obj.ETag)
	}

	if _, err := io.Copy(w, obj.Body); err != nil {
		slog.Error("failed to stream stored asset", "key", key, "error", err)
	}
}

// ListStoredAssets lists stored keys under an optional prefix.
func (s *RelayService) ListStoredAssets(r *http.Request) (any, error) {
	if s.store == nil {
		return nil, ConfigErrorf(http.StatusInternalServerError,
			"configure ASSET_BUCKET_NAME or LOCAL_STORAGE_DIR",
			"object store is not configured")
	}

	req, err := ParseRequestQueryParams[api.ListAssetsRequest](r)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	objects, err := s.store.ListObjects(r.Context(), req.Prefix, limit)
	if err != nil {
		slog.Error("failed to list stored assets", "prefix", req.Prefix, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to list stored assets")
	}

	res := api.ListAssetsResponse{Objects: []api.StoredObjectInfo{}}
	for _, obj := range objects {
		res.Objects = append(res.Objects, api.StoredObjectInfo{
			Key:  obj.Key,
			Size: obj.Size,
			URL:  s.persister.ServingURL(obj.Key),
		})
	}
	return res, nil
}

// Health reports configuration presence flags without touching upstream
// or storage.
func (s *RelayService) Health(r *http.Request) (any, error) {
	return api.HealthResponse{
		OK:      true,
		Service: ServiceName,
		Version: Version,
		Configuration: api.HealthConfiguration{
			ReplicateToken: s.client.TokenConfigured(),
			ImageBucket:    s.bucketName != "",
			R2Storage:      s.store != nil,
		},
		Features:  []string{"prediction-proxy", "polling", "asset-persistence", "asset-serving"},
		Endpoints: []string{"POST /", "POST /proxy", "POST /poll", "GET /image/{key}", "GET /images", "GET /health"},
	}, nil
}
