package api

import "encoding/json"

// SaveOutcome is the per-asset result of a persistence run. Successful
// entries carry the storage key and serving URL; failed entries carry the
// error and never abort their siblings. The job-metadata blob appears as
// one extra entry with Type "metadata".
type SaveOutcome struct {
	Source      string `json:"source,omitempty"`
	StorageKey  string `json:"storageKey,omitempty"`
	ServingURL  string `json:"servingUrl,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Type        string `json:"type,omitempty"`
	Error       string `json:"error,omitempty"`
}

type SaveResult struct {
	Saved      []SaveOutcome `json:"saved"`
	StoredURLs []string      `json:"storedUrls"`
}

type NextAction struct {
	Endpoint string `json:"endpoint"`
	PollURL  string `json:"pollUrl"`
}

type ProxyResponse struct {
	OK         bool            `json:"ok"`
	Pending    bool            `json:"pending,omitempty"`
	Prediction json.RawMessage `json:"prediction"`
	Saved      []SaveOutcome   `json:"saved,omitempty"`
	StoredURLs []string        `json:"storedUrls,omitempty"`
	Next       *NextAction     `json:"next,omitempty"`
}

type PollRequest struct {
	URL      string `json:"url,omitempty"`
	Get      string `json:"get,omitempty"`
	Href     string `json:"href,omitempty"`
	PollURL  string `json:"pollUrl,omitempty"`
	APIToken string `json:"apiToken,omitempty"`
}

// StatusURL returns the first poll-url candidate present in the request.
func (r PollRequest) StatusURL() string {
	for _, candidate := range []string{r.URL, r.Get, r.Href, r.PollURL} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

type HealthConfiguration struct {
	ReplicateToken bool `json:"replicateToken"`
	ImageBucket    bool `json:"imageBucket"`
	R2Storage      bool `json:"r2Storage"`
}

type HealthResponse struct {
	OK            bool                `json:"ok"`
	Service       string              `json:"service"`
	Version       string              `json:"version"`
	Configuration HealthConfiguration `json:"configuration"`
	Features      []string            `json:"features"`
	Endpoints     []string            `json:"endpoints"`
}

type ListAssetsRequest struct {
	Prefix string `schema:"prefix"`
	Limit  int    `schema:"limit"`
}

type StoredObjectInfo struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

type ListAssetsResponse struct {
	Objects []StoredObjectInfo `json:"objects"`
}
