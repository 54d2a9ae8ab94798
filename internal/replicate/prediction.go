package replicate

import (
	"encoding/json"
	"strings"
)

// Status is the upstream-assigned prediction state. The set below covers
// every documented value, but upstream may introduce new ones, so it is
// kept as an open string type.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Pending reports whether the prediction is still being worked on and
// should be polled again.
func (s Status) Pending() bool {
	return s == StatusStarting || s == StatusProcessing
}

// Terminal reports whether the prediction reached a state the poller will
// not re-query.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

type PredictionURLs struct {
	Get    string `json:"get,omitempty"`
	Cancel string `json:"cancel,omitempty"`
}

// Prediction is one request to the upstream generation API. The output
// payload has no fixed schema, so it is kept as a decoded any; the raw
// JSON is retained verbatim for the per-job metadata blob and for echoing
// back to callers.
type Prediction struct {
	ID     string
	Status Status
	URLs   PredictionURLs
	Output any

	// Model identifier candidates. Depending on the endpoint the model
	// appears as a top-level "owner/name:version" string or nested under
	// version.model or prediction.model.
	Model           string
	VersionModel    string
	PredictionModel string

	raw json.RawMessage
}

func (p *Prediction) UnmarshalJSON(data []byte) error {
	p.raw = append(p.raw[:0], data...)

	var fields struct {
		ID     string         `json:"id"`
		Status Status         `json:"status"`
		URLs   PredictionURLs `json:"urls"`
		Output any            `json:"output"`
		Model  string         `json:"model"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	p.ID = fields.ID
	p.Status = fields.Status
	p.URLs = fields.URLs
	p.Output = fields.Output
	p.Model = fields.Model

	// version is usually a bare hash string; only the object form carries
	// a model reference.
	var nested struct {
		Version    json.RawMessage `json:"version"`
		Prediction json.RawMessage `json:"prediction"`
	}
	if err := json.Unmarshal(data, &nested); err == nil {
		p.VersionModel = nestedModel(nested.Version)
		p.PredictionModel = nestedModel(nested.Prediction)
	}

	return nil
}

func (p *Prediction) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}

	fields := map[string]any{}
	if p.ID != "" {
		fields["id"] = p.ID
	}
	if p.Status != "" {
		fields["status"] = p.Status
	}
	if p.URLs.Get != "" || p.URLs.Cancel != "" {
		fields["urls"] = p.URLs
	}
	if p.Output != nil {
		fields["output"] = p.Output
	}
	if p.Model != "" {
		fields["model"] = p.Model
	}
	return json.Marshal(fields)
}

// Raw returns the prediction exactly as upstream sent it.
func (p *Prediction) Raw() json.RawMessage {
	if len(p.raw) > 0 {
		return p.raw
	}
	raw, err := p.MarshalJSON()
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

// StatusURL is the URL to re-query for updated status.
func (p *Prediction) StatusURL() string {
	return p.URLs.Get
}

// ModelName resolves the bare model name: the first present of model,
// version.model, prediction.model, stripped of its version suffix and
// owner prefix. Falls back to "unknown-model".
func (p *Prediction) ModelName() string {
	for _, candidate := range []string{p.Model, p.VersionModel, p.PredictionModel} {
		if candidate == "" {
			continue
		}
		name := strings.SplitN(candidate, ":", 2)[0]
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		if name != "" {
			return name
		}
	}
	return "unknown-model"
}

func nestedModel(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var ref struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil {
		return ""
	}
	return ref.Model
}
