package replicate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) *Prediction {
	t.Helper()
	var pred Prediction
	require.NoError(t, json.Unmarshal([]byte(raw), &pred))
	return &pred
}

func TestPredictionDecode(t *testing.T) {
	pred := decode(t, `{
		"id": "abc",
		"status": "processing",
		"urls": {"get": "https://api.replicate.com/v1/predictions/abc"},
		"output": null
	}`)

	assert.Equal(t, "abc", pred.ID)
	assert.Equal(t, StatusProcessing, pred.Status)
	assert.Equal(t, "https://api.replicate.com/v1/predictions/abc", pred.StatusURL())
}

func TestPredictionRawPreserved(t *testing.T) {
	raw := `{"id":"abc","status":"succeeded","output":["https://files.example/a.png"],"metrics":{"predict_time":1.5}}`
	pred := decode(t, raw)

	assert.JSONEq(t, raw, string(pred.Raw()))

	reencoded, err := json.Marshal(pred)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(reencoded))
}

func TestModelName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"model": "stability-ai/sdxl:39ed52f2"}`, "sdxl"},
		{`{"model": "trellis"}`, "trellis"},
		{`{"version": {"model": "owner/hunyuan3d"}}`, "hunyuan3d"},
		{`{"prediction": {"model": "owner/flux:abc"}}`, "flux"},
		{`{"version": "39ed52f2a78e"}`, "unknown-model"},
		{`{"id": "abc"}`, "unknown-model"},
		{`{"model": "a/b", "version": {"model": "c/d"}}`, "b"},
	}

	for _, tt := range tests {
		pred := decode(t, tt.raw)
		assert.Equal(t, tt.want, pred.ModelName(), "payload %s", tt.raw)
	}
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, StatusStarting.Pending())
	assert.True(t, StatusProcessing.Pending())
	assert.False(t, StatusSucceeded.Pending())

	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCanceled.Terminal())
	assert.False(t, StatusProcessing.Terminal())

	weird := Status("weird")
	assert.False(t, weird.Pending())
	assert.False(t, weird.Terminal())
}
