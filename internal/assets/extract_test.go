package assets

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeOutput(t *testing.T, raw string) any {
	t.Helper()
	var output any
	require.NoError(t, json.Unmarshal([]byte(raw), &output))
	return output
}

func TestExtractModelFile(t *testing.T) {
	output := decodeOutput(t, `{"model_file": "https://files.example/mesh.glb"}`)

	assert.Equal(t, []string{"https://files.example/mesh.glb"}, ExtractAssetURLs(output))
}

func TestExtractNamedVideos(t *testing.T) {
	output := decodeOutput(t, `{
		"color_video": "https://files.example/color.mp4",
		"combined_video": "https://files.example/combined.mp4"
	}`)

	assert.ElementsMatch(t, []string{
		"https://files.example/color.mp4",
		"https://files.example/combined.mp4",
	}, ExtractAssetURLs(output))
}

func TestExtractNoBackgroundImages(t *testing.T) {
	output := decodeOutput(t, `{
		"no_background_images": ["https://files.example/1.png", "not a url", 42, "https://files.example/2.png"]
	}`)

	assert.Equal(t, []string{
		"https://files.example/1.png",
		"https://files.example/2.png",
	}, ExtractAssetURLs(output))
}

func TestExtractOutputArray(t *testing.T) {
	output := decodeOutput(t, `["https://files.example/a.png", "relative/path.png", "https://files.example/b.png"]`)

	assert.Equal(t, []string{
		"https://files.example/a.png",
		"https://files.example/b.png",
	}, ExtractAssetURLs(output))
}

func TestExtractOutputString(t *testing.T) {
	assert.Equal(t, []string{"https://files.example/only.png"}, ExtractAssetURLs("https://files.example/only.png"))
}

func TestExtractMultipleRulesOnSamePayload(t *testing.T) {
	output := decodeOutput(t, `{
		"model_file": "https://files.example/mesh.glb",
		"color_video": "https://files.example/color.mp4",
		"no_background_images": ["https://files.example/1.png"]
	}`)

	assert.ElementsMatch(t, []string{
		"https://files.example/mesh.glb",
		"https://files.example/color.mp4",
		"https://files.example/1.png",
	}, ExtractAssetURLs(output))
}

func TestExtractDeduplicates(t *testing.T) {
	output := decodeOutput(t, `["https://files.example/a.png", "https://files.example/a.png"]`)

	assert.Equal(t, []string{"https://files.example/a.png"}, ExtractAssetURLs(output))
}

func TestExtractNoMatches(t *testing.T) {
	for _, raw := range []string{
		`null`,
		`{"text": "hello"}`,
		`"not a url"`,
		`[1, 2, 3]`,
		`42`,
	} {
		output := decodeOutput(t, raw)
		assert.Empty(t, ExtractAssetURLs(output), "payload %s", raw)
	}
}
