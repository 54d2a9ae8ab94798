package assets

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const timestampLayout = "20060102-150405"

var extensionByContentType = map[string]string{
	"model/gltf-binary": "glb",
	"model/gltf+json":   "gltf",
	"image/png":         "png",
	"image/jpeg":        "jpg",
	"image/webp":        "webp",
	"image/gif":         "gif",
	"video/mp4":         "mp4",
	"video/webm":        "webm",
	"video/quicktime":   "mov",
}

// URL suffixes accepted as a fallback when the content type is unmapped.
var extensionBySuffix = map[string]string{
	"glb":  "glb",
	"gltf": "gltf",
	"obj":  "obj",
	"ply":  "ply",
	"stl":  "stl",
	"png":  "png",
	"jpg":  "jpg",
	"jpeg": "jpg",
	"webp": "webp",
	"gif":  "gif",
	"mp4":  "mp4",
	"webm": "webm",
	"mov":  "mov",
}

// ResolveExtension maps a fetch response's content type, falling back to
// the URL path suffix, to a canonical file extension. Returns "" when the
// format is unsupported; callers skip such assets rather than failing the
// whole job.
func ResolveExtension(contentType, rawURL string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}

	if ext, ok := extensionByContentType[ct]; ok {
		return ext
	}

	path := strings.ToLower(rawURL)
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		path = strings.ToLower(parsed.Path)
	}

	if idx := strings.LastIndex(path, "."); idx >= 0 {
		if ext, ok := extensionBySuffix[path[idx+1:]]; ok {
			return ext
		}
	}

	// 3-D model hosts often serve binaries without a useful content type.
	if ct == "application/octet-stream" && (strings.Contains(path, "glb") || strings.Contains(path, "model")) {
		return "glb"
	}

	return ""
}

// SanitizeModelName lowercases the name and replaces every character
// outside [a-z0-9-] with a hyphen.
func SanitizeModelName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// GenerateFileName builds the storage key for one asset. The timestamp is
// the persistence-time clock, not any job timestamp; index keeps sibling
// assets of the same job apart.
func GenerateFileName(modelName string, t time.Time, index int, extension string) string {
	return fmt.Sprintf("%s-%s-%d.%s", SanitizeModelName(modelName), t.UTC().Format(timestampLayout), index, extension)
}

// MetadataFileName builds the storage key for the per-job metadata blob.
func MetadataFileName(modelName string, t time.Time) string {
	return fmt.Sprintf("%s-%s-metadata.json", SanitizeModelName(modelName), t.UTC().Format(timestampLayout))
}
