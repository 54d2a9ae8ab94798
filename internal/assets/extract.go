package assets

import "net/url"

// A matcher inspects a prediction output payload of unknown shape and
// returns zero or more candidate URLs. Matchers are independent: several
// can fire on the same payload and all hits are collected.
type matcher func(output any) []string

var matchers = []matcher{
	matchModelFile,
	matchNamedVideos,
	matchNoBackgroundImages,
	matchURLArray,
	matchURLString,
}

var videoFields = []string{"color_video", "normal_video", "combined_video"}

// ExtractAssetURLs walks a prediction output and returns every fetchable
// file URL it references, deduplicated on exact string match. Entries
// that are not valid absolute URLs are silently skipped; an output that
// matches no rule yields an empty list, which is a legitimate result for
// models that produce no file output.
func ExtractAssetURLs(output any) []string {
	seen := make(map[string]struct{})
	urls := []string{}

	for _, match := range matchers {
		for _, candidate := range match(output) {
			if !validAssetURL(candidate) {
				continue
			}
			if _, ok := seen[candidate]; ok {
				continue
			}
			seen[candidate] = struct{}{}
			urls = append(urls, candidate)
		}
	}

	return urls
}

func matchModelFile(output any) []string {
	fields, ok := output.(map[string]any)
	if !ok {
		return nil
	}
	if s, ok := fields["model_file"].(string); ok {
		return []string{s}
	}
	return nil
}

func matchNamedVideos(output any) []string {
	fields, ok := output.(map[string]any)
	if !ok {
		return nil
	}

	var urls []string
	for _, field := range videoFields {
		if s, ok := fields[field].(string); ok {
			urls = append(urls, s)
		}
	}
	return urls
}

func matchNoBackgroundImages(output any) []string {
	fields, ok := output.(map[string]any)
	if !ok {
		return nil
	}
	images, ok := fields["no_background_images"].([]any)
	if !ok {
		return nil
	}

	var urls []string
	for _, entry := range images {
		if s, ok := entry.(string); ok {
			urls = append(urls, s)
		}
	}
	return urls
}

func matchURLArray(output any) []string {
	entries, ok := output.([]any)
	if !ok {
		return nil
	}

	var urls []string
	for _, entry := range entries {
		if s, ok := entry.(string); ok {
			urls = append(urls, s)
		}
	}
	return urls
}

func matchURLString(output any) []string {
	if s, ok := output.(string); ok {
		return []string{s}
	}
	return nil
}

func validAssetURL(s string) bool {
	parsed, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
