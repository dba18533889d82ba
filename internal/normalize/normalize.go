// Package normalize classifies media URLs and rewrites CDN image links to
// their full-resolution form.
package normalize

import (
	"strings"

	"github.com/starford/xhsdl/internal/models"
)

const (
	cdnDomain      = "xhscdn.com"
	canonicalImage = "https://ci.xiaohongshu.com/"
	canonicalQuery = "?imageView2/format/jpg"
)

var videoMarkers = []string{".mp4", ".mov", ".avi", ".webm", "video", "stream", "sns-video"}

var unescaper = strings.NewReplacer(`\/`, "/", `\u002F`, "/", `\`, "")

// MediaTypeOf classifies raw as video or image.
func MediaTypeOf(raw string) models.MediaType {
	lower := strings.ToLower(raw)
	for _, marker := range videoMarkers {
		if strings.Contains(lower, marker) {
			return models.MediaVideo
		}
	}
	return models.MediaImage
}

// ImageToken recovers the asset token of a CDN URL, or "" when the URL is
// too short to carry one.
func ImageToken(raw string) string {
	s := strings.TrimSpace(unescaper.Replace(raw))
	if i := strings.Index(strings.ToLower(s), "http"); i >= 0 {
		s = s[i:]
	}
	parts := strings.Split(s, "/")
	if len(parts) < 6 {
		return ""
	}
	token := strings.Join(parts[5:], "/")
	token, _, _ = strings.Cut(token, "!")
	token, _, _ = strings.Cut(token, "?")
	return token
}

// CanonicalImageURL rewrites a CDN image URL to the high-resolution
// endpoint. Anything else is returned unchanged.
func CanonicalImageURL(raw string) string {
	if !strings.Contains(raw, cdnDomain) || strings.Contains(raw, "video") || strings.Contains(raw, "stream") {
		return raw
	}
	token := ImageToken(raw)
	if token == "" {
		return raw
	}
	return canonicalImage + token + canonicalQuery
}
