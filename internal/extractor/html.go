package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/starford/xhsdl/internal/models"
)

var mediaURLRe = regexp.MustCompile(`(?i)https?://[\w\-._~:/?#\[\]@!$&'()*+,;=%]+\.(?:jpg|jpeg|png|gif|mp4|avi|mov|webm|wmv|flv|f4v|swf|mpg|mpeg|asf|3gp|3g2|mkv|webp|heic|heif)`)

var mediaExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".mp4", ".mov"}

// FromHTML scans raw markup for image sources and absolute media URLs.
// It is the fallback when the page state yields nothing, and it keeps any
// CDN-hosted match even when unrelated to the note.
func FromHTML(html string) []models.MediaDescriptor {
	var urls []string

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
			if src, ok := sel.Attr("src"); ok && isMediaURL(src) {
				urls = append(urls, src)
			}
		})
	}

	for _, m := range mediaURLRe.FindAllString(html, -1) {
		if isMediaURL(m) {
			urls = append(urls, m)
		}
	}

	out := make([]models.MediaDescriptor, 0, len(urls))
	for _, u := range urls {
		out = append(out, models.MediaDescriptor{URL: u})
	}
	return out
}

func isMediaURL(raw string) bool {
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "xhscdn.com") {
		return true
	}
	for _, ext := range mediaExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}
