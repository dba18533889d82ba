// Package classifier finds platform share links inside free-form text.
package classifier

import (
	"regexp"
	"strings"
)

// Kind names the shape of a recognized link.
type Kind string

const (
	KindShort     Kind = "short"
	KindDiscovery Kind = "discovery"
	KindExplore   Kind = "explore"
	KindProfile   Kind = "profile"
)

type pattern struct {
	kind Kind
	re   *regexp.Regexp
}

// patterns is evaluated in order; the first match wins for each token.
var patterns = []pattern{
	{KindShort, regexp.MustCompile(`(?i)(?:https?://)?xhslink\.com/[^\s"<>\\^` + "`" + `{|}，。；！？、【】《》]+`)},
	{KindDiscovery, regexp.MustCompile(`(?i)(?:https?://)?www\.xiaohongshu\.com/discovery/item/\S+`)},
	{KindExplore, regexp.MustCompile(`(?i)(?:https?://)?www\.xiaohongshu\.com/explore/\S+`)},
	{KindProfile, regexp.MustCompile(`(?i)(?:https?://)?www\.xiaohongshu\.com/user/profile/[a-z0-9]+/\S+`)},
}

var (
	noteIDRe    = regexp.MustCompile(`(?i)(?:explore|item)/([a-zA-Z0-9_\-]+)/?(?:\?|$)`)
	profileIDRe = regexp.MustCompile(`(?i)user/profile/[a-z0-9]+/([a-zA-Z0-9_\-]+)/?(?:\?|$)`)
)

// Classify matches a single token against the pattern table.
func Classify(token string) (Kind, string, bool) {
	for _, p := range patterns {
		if m := p.re.FindString(token); m != "" {
			return p.kind, m, true
		}
	}
	return "", "", false
}

// ExtractLinks returns the link substrings found in text, in order of appearance.
// Each whitespace-delimited token is matched on its own.
func ExtractLinks(text string) []string {
	var out []string
	for _, token := range strings.Fields(text) {
		if _, link, ok := Classify(token); ok {
			out = append(out, link)
		}
	}
	return out
}

// IsShortLink reports whether raw points at the short-link domain.
func IsShortLink(raw string) bool {
	return strings.Contains(strings.ToLower(raw), "xhslink.com")
}

// PostID extracts the note id from a canonical or short URL, or "".
func PostID(raw string) string {
	if m := noteIDRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if m := profileIDRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if !strings.Contains(raw, "xhslink.com/") {
		return ""
	}
	parts := strings.Split(raw, "/")
	last, _, _ := strings.Cut(parts[len(parts)-1], "?")
	if last != "" && last != "o" {
		return last
	}
	if len(parts) > 1 {
		prev, _, _ := strings.Cut(parts[len(parts)-2], "?")
		return prev
	}
	return ""
}
