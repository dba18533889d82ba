// Package naming renders file base names for retrieved media from a
// user-configurable template.
package naming

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/starford/xhsdl/internal/models"
)

// DefaultTemplate is used when no template has been configured.
const DefaultTemplate = "{title}_{publishTime}_{downloadTimestamp}"

const maxNameLength = 120

// Preferences controls custom naming. It is read once per run.
type Preferences struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Template string `yaml:"template" json:"template"`
}

// DefaultPreferences returns naming disabled with the default template.
func DefaultPreferences() Preferences {
	return Preferences{Template: DefaultTemplate}
}

var (
	placeholderRe = regexp.MustCompile(`\{([^}]+)\}`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	underscoresRe = regexp.MustCompile(`_+`)
)

// Context is the per-item input to rendering.
type Context struct {
	Metadata   models.NoteMetadata
	PostID     string
	Index      int // 1-based position among the note's media
	DownloadAt time.Time
}

// BaseName returns the sanitized, index-suffixed base name for one item.
// The _NN suffix keeps names from the same note distinct even when the
// template renders identically for every item.
func BaseName(c Context, prefs Preferences) string {
	if c.Index < 1 {
		c.Index = 1
	}
	suffix := fmt.Sprintf("%02d", c.Index)

	if prefs.Enabled {
		if name, ok := Sanitize(Render(prefs.Template, c), true); ok {
			return name + "_" + suffix
		}
	}

	fallback := firstNonEmpty(c.PostID, c.Metadata.Title, c.Metadata.UserName, "xhs")
	name, ok := Sanitize(fallback, true)
	if !ok {
		name = "xhs"
	}
	return name + "_" + suffix
}

// Render substitutes every {token} placeholder in template. Unknown tokens
// render as empty strings.
func Render(template string, c Context) string {
	matches := placeholderRe.FindAllStringSubmatchIndex(template, -1)
	out := template
	// Replace from the end so earlier match offsets stay valid.
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		token := template[m[2]:m[3]]
		out = out[:m[0]] + tokenValue(token, c) + out[m[1]:]
	}
	return out
}

func tokenValue(token string, c Context) string {
	switch token {
	case "username":
		return sanitizeOrEmpty(c.Metadata.UserName, false)
	case "userId":
		return sanitizeOrEmpty(c.Metadata.UserID, false)
	case "title":
		return sanitizeOrEmpty(c.Metadata.Title, false)
	case "postId":
		return sanitizeOrEmpty(c.PostID, false)
	case "publishTime":
		return sanitizeOrEmpty(c.Metadata.PublishTime, true)
	case "index":
		return strconv.Itoa(max(c.Index, 1))
	case "index_padded":
		return fmt.Sprintf("%02d", max(c.Index, 1))
	case "downloadTimestamp":
		return strconv.FormatInt(c.DownloadAt.Unix(), 10)
	default:
		return ""
	}
}

// Sanitize makes value safe for use as a file name. Hyphens survive only
// when allowHyphen is set. It reports false when nothing usable remains.
func Sanitize(value string, allowHyphen bool) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	var b strings.Builder
	for _, r := range value {
		switch {
		case strings.ContainsRune(`\/:*?"<>|`, r):
			b.WriteByte('_')
		case r == '-' && !allowHyphen:
			b.WriteByte('_')
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}

	out := whitespaceRe.ReplaceAllString(b.String(), "_")
	out = underscoresRe.ReplaceAllString(out, "_")
	out = strings.Trim(out, "_")
	if utf8.RuneCountInString(out) > maxNameLength {
		out = string([]rune(out)[:maxNameLength])
	}
	return out, out != ""
}

func sanitizeOrEmpty(value string, allowHyphen bool) string {
	s, _ := Sanitize(value, allowHyphen)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
