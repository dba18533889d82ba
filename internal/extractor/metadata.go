package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/starford/xhsdl/internal/models"
	"github.com/starford/xhsdl/internal/state"
)

const shortDateLayout = "06-01-02"

// Key order matters: the first usable value wins.
var (
	userNameKeys  = []string{"nickname", "name", "userName", "user_name"}
	userIDKeys    = []string{"redId", "red_id", "userId", "userid", "user_id"}
	noteUserKeys  = []string{"userId", "uid"}
	titleKeys     = []string{"title", "desc", "description", "noteId"}
	dateTextKeys  = []string{"publishTime", "publish_time", "timeText", "time", "displayTime", "createTime"}
	dateEpochKeys = []string{"time", "publishTime", "publish_time", "createTime", "timestamp", "timeStamp"}
)

var (
	shortDateRe = regexp.MustCompile(`\d{2}-\d{2}-\d{2}`)
	isoDateRe   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	nonDigitRe  = regexp.MustCompile(`[^0-9]`)
)

const (
	minEpochSeconds = 1e9
	msThreshold     = 1e12
	epochFloorMs    = 946684800000 // 2000-01-01T00:00:00Z
)

// Metadata derives note metadata from a note object.
func Metadata(note state.Node) models.NoteMetadata {
	var m models.NoteMetadata
	if user := note.Get("user"); user.IsObject() {
		m.UserName = firstString(user, userNameKeys)
		m.UserID = firstString(user, userIDKeys)
	}
	if m.UserID == "" {
		m.UserID = firstString(note, noteUserKeys)
	}
	m.Title = firstString(note, titleKeys)
	m.PublishTime = publishTime(note)
	return m
}

func firstString(obj state.Node, keys []string) string {
	for _, key := range keys {
		if s, ok := obj.Get(key).Str(); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func publishTime(note state.Node) string {
	for _, key := range dateTextKeys {
		if s, ok := note.Get(key).Str(); ok {
			if d, ok := normalizeDateText(s); ok {
				return d
			}
		}
	}
	for _, key := range dateEpochKeys {
		v := note.Get(key)
		if n, ok := v.Num(); ok {
			if d, ok := formatEpoch(n); ok {
				return d
			}
			continue
		}
		if s, ok := v.Str(); ok {
			digits := nonDigitRe.ReplaceAllString(s, "")
			if n, err := strconv.ParseFloat(digits, 64); err == nil {
				if d, ok := formatEpoch(n); ok {
					return d
				}
			}
		}
	}
	return ""
}

// normalizeDateText accepts yy-MM-dd, yyyy-MM-dd, or a yyyyMMdd digit run.
func normalizeDateText(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if m := shortDateRe.FindString(s); m != "" {
		return m, true
	}
	if m := isoDateRe.FindString(s); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return t.Format(shortDateLayout), true
		}
	}
	if digits := nonDigitRe.ReplaceAllString(s, ""); len(digits) >= 8 {
		if t, err := time.Parse("20060102", digits[:8]); err == nil {
			return t.Format(shortDateLayout), true
		}
	}
	return "", false
}

// formatEpoch accepts seconds or milliseconds and rejects values too small
// to be a timestamp after 2000-01-01.
func formatEpoch(v float64) (string, bool) {
	if v < minEpochSeconds {
		return "", false
	}
	if v < msThreshold {
		v *= 1000
	}
	if v < epochFloorMs {
		return "", false
	}
	return time.UnixMilli(int64(v)).Format(shortDateLayout), true
}
