// Package models defines the domain types shared by the extraction pipeline.
package models

import (
	"encoding/json"
	"net/url"

	"github.com/google/uuid"
)

// MediaType distinguishes images from videos.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// LinkContext is one discovered link after optional redirect resolution.
type LinkContext struct {
	SourceURL   *url.URL
	ResolvedURL *url.URL
	PostID      string // empty when the path carries no recognizable id
}

// Label returns the post id, or the last path element of the resolved URL.
func (c LinkContext) Label() string {
	if c.PostID != "" {
		return c.PostID
	}
	return lastPathElement(c.ResolvedURL)
}

// NoteMetadata describes the note a media item belongs to.
// Empty fields mean the value was not present in the page.
type NoteMetadata struct {
	UserName    string `json:"userName,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Title       string `json:"title,omitempty"`
	PublishTime string `json:"publishTime,omitempty"` // yy-MM-dd
}

// MediaDescriptor is a raw media reference found while walking a note.
type MediaDescriptor struct {
	URL      string
	Metadata NoteMetadata
}

// RemoteMedia is a normalized, named media item ready for retrieval.
type RemoteMedia struct {
	ID           uuid.UUID    `json:"id"`
	URL          *url.URL     `json:"-"`
	Type         MediaType    `json:"type"`
	FileBaseName string       `json:"fileBaseName"`
	OriginalURL  string       `json:"originalUrl"`
	PostID       string       `json:"postId,omitempty"`
	Metadata     NoteMetadata `json:"metadata"`
}

// IsVideo reports whether the item is a video.
func (m RemoteMedia) IsVideo() bool {
	return m.Type == MediaVideo
}

// SavedMedia is the outcome of a retrieved item handed to the library.
type SavedMedia struct {
	Media       RemoteMedia `json:"media"`
	LocalPath   string      `json:"localPath"`
	LibraryPath string      `json:"libraryPath,omitempty"`
	Duplicate   bool        `json:"duplicate,omitempty"`
}

// MarshalJSON renders URL as its string form.
func (m RemoteMedia) MarshalJSON() ([]byte, error) {
	type alias RemoteMedia
	out := struct {
		alias
		URL string `json:"url"`
	}{alias: alias(m)}
	if m.URL != nil {
		out.URL = m.URL.String()
	}
	return json.Marshal(out)
}

func lastPathElement(u *url.URL) string {
	if u == nil {
		return ""
	}
	p := u.Path
	for len(p) > 0 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
