// Package extractor walks the page state (or, failing that, the raw markup)
// to find media references and note metadata.
package extractor

import (
	"github.com/starford/xhsdl/internal/models"
	"github.com/starford/xhsdl/internal/state"
)

const (
	originVideoBase = "https://sns-video-bd.xhscdn.com/"
	traceImageBase  = "https://sns-img-qc.xhscdn.com/"
)

// FromTree collects descriptors from every note reachable from root.
// The result is not deduplicated.
func FromTree(root state.Node) []models.MediaDescriptor {
	var out []models.MediaDescriptor

	if note, ok := root.Lookup("note"); ok && note.IsObject() {
		out = append(out, fromNoteRoot(note)...)
	}
	if len(out) == 0 {
		if detail := root.Get("noteDetailMap"); detail.IsObject() {
			out = append(out, fromDetailMap(detail)...)
		}
	}
	if len(out) == 0 {
		for _, item := range root.Get("feed").Get("items").Items() {
			if item.IsObject() {
				out = append(out, collectMedia(item)...)
			}
		}
	}
	if len(out) == 0 {
		out = append(out, fromNoteRoot(root)...)
	}
	return out
}

// Notes returns every note object reachable from root, in the same lookup
// order FromTree uses.
func Notes(root state.Node) []state.Node {
	if note := root.Get("note"); note.IsObject() {
		if notes := notesOfRoot(note); len(notes) > 0 {
			return notes
		}
	}
	if detail := root.Get("noteDetailMap"); detail.IsObject() {
		if notes := notesOfDetailMap(detail); len(notes) > 0 {
			return notes
		}
	}
	var notes []state.Node
	for _, item := range root.Get("feed").Get("items").Items() {
		if item.IsObject() {
			notes = append(notes, item)
		}
	}
	if len(notes) > 0 {
		return notes
	}
	return notesOfRoot(root)
}

// fromNoteRoot handles a "note" store that may wrap a detail map, a nested
// note, or be the note itself.
func fromNoteRoot(noteRoot state.Node) []models.MediaDescriptor {
	var out []models.MediaDescriptor
	for _, note := range notesOfRoot(noteRoot) {
		out = append(out, collectMedia(note)...)
	}
	return out
}

func fromDetailMap(detail state.Node) []models.MediaDescriptor {
	var out []models.MediaDescriptor
	for _, note := range notesOfDetailMap(detail) {
		out = append(out, collectMedia(note)...)
	}
	return out
}

func notesOfRoot(noteRoot state.Node) []state.Node {
	if detail := noteRoot.Get("noteDetailMap"); detail.IsObject() {
		return notesOfDetailMap(detail)
	}
	if note := noteRoot.Get("note"); note.IsObject() {
		return []state.Node{note}
	}
	return []state.Node{noteRoot}
}

func notesOfDetailMap(detail state.Node) []state.Node {
	var notes []state.Node
	for _, key := range detail.Keys() {
		entry := detail.Get(key)
		if !entry.IsObject() {
			continue
		}
		if note := entry.Get("note"); note.IsObject() {
			notes = append(notes, note)
		} else {
			notes = append(notes, entry)
		}
	}
	return notes
}

// collectMedia gathers every media URL of one note, video first, then
// images and their streams, then the cover.
func collectMedia(note state.Node) []models.MediaDescriptor {
	meta := Metadata(note)
	var urls []string

	if video := note.Get("video"); video.IsObject() {
		urls = append(urls, videoURLs(video)...)
	}
	if media := note.Get("media"); media.IsObject() {
		urls = append(urls, videoURLs(media)...)
	}

	var images []state.Node
	switch {
	case note.Get("imageList").IsArray():
		images = note.Get("imageList").Items()
	case note.Get("images").IsArray():
		images = note.Get("images").Items()
	case note.Get("image").IsObject():
		images = []state.Node{note.Get("image")}
	}
	for _, image := range images {
		if !image.IsObject() {
			continue
		}
		if u, ok := preferredImageURL(image); ok {
			urls = append(urls, u)
		}
		if stream := image.Get("stream"); stream.IsObject() {
			urls = append(urls, streamURLs(stream)...)
		}
	}

	if cover := note.Get("cover"); cover.IsObject() {
		if u, ok := preferredImageURL(cover); ok {
			urls = append(urls, u)
		}
	}

	out := make([]models.MediaDescriptor, 0, len(urls))
	for _, u := range urls {
		out = append(out, models.MediaDescriptor{URL: u, Metadata: meta})
	}
	return out
}

func videoURLs(video state.Node) []string {
	var urls []string
	if key, ok := video.Get("consumer").Get("originVideoKey").Str(); ok && key != "" {
		urls = append(urls, originVideoBase+key)
	}
	if stream := video.Get("media").Get("stream"); stream.IsObject() {
		urls = append(urls, streamURLs(stream)...)
	}
	if u, ok := video.Get("url").Str(); ok && u != "" {
		urls = append(urls, u)
	}
	return urls
}

func streamURLs(stream state.Node) []string {
	var urls []string
	for _, entry := range stream.Get("h264").Items() {
		if s, ok := entry.Str(); ok {
			if len(s) >= 4 && s[:4] == "http" {
				urls = append(urls, s)
			}
			continue
		}
		if u, ok := entry.Get("masterUrl").Str(); ok {
			urls = append(urls, u)
		} else if u, ok := entry.Get("url").Str(); ok {
			urls = append(urls, u)
		}
	}
	return urls
}

func preferredImageURL(image state.Node) (string, bool) {
	for _, key := range []string{"originUrl", "urlDefault", "url"} {
		if u, ok := image.Get(key).Str(); ok {
			return u, true
		}
	}
	if trace, ok := image.Get("traceId").Str(); ok {
		return traceImageBase + trace, true
	}
	for _, info := range image.Get("infoList").Items() {
		if u, ok := info.Get("url").Str(); ok {
			return u, true
		}
	}
	return "", false
}
