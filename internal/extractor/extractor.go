package extractor

import (
	"context"

	"github.com/starford/xhsdl/internal/models"
	"github.com/starford/xhsdl/internal/state"
)

// Extractor turns page text into media descriptors.
type Extractor struct {
	Evaluator state.Evaluator
}

// Extract walks the embedded state when present and falls back to a markup
// scan when the walk yields nothing. Descriptors are unique by URL, first
// occurrence first.
func (e Extractor) Extract(ctx context.Context, html string) []models.MediaDescriptor {
	if root, ok := e.Evaluator.Parse(ctx, html); ok {
		if found := FromTree(root); len(found) > 0 {
			return Unique(found)
		}
	}
	return Unique(FromHTML(html))
}

// Describe returns each note's description text, falling back to its title.
func (e Extractor) Describe(ctx context.Context, html string) []string {
	root, ok := e.Evaluator.Parse(ctx, html)
	if !ok {
		return nil
	}
	return Descriptions(root)
}

// Descriptions returns the desc of every note in root, or its title when
// the note has no description.
func Descriptions(root state.Node) []string {
	var out []string
	for _, note := range Notes(root) {
		if d := firstString(note, []string{"desc", "description", "title"}); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Unique drops descriptors whose URL was already seen.
func Unique(in []models.MediaDescriptor) []models.MediaDescriptor {
	seen := make(map[string]struct{}, len(in))
	out := make([]models.MediaDescriptor, 0, len(in))
	for _, d := range in {
		if _, dup := seen[d.URL]; dup {
			continue
		}
		seen[d.URL] = struct{}{}
		out = append(out, d)
	}
	return out
}
