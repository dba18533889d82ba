package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/xhsdl/internal/apperr"
	"github.com/starford/xhsdl/internal/classifier"
	"github.com/starford/xhsdl/internal/models"
	"github.com/starford/xhsdl/internal/naming"
	"github.com/starford/xhsdl/internal/normalize"
)

func (o *Orchestrator) collect(ctx context.Context, text string) ([]models.RemoteMedia, error) {
	links, err := o.prepareAll(ctx, text)
	if err != nil {
		return nil, err
	}

	prefs := o.d.Prefs()
	downloadAt := o.d.Now()
	seen := make(map[string]struct{})
	names := make(map[string]struct{})
	var out []models.RemoteMedia

	for _, lc := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		o.setState(StateFetching)
		o.log("fetching note: %s", lc.ResolvedURL)
		html, err := o.d.Fetcher.FetchPage(ctx, lc.ResolvedURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			o.log("note failed to load: %s", lc.ResolvedURL)
			o.d.Logger.Warn("pipeline: fetch failed",
				slog.String("url", lc.ResolvedURL.String()),
				slog.String("error", err.Error()))
			continue
		}

		o.setState(StateExtracting)
		descriptors := o.d.Extractor.Extract(ctx, html)
		if len(descriptors) == 0 {
			o.log("note %s: %v", lc.Label(), apperr.ErrExtractionEmpty)
			continue
		}

		kept := make([]models.MediaDescriptor, 0, len(descriptors))
		for _, d := range descriptors {
			if _, dup := seen[d.URL]; dup {
				continue
			}
			seen[d.URL] = struct{}{}
			kept = append(kept, d)
		}
		if len(kept) == 0 {
			continue
		}

		items := o.build(lc, kept, downloadAt, prefs, names)
		o.log("note %s: found %d media", lc.Label(), len(items))
		out = append(out, items...)
	}

	if len(out) == 0 {
		return nil, apperr.ErrNoMediaFound
	}
	return out, nil
}

// prepareAll classifies text and builds a LinkContext per link.
func (o *Orchestrator) prepareAll(ctx context.Context, text string) ([]models.LinkContext, error) {
	raw := classifier.ExtractLinks(text)
	if len(raw) == 0 {
		o.log("no recognizable link in input")
		return nil, apperr.ErrInvalidInput
	}

	o.setState(StateResolving)
	var links []models.LinkContext
	for _, r := range raw {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if lc, ok := o.prepare(ctx, r); ok {
			links = append(links, lc)
		}
	}
	if len(links) == 0 {
		o.log("no usable links")
		return nil, apperr.ErrInvalidInput
	}
	return links, nil
}

func (o *Orchestrator) prepare(ctx context.Context, raw string) (models.LinkContext, bool) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return models.LinkContext{}, false
	}
	if !strings.HasPrefix(strings.ToLower(cleaned), "http") {
		cleaned = "https://" + cleaned
	}
	source, err := url.Parse(cleaned)
	if err != nil || source.Host == "" {
		o.log("skipping malformed link: %s", raw)
		return models.LinkContext{}, false
	}

	resolved := source
	if classifier.IsShortLink(cleaned) {
		if final, err := o.d.Fetcher.Resolve(ctx, source); err == nil {
			resolved = final
			o.log("short link resolved to: %s", final)
		} else {
			o.log("short link could not be resolved, using original link")
			o.d.Logger.Warn("pipeline: resolve failed",
				slog.String("url", source.String()),
				slog.String("error", err.Error()))
		}
	}

	return models.LinkContext{
		SourceURL:   source,
		ResolvedURL: resolved,
		PostID:      classifier.PostID(resolved.String()),
	}, true
}

// build normalizes and names the kept descriptors of one link. names holds
// the base names already used in the run.
func (o *Orchestrator) build(lc models.LinkContext, kept []models.MediaDescriptor, downloadAt time.Time, prefs naming.Preferences, names map[string]struct{}) []models.RemoteMedia {
	fallbackID := lc.PostID
	if fallbackID == "" {
		fallbackID = uuid.NewString()[:8]
	}

	out := make([]models.RemoteMedia, 0, len(kept))
	for i, d := range kept {
		original, err := parseMediaURL(d.URL, lc.ResolvedURL)
		if err != nil {
			o.d.Logger.Debug("pipeline: skip media url",
				slog.String("url", d.URL),
				slog.String("error", err.Error()))
			continue
		}

		typ := normalize.MediaTypeOf(d.URL)
		target := original
		if typ == models.MediaImage {
			if canon, err := url.Parse(normalize.CanonicalImageURL(d.URL)); err == nil {
				target = canon
			}
		}

		out = append(out, models.RemoteMedia{
			ID:   uuid.New(),
			URL:  target,
			Type: typ,
			FileBaseName: claimName(names, naming.BaseName(naming.Context{
				Metadata:   d.Metadata,
				PostID:     fallbackID,
				Index:      i + 1,
				DownloadAt: downloadAt,
			}, prefs)),
			OriginalURL: d.URL,
			PostID:      lc.PostID,
			Metadata:    d.Metadata,
		})
	}
	return out
}

// claimName returns base, or base with a numeric suffix when an earlier
// item in the run already uses it. Names compare case-insensitively.
func claimName(used map[string]struct{}, base string) string {
	name := base
	for n := 2; ; n++ {
		key := strings.ToLower(name)
		if _, taken := used[key]; !taken {
			used[key] = struct{}{}
			return name
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}
}

// parseMediaURL parses raw, escaping stray spaces, and resolves a
// relative reference against the page it came from.
func parseMediaURL(raw string, page *url.URL) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		u, err = url.Parse(strings.ReplaceAll(raw, " ", "%20"))
	}
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() && page != nil {
		u = page.ResolveReference(u)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("not an absolute http url: %s", raw)
	}
	return u, nil
}
