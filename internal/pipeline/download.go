package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/xhsdl/internal/apperr"
	"github.com/starford/xhsdl/internal/checksum"
	"github.com/starford/xhsdl/internal/ledger"
	"github.com/starford/xhsdl/internal/models"
)

// download runs the worker pool. Results keep the order of media; items
// that failed are left out. Base names are made unique across the batch
// since each one names a file in the work directory.
func (o *Orchestrator) download(ctx context.Context, media []models.RemoteMedia) ([]models.SavedMedia, error) {
	o.setState(StateDownloading)

	names := make(map[string]struct{}, len(media))
	media = append([]models.RemoteMedia(nil), media...)
	for i := range media {
		media[i].FileBaseName = claimName(names, media[i].FileBaseName)
	}

	if err := o.d.Library.Authorize(ctx); err != nil {
		return nil, fmt.Errorf("pipeline: library: %w", err)
	}

	total := len(media)
	o.d.Events.Progress(0, total)

	results := make([]*models.SavedMedia, total)
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.d.Workers)

	for i, m := range media {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			saved, err := o.downloadOne(gctx, m)

			mu.Lock()
			defer mu.Unlock()
			done++
			o.d.Events.Progress(done, total)

			if err != nil {
				if apperr.IsFatal(err) {
					return err
				}
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				o.log("download failed for %s: %v", m.FileBaseName, err)
				o.d.Logger.Warn("pipeline: item failed",
					slog.String("url", m.URL.String()),
					slog.String("error", err.Error()))
				return nil
			}
			results[i] = &saved
			return nil
		})
	}

	err := g.Wait()
	out := make([]models.SavedMedia, 0, total)
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	if err != nil {
		return out, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// downloadOne retrieves m, records it in the ledger and saves it.
func (o *Orchestrator) downloadOne(ctx context.Context, m models.RemoteMedia) (models.SavedMedia, error) {
	local, err := o.d.Retriever.Retrieve(ctx, m)
	if err != nil {
		return models.SavedMedia{}, err
	}
	saved := models.SavedMedia{Media: m, LocalPath: local}

	sum, err := o.reserve(ctx, m, local)
	if errors.Is(err, apperr.ErrDuplicate) {
		saved.Duplicate = true
		o.log("%s already in library, skipped", m.FileBaseName)
		return saved, nil
	}
	if err != nil {
		return models.SavedMedia{}, err
	}

	libPath, err := o.save(ctx, local, m)
	if errors.Is(err, apperr.ErrDuplicate) {
		saved.Duplicate = true
		o.log("%s already in library, skipped", m.FileBaseName)
		return saved, nil
	}
	if err != nil {
		if sum != "" {
			if ferr := o.d.Ledger.Forget(context.WithoutCancel(ctx), sum); ferr != nil {
				o.d.Logger.Warn("pipeline: ledger forget failed", slog.String("error", ferr.Error()))
			}
		}
		return models.SavedMedia{}, err
	}
	saved.LibraryPath = libPath

	if sum != "" {
		if err := o.d.Ledger.SetLibraryPath(ctx, sum, libPath); err != nil {
			o.d.Logger.Warn("pipeline: ledger update failed", slog.String("error", err.Error()))
		}
	}
	o.log("saved %s", libPath)
	return saved, nil
}

// reserve records local in the ledger before it is saved so concurrent
// workers never import identical content twice. It returns the checksum,
// or "" when no ledger is configured.
func (o *Orchestrator) reserve(ctx context.Context, m models.RemoteMedia, local string) (string, error) {
	if o.d.Ledger == nil {
		return "", nil
	}
	sum, err := checksum.File(local)
	if err != nil {
		return "", fmt.Errorf("pipeline: %w: %v", apperr.ErrRetrievalFailed, err)
	}
	err = o.d.Ledger.Record(ctx, ledger.Entry{
		Checksum:  sum,
		PostID:    m.PostID,
		SourceURL: m.OriginalURL,
		MediaURL:  m.URL.String(),
		MediaType: string(m.Type),
		Title:     m.Metadata.Title,
		UserName:  m.Metadata.UserName,
		LocalPath: local,
		SavedAt:   o.d.Now(),
	})
	if errors.Is(err, apperr.ErrDuplicate) {
		return sum, err
	}
	if err != nil {
		o.d.Logger.Warn("pipeline: ledger record failed", slog.String("error", err.Error()))
		return "", nil
	}
	return sum, nil
}

// save imports local into the library, retrying through the fallback
// library when the primary one cannot import the file.
func (o *Orchestrator) save(ctx context.Context, local string, m models.RemoteMedia) (string, error) {
	libPath, err := o.d.Library.Save(ctx, local, m.IsVideo())
	if errors.Is(err, apperr.ErrUnsupported) && o.d.Fallback != nil {
		o.log("library rejected %s, using fallback save", m.FileBaseName)
		return o.d.Fallback.Save(ctx, local, m.IsVideo())
	}
	return libPath, err
}
