// Package pipeline sequences link discovery, extraction, retrieval and
// library save for one share text, reporting through an event stream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/starford/xhsdl/internal/apperr"
	"github.com/starford/xhsdl/internal/events"
	"github.com/starford/xhsdl/internal/extractor"
	"github.com/starford/xhsdl/internal/ledger"
	"github.com/starford/xhsdl/internal/models"
	"github.com/starford/xhsdl/internal/naming"
	"github.com/starford/xhsdl/internal/storage"
)

// State is the phase of a run.
type State string

const (
	StateIdle        State = "Idle"
	StateResolving   State = "Resolving"
	StateFetching    State = "Fetching"
	StateExtracting  State = "Extracting"
	StateDownloading State = "Downloading"
	StateCompleted   State = "Completed"
	StateFailed      State = "Failed"
)

// Fetcher resolves short links and loads note pages.
type Fetcher interface {
	Resolve(ctx context.Context, u *url.URL) (*url.URL, error)
	FetchPage(ctx context.Context, u *url.URL) (string, error)
}

// Retriever downloads one media item to a local file.
type Retriever interface {
	Retrieve(ctx context.Context, m models.RemoteMedia) (string, error)
}

// Deps are the collaborators of an Orchestrator. Fetcher, Retriever and
// Library are required.
type Deps struct {
	Fetcher   Fetcher
	Extractor extractor.Extractor
	Retriever Retriever
	Library   storage.Library
	Fallback  storage.Library           // used when Library reports ErrUnsupported
	Ledger    ledger.Ledger             // nil disables duplicate detection
	Prefs     func() naming.Preferences // nil means naming.DefaultPreferences
	Events    *events.Broker            // nil creates a broker owned by the Orchestrator
	Logger    *slog.Logger
	Workers   int // concurrent downloads, at least 1
	Now       func() time.Time
}

// Result summarizes a finished run.
type Result struct {
	State      State                `json:"state"`
	Media      []models.RemoteMedia `json:"media"`
	Saved      []models.SavedMedia  `json:"saved"`
	Duplicates int                  `json:"duplicates"`
	Failed     int                  `json:"failed"`
}

// Orchestrator runs the pipeline. Public entry points are serialized, so
// one Orchestrator handles one run at a time.
type Orchestrator struct {
	d          Deps
	ownsEvents bool

	runMu sync.Mutex

	stateMu sync.Mutex
	state   State
}

// New validates d and fills in defaults.
func New(d Deps) (*Orchestrator, error) {
	if d.Fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	if d.Retriever == nil {
		return nil, errors.New("pipeline: retriever is required")
	}
	if d.Library == nil {
		return nil, errors.New("pipeline: library is required")
	}
	if d.Prefs == nil {
		d.Prefs = naming.DefaultPreferences
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Workers < 1 {
		d.Workers = 1
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	o := &Orchestrator{d: d, state: StateIdle}
	if o.d.Events == nil {
		o.d.Events = events.NewBroker()
		o.ownsEvents = true
	}
	return o, nil
}

// Events returns the run stream.
func (o *Orchestrator) Events() *events.Broker { return o.d.Events }

// Close stops the event stream when the Orchestrator created it.
func (o *Orchestrator) Close() {
	if o.ownsEvents {
		o.d.Events.Close()
	}
}

// State returns the current run phase.
func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.stateMu.Lock()
	if o.state == s {
		o.stateMu.Unlock()
		return
	}
	o.state = s
	o.stateMu.Unlock()

	o.d.Logger.Debug("pipeline: state", slog.String("state", string(s)))
	o.d.Events.State(string(s))
}

func (o *Orchestrator) log(format string, args ...any) {
	o.d.Events.Log(format, args...)
}

// Run collects and downloads everything text links to. A run without
// media ends Completed and returns apperr.ErrNoMediaFound.
func (o *Orchestrator) Run(ctx context.Context, text string) (Result, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	defer o.d.Events.Sync()

	o.setState(StateIdle)

	media, err := o.collect(ctx, text)
	if errors.Is(err, apperr.ErrNoMediaFound) {
		o.log("no media found")
		o.setState(StateCompleted)
		return Result{State: StateCompleted}, err
	}
	if err != nil {
		return o.fail(Result{}, err)
	}

	o.log("found %d media, starting download", len(media))
	saved, err := o.download(ctx, media)
	res := Result{Media: media, Saved: saved, Failed: len(media) - len(saved)}
	for _, s := range saved {
		if s.Duplicate {
			res.Duplicates++
		}
	}
	if err != nil {
		return o.fail(res, err)
	}

	o.log("done: %d saved, %d duplicates, %d failed", len(saved)-res.Duplicates, res.Duplicates, res.Failed)
	o.setState(StateCompleted)
	res.State = StateCompleted
	return res, nil
}

func (o *Orchestrator) fail(res Result, err error) (Result, error) {
	o.log("run failed: %v", err)
	o.d.Logger.Error("pipeline: run failed", slog.String("error", err.Error()))
	o.setState(StateFailed)
	res.State = StateFailed
	return res, err
}

// Collect returns the normalized, named media that text links to.
func (o *Orchestrator) Collect(ctx context.Context, text string) ([]models.RemoteMedia, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	defer o.d.Events.Sync()
	return o.collect(ctx, text)
}

// Download retrieves media and saves each file into the library.
func (o *Orchestrator) Download(ctx context.Context, media []models.RemoteMedia) ([]models.SavedMedia, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	defer o.d.Events.Sync()
	return o.download(ctx, media)
}

// Describe returns the description of the first note text links to that
// can be loaded.
func (o *Orchestrator) Describe(ctx context.Context, text string) (string, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	defer o.d.Events.Sync()

	links, err := o.prepareAll(ctx, text)
	if err != nil {
		return "", err
	}
	for _, lc := range links {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		html, err := o.d.Fetcher.FetchPage(ctx, lc.ResolvedURL)
		if err != nil {
			o.log("note failed to load: %s", lc.ResolvedURL)
			continue
		}
		if descs := o.d.Extractor.Describe(ctx, html); len(descs) > 0 {
			return descs[0], nil
		}
		o.log("note %s has no description", lc.Label())
	}
	return "", fmt.Errorf("pipeline: describe: %w", apperr.ErrExtractionEmpty)
}
