package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/xhsdl/internal/apperr"
	"github.com/starford/xhsdl/internal/events"
	"github.com/starford/xhsdl/internal/fetch"
	"github.com/starford/xhsdl/internal/ledger"
	"github.com/starford/xhsdl/internal/models"
	"github.com/starford/xhsdl/internal/naming"
	"github.com/starford/xhsdl/internal/retriever"
	"github.com/starford/xhsdl/internal/storage"
	"github.com/starford/xhsdl/internal/testutil"
)

const (
	shortLink = "http://xhslink.com/a/Xyz9"
	note1URL  = "https://www.xiaohongshu.com/explore/n1?xsec=1"
	note2URL  = "https://www.xiaohongshu.com/explore/n2"
	brokenURL = "https://www.xiaohongshu.com/explore/gone"
)

// fakeFetcher serves canned redirects and pages keyed by URL.
type fakeFetcher struct {
	mu        sync.Mutex
	redirects map[string]string
	pages     map[string]string
	fetched   []string
}

func (f *fakeFetcher) Resolve(_ context.Context, u *url.URL) (*url.URL, error) {
	to, ok := f.redirects[u.String()]
	if !ok {
		return nil, fmt.Errorf("fake: %s: %w", u, apperr.ErrRedirectUnresolved)
	}
	return url.Parse(to)
}

func (f *fakeFetcher) FetchPage(_ context.Context, u *url.URL) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, u.String())
	f.mu.Unlock()
	page, ok := f.pages[u.String()]
	if !ok {
		return "", fmt.Errorf("fake: %s: %w", u, apperr.ErrFetchFailed)
	}
	return page, nil
}

type harness struct {
	host    *testutil.MediaHost
	fetcher *fakeFetcher
	libDir  string
	lib     *storage.FS
	orch    *Orchestrator
	events  chan events.Event
}

func newHarness(t *testing.T, workers int) *harness {
	t.Helper()
	host := testutil.NewMediaHost(t, map[string]testutil.File{
		"/media/a.png": {ContentType: "image/png", Body: append(append([]byte{}, testutil.PNG...), 'a')},
		"/media/b.png": {ContentType: "image/png", Body: append(append([]byte{}, testutil.PNG...), 'b')},
		"/media/v.mp4": {ContentType: "video/mp4", Body: testutil.MP4},
		"/media/t.mp4": {ContentType: "video/mp4", Body: []byte("not really a video")},
	})

	note1 := testutil.StatePage(fmt.Sprintf(`{note:{noteDetailMap:{n1:{note:{noteId:"n1",title:"First",user:{nickname:"alice"},
		video:{media:{stream:{h264:[{masterUrl:"%[1]s/media/v.mp4"}]}}},
		imageList:[{urlDefault:"%[1]s/media/a.png"}]}}}}, undefinedKey: undefined}`, host.URL))
	note2 := testutil.StatePage(fmt.Sprintf(`{"note":{"note":{"title":"Second",
		"imageList":[{"urlDefault":"%[1]s/media/a.png"},{"urlDefault":"%[1]s/media/b.png"},{"urlDefault":"%[1]s/media/missing.png"}]}}}`, host.URL))

	f := &fakeFetcher{
		redirects: map[string]string{shortLink: note1URL},
		pages:     map[string]string{note1URL: note1, note2URL: note2},
	}

	cfg := fetch.DefaultConfig()
	cfg.RateLimit = 0
	r, err := retriever.New(fetch.New(cfg), t.TempDir(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	libDir, lib := testutil.TestLibrary(t)

	o, err := New(Deps{
		Fetcher:   f,
		Retriever: r,
		Library:   lib,
		Fallback:  lib.Fallback(),
		Ledger:    testutil.TestLedger(t),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Workers:   workers,
		Now:       func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(o.Close)

	return &harness{host: host, fetcher: f, libDir: libDir, lib: lib, orch: o, events: o.Events().Subscribe()}
}

func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func baseNames(media []models.RemoteMedia) []string {
	out := make([]string, len(media))
	for i, m := range media {
		out[i] = m.FileBaseName
	}
	return out
}

func TestCollect_ResolvesDedupsAndNames(t *testing.T) {
	h := newHarness(t, 1)
	text := "look 👉 " + shortLink + " and " + note2URL + " also https://example.com/x"

	media, err := h.orch.Collect(context.Background(), text)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	// a.png appears in both notes but is collected once; missing.png is kept
	// here and fails later at retrieval.
	want := []string{"n1_01", "n1_02", "n2_01", "n2_02"}
	if got := baseNames(media); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("base names = %v, want %v", got, want)
	}
	if !media[0].IsVideo() || media[1].IsVideo() {
		t.Errorf("types = %s, %s", media[0].Type, media[1].Type)
	}
	if media[0].Metadata.UserName != "alice" || media[0].PostID != "n1" {
		t.Errorf("metadata = %+v, post = %q", media[0].Metadata, media[0].PostID)
	}
	seen := map[string]bool{}
	for _, m := range media {
		if seen[m.OriginalURL] {
			t.Errorf("duplicate url %s", m.OriginalURL)
		}
		seen[m.OriginalURL] = true
	}
	if got := h.fetcher.fetched; len(got) != 2 || got[0] != note1URL || got[1] != note2URL {
		t.Errorf("fetched = %v", got)
	}
}

func TestCollect_NamingTemplate(t *testing.T) {
	h := newHarness(t, 1)
	h.orch.d.Prefs = func() naming.Preferences {
		return naming.Preferences{Enabled: true, Template: "{username}_{downloadTimestamp}"}
	}
	media, err := h.orch.Collect(context.Background(), shortLink)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := []string{"alice_1700000000_01", "alice_1700000000_02"}
	if got := baseNames(media); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("base names = %v, want %v", got, want)
	}
}

func TestCollect_InvalidInput(t *testing.T) {
	h := newHarness(t, 1)
	if _, err := h.orch.Collect(context.Background(), "no links here https://example.com"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCollect_FetchFailureSkipsLink(t *testing.T) {
	h := newHarness(t, 1)
	media, err := h.orch.Collect(context.Background(), brokenURL+" "+note2URL)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(media) != 3 {
		t.Errorf("len = %d, want 3", len(media))
	}
	h.orch.Events().Sync()
	found := false
	for _, e := range h.drain() {
		if strings.Contains(e.Message, "note failed to load: "+brokenURL) {
			found = true
		}
	}
	if !found {
		t.Error("missing fetch failure log line")
	}
}

func TestCollect_UnresolvedShortLinkFallsBack(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.orch.Collect(context.Background(), "xhslink.com/b/unknown")
	if !errors.Is(err, apperr.ErrNoMediaFound) {
		t.Fatalf("err = %v, want ErrNoMediaFound", err)
	}
	if got := h.fetcher.fetched; len(got) != 1 || got[0] != "https://xhslink.com/b/unknown" {
		t.Errorf("fetched = %v, want the original link", got)
	}
}

func TestCollect_CancelledBetweenLinks(t *testing.T) {
	h := newHarness(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.orch.Collect(ctx, note2URL); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(h.fetcher.fetched) != 0 {
		t.Errorf("fetched after cancel: %v", h.fetcher.fetched)
	}
}

func TestRun_SavesIntoLibrary(t *testing.T) {
	h := newHarness(t, 1)
	res, err := h.orch.Run(context.Background(), shortLink+" "+note2URL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateCompleted || h.orch.State() != StateCompleted {
		t.Errorf("state = %s / %s", res.State, h.orch.State())
	}
	if len(res.Saved) != 3 || res.Failed != 1 || res.Duplicates != 0 {
		t.Fatalf("saved = %d, failed = %d, dups = %d", len(res.Saved), res.Failed, res.Duplicates)
	}

	for _, rel := range []string{
		filepath.Join(storage.VideosDir, "xhs_n1_01.mp4"),
		filepath.Join(storage.PhotosDir, "xhs_n1_02.png"),
		filepath.Join(storage.PhotosDir, "xhs_n2_01.png"),
	} {
		if _, err := os.Stat(filepath.Join(h.libDir, rel)); err != nil {
			t.Errorf("missing %s: %v", rel, err)
		}
	}
}

func TestRun_EventsOrderedAndProgressMonotonic(t *testing.T) {
	h := newHarness(t, 3)
	if _, err := h.orch.Run(context.Background(), shortLink+" "+note2URL); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var states []string
	last := -1
	for _, e := range h.drain() {
		switch e.Type {
		case events.TypeState:
			states = append(states, e.State)
		case events.TypeProgress:
			if e.Current <= last {
				t.Errorf("progress went from %d to %d", last, e.Current)
			}
			last = e.Current
			if e.Total != 4 {
				t.Errorf("total = %d, want 4", e.Total)
			}
		}
	}
	if last != 4 {
		t.Errorf("final progress = %d, want 4", last)
	}
	want := "Resolving,Fetching,Extracting,Fetching,Extracting,Downloading,Completed"
	if got := strings.Join(states, ","); got != want {
		t.Errorf("states = %s, want %s", got, want)
	}
}

func TestRun_SameRenderedNameAcrossNotes(t *testing.T) {
	h := newHarness(t, 2)
	h.orch.d.Prefs = func() naming.Preferences {
		return naming.Preferences{Enabled: true, Template: "{title}"}
	}
	h.fetcher.pages[note1URL] = testutil.StatePage(fmt.Sprintf(
		`{note:{note:{title:"Same",imageList:[{urlDefault:"%s/media/a.png"}]}}}`, h.host.URL))
	h.fetcher.pages[note2URL] = testutil.StatePage(fmt.Sprintf(
		`{note:{note:{title:"Same",imageList:[{urlDefault:"%s/media/b.png"}]}}}`, h.host.URL))

	res, err := h.orch.Run(context.Background(), note1URL+" "+note2URL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.Join(baseNames(res.Media), ","); got != "Same_01,Same_01_2" {
		t.Fatalf("base names = %s", got)
	}
	if len(res.Saved) != 2 || res.Duplicates != 0 {
		t.Fatalf("saved = %d, dups = %d", len(res.Saved), res.Duplicates)
	}
	if res.Saved[0].LocalPath == res.Saved[1].LocalPath {
		t.Errorf("both items retrieved to %s", res.Saved[0].LocalPath)
	}

	tails := map[byte]bool{}
	for _, name := range []string{"xhs_Same_01.png", "xhs_Same_01_2.png"} {
		data, err := os.ReadFile(filepath.Join(h.libDir, storage.PhotosDir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		tails[data[len(data)-1]] = true
	}
	if !tails['a'] || !tails['b'] {
		t.Errorf("library content tails = %v, want a and b", tails)
	}
}

func TestDownload_NamesUniqueWithinBatch(t *testing.T) {
	h := newHarness(t, 2)
	a, _ := url.Parse(h.host.URL + "/media/a.png")
	b, _ := url.Parse(h.host.URL + "/media/b.png")
	media := []models.RemoteMedia{
		{URL: a, Type: models.MediaImage, FileBaseName: "dup_01"},
		{URL: b, Type: models.MediaImage, FileBaseName: "dup_01"},
	}

	saved, err := h.orch.Download(context.Background(), media)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(saved) != 2 || saved[1].Media.FileBaseName != "dup_01_2" {
		t.Fatalf("saved = %+v", saved)
	}
	if media[1].FileBaseName != "dup_01" {
		t.Error("caller's slice was modified")
	}
}

func TestRun_WorkerPoolKeepsInputOrder(t *testing.T) {
	h := newHarness(t, 2)
	res, err := h.orch.Run(context.Background(), shortLink+" "+note2URL)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"n1_01", "n1_02", "n2_01"}
	var got []string
	for _, s := range res.Saved {
		got = append(got, s.Media.FileBaseName)
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("saved order = %v, want %v", got, want)
	}

	last := -1
	for _, e := range h.drain() {
		if e.Type != events.TypeProgress {
			continue
		}
		if e.Current <= last {
			t.Errorf("progress went from %d to %d", last, e.Current)
		}
		last = e.Current
	}
	if last != len(res.Media) {
		t.Errorf("final progress = %d, want %d", last, len(res.Media))
	}
}

// cancellingRetriever cancels the run once its first retrieval returns.
type cancellingRetriever struct {
	Retriever
	cancel context.CancelFunc
	calls  atomic.Int32
}

func (c *cancellingRetriever) Retrieve(ctx context.Context, m models.RemoteMedia) (string, error) {
	c.calls.Add(1)
	defer c.cancel()
	return c.Retriever.Retrieve(ctx, m)
}

func TestDownload_CancelledBetweenItems(t *testing.T) {
	h := newHarness(t, 1)
	media, err := h.orch.Collect(context.Background(), shortLink+" "+note2URL)
	if err != nil {
		t.Fatal(err)
	}

	workDir := t.TempDir()
	cfg := fetch.DefaultConfig()
	cfg.RateLimit = 0
	r, err := retriever.New(fetch.New(cfg), workDir, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cr := &cancellingRetriever{Retriever: r, cancel: cancel}
	h.orch.d.Retriever = cr

	_, err = h.orch.Download(ctx, media)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := cr.calls.Load(); n != 1 {
		t.Errorf("retrievals = %d, want 1", n)
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".xhsdl-tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestRun_SecondRunReportsDuplicates(t *testing.T) {
	h := newHarness(t, 1)
	if _, err := h.orch.Run(context.Background(), note2URL); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	res, err := h.orch.Run(context.Background(), note2URL)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Duplicates != 2 {
		t.Errorf("duplicates = %d, want 2", res.Duplicates)
	}
	entries, _ := os.ReadDir(filepath.Join(h.libDir, storage.PhotosDir))
	if len(entries) != 2 {
		t.Errorf("library photos = %d, want 2", len(entries))
	}
}

func TestRun_NoMediaFoundCompletes(t *testing.T) {
	h := newHarness(t, 1)
	h.fetcher.pages[note2URL] = "<html><body>nothing here</body></html>"

	res, err := h.orch.Run(context.Background(), note2URL)
	if !errors.Is(err, apperr.ErrNoMediaFound) {
		t.Fatalf("err = %v, want ErrNoMediaFound", err)
	}
	if res.State != StateCompleted {
		t.Errorf("state = %s, want Completed", res.State)
	}
}

func TestRun_InvalidInputFails(t *testing.T) {
	h := newHarness(t, 1)
	res, err := h.orch.Run(context.Background(), "hello")
	if !errors.Is(err, apperr.ErrInvalidInput) || res.State != StateFailed {
		t.Errorf("res = %+v, err = %v", res, err)
	}
}

type deniedLibrary struct{}

func (deniedLibrary) Authorize(context.Context) error { return apperr.ErrPermissionDenied }
func (deniedLibrary) Save(context.Context, string, bool) (string, error) {
	return "", errors.New("unreachable")
}

func TestDownload_PermissionDeniedIsFatal(t *testing.T) {
	h := newHarness(t, 1)
	media, err := h.orch.Collect(context.Background(), note2URL)
	if err != nil {
		t.Fatal(err)
	}
	h.orch.d.Library = deniedLibrary{}
	hits := h.host.Hits()

	_, err = h.orch.Download(context.Background(), media)
	if !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if h.host.Hits() != hits {
		t.Error("media was retrieved despite denied permission")
	}
}

func TestDownload_UnsupportedUsesFallback(t *testing.T) {
	h := newHarness(t, 1)
	u, _ := url.Parse(h.host.URL + "/media/t.mp4")
	media := []models.RemoteMedia{{URL: u, Type: models.MediaVideo, FileBaseName: "fake_01"}}

	saved, err := h.orch.Download(context.Background(), media)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(saved) != 1 || filepath.Dir(saved[0].LibraryPath) != storage.OtherDir {
		t.Errorf("saved = %+v", saved)
	}
}

type brokenLibrary struct{}

func (brokenLibrary) Authorize(context.Context) error { return nil }
func (brokenLibrary) Save(context.Context, string, bool) (string, error) {
	return "", errors.New("disk gone")
}

// stickyLedger refuses to forget entries.
type stickyLedger struct {
	ledger.Ledger
}

func (stickyLedger) Forget(context.Context, string) error { return errors.New("ledger locked") }

func TestDownload_ForgetFailureIsLogged(t *testing.T) {
	h := newHarness(t, 1)
	var logs bytes.Buffer
	h.orch.d.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	h.orch.d.Library = brokenLibrary{}
	h.orch.d.Ledger = stickyLedger{Ledger: testutil.TestLedger(t)}

	u, _ := url.Parse(h.host.URL + "/media/a.png")
	saved, err := h.orch.Download(context.Background(), []models.RemoteMedia{{URL: u, Type: models.MediaImage, FileBaseName: "x_01"}})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(saved) != 0 {
		t.Errorf("saved = %+v, want none", saved)
	}
	if !strings.Contains(logs.String(), "ledger forget failed") || !strings.Contains(logs.String(), "ledger locked") {
		t.Errorf("logs = %s", logs.String())
	}
}

func TestDescribe(t *testing.T) {
	h := newHarness(t, 1)
	h.fetcher.pages[note2URL] = testutil.StatePage(`{"note":{"note":{"title":"T","desc":"a long caption"}}}`)

	got, err := h.orch.Describe(context.Background(), brokenURL+" "+note2URL)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if got != "a long caption" {
		t.Errorf("Describe = %q", got)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("expected error for missing collaborators")
	}
}
