// Package testutil provides shared test helpers for libraries, ledgers and
// a fake media host.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/starford/xhsdl/internal/ledger"
	"github.com/starford/xhsdl/internal/storage"
)

// Leading bytes that http.DetectContentType recognizes.
var (
	PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	MP4 = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")
)

// TestLedger creates a temporary SQLite ledger that is automatically closed.
func TestLedger(t *testing.T) *ledger.DB {
	t.Helper()
	db, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestLibrary creates a temporary library directory with a storage.FS.
func TestLibrary(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	lib, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, lib
}

// File is one object served by a MediaHost.
type File struct {
	ContentType string
	Body        []byte
}

// MediaHost serves fixed files by path and 404 for everything else.
type MediaHost struct {
	*httptest.Server
	hits atomic.Int64
}

// NewMediaHost starts a MediaHost that is closed with the test.
func NewMediaHost(t *testing.T, files map[string]File) *MediaHost {
	t.Helper()
	h := &MediaHost{}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		f, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", f.ContentType)
		_, _ = w.Write(f.Body)
	}))
	t.Cleanup(h.Close)
	return h
}

// Hits returns the number of requests served.
func (h *MediaHost) Hits() int { return int(h.hits.Load()) }

// StatePage wraps a state literal the way note pages embed it.
func StatePage(state string) string {
	return "<html><head><script>window.__INITIAL_STATE__=" + state + "</script></head><body></body></html>"
}
