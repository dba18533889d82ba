// Package retriever downloads normalized media into a local work directory.
package retriever

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/xhsdl/internal/apperr"
	"github.com/starford/xhsdl/internal/fetch"
	"github.com/starford/xhsdl/internal/models"
)

// DefaultTimeout bounds one media transfer end to end.
const DefaultTimeout = 90 * time.Second

// Getter is the subset of fetch.Client the retriever needs.
type Getter interface {
	Get(ctx context.Context, u *url.URL, accept string) (*http.Response, error)
}

var _ Getter = (*fetch.Client)(nil)

// Retriever writes each media item to dir as xhs_<base>.<ext>.
type Retriever struct {
	client  Getter
	dir     string
	timeout time.Duration
}

// New creates a Retriever, creating dir when missing.
func New(client Getter, dir string, timeout time.Duration) (*Retriever, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "xhsdl")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("retriever: create work dir: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Retriever{client: client, dir: dir, timeout: timeout}, nil
}

// Dir returns the work directory.
func (r *Retriever) Dir() string { return r.dir }

// Retrieve downloads m and returns the local file path. Any existing file
// at that path is replaced. A partial download never remains on disk.
func (r *Retriever) Retrieve(ctx context.Context, m models.RemoteMedia) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, m.URL, fetch.AcceptMedia)
	if err != nil {
		return "", fmt.Errorf("retriever: get %s: %w: %v", m.URL, apperr.ErrRetrievalFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("retriever: get %s: %w: HTTP %d", m.URL, apperr.ErrRetrievalFailed, resp.StatusCode)
	}

	ext := Extension(resp.Header.Get("Content-Type"), m.URL, m.Type)
	dest := filepath.Join(r.dir, "xhs_"+m.FileBaseName+"."+ext)
	if err := writeFile(dest, resp.Body); err != nil {
		return "", fmt.Errorf("retriever: %s: %w: %v", m.FileBaseName, apperr.ErrRetrievalFailed, err)
	}
	return dest, nil
}

// writeFile streams body to a temp file → fsync → rename over dest.
func writeFile(dest string, body io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".xhsdl-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replace existing: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	success = true
	return nil
}

// Extension picks a file extension from the content type, then the URL
// path, then the media type.
func Extension(contentType string, u *url.URL, t models.MediaType) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "png"):
		return "png"
	case strings.Contains(ct, "webp"):
		return "webp"
	case strings.Contains(ct, "gif"):
		return "gif"
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return "jpg"
	case strings.Contains(ct, "mp4"):
		return "mp4"
	case strings.Contains(ct, "quicktime"):
		return "mov"
	}
	if u != nil {
		if ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), "."); ext != "" {
			return ext
		}
	}
	if t == models.MediaVideo {
		return "mp4"
	}
	return "jpg"
}
