package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/starford/xhsdl/internal/apperr"
)

// Library subdirectories by media kind.
const (
	PhotosDir = "photos"
	VideosDir = "videos"
	OtherDir  = "other"
)

// sniffLen is the number of leading bytes used for content detection.
const sniffLen = 512

// FS implements Library backed by a local directory.
type FS struct {
	root string // absolute path to library directory
}

var _ Library = (*FS)(nil)

// NewFS creates a new FS library rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute library directory.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the library root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes library root: %s", rel)
	}
	return abs, nil
}

// Authorize probes the root with a throwaway file.
func (f *FS) Authorize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := os.CreateTemp(f.root, ".xhsdl-probe-*")
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("storage: %s: %w", f.root, apperr.ErrPermissionDenied)
		}
		return fmt.Errorf("storage: probe %s: %w", f.root, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

// Save copies localPath into photos/ or videos/ after checking that the
// file content matches the declared kind.
func (f *FS) Save(ctx context.Context, localPath string, isVideo bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	contentType, err := detect(localPath)
	if err != nil {
		return "", err
	}
	want, dir := "image/", PhotosDir
	if isVideo {
		want, dir = "video/", VideosDir
	}
	if !strings.HasPrefix(contentType, want) {
		return "", fmt.Errorf("storage: %s is %s: %w", filepath.Base(localPath), contentType, apperr.ErrUnsupported)
	}
	return f.importFile(localPath, dir)
}

// Fallback returns a Library that stores any file under other/ without a
// content check. It shares the root and permission probe of f.
func (f *FS) Fallback() Library { return fallback{fs: f} }

type fallback struct{ fs *FS }

func (fb fallback) Authorize(ctx context.Context) error { return fb.fs.Authorize(ctx) }

func (fb fallback) Save(ctx context.Context, localPath string, _ bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fb.fs.importFile(localPath, OtherDir)
}

// importFile copies src into dir under a name that does not collide with
// an existing library file and returns the library-relative path.
func (f *FS) importFile(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("storage: open %s: %w", src, err)
	}
	defer in.Close()

	rel, abs, err := f.freeName(dir, filepath.Base(src))
	if err != nil {
		return "", err
	}
	if err := f.write(abs, in); err != nil {
		return "", err
	}
	return rel, nil
}

// freeName returns dir/name, or dir/stem_N.ext for the first free N.
func (f *FS) freeName(dir, name string) (string, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 2; ; n++ {
		rel := filepath.Join(dir, candidate)
		abs, err := f.safePath(rel)
		if err != nil {
			return "", "", err
		}
		if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
			return rel, abs, nil
		} else if err != nil {
			return "", "", fmt.Errorf("storage: stat %s: %w", rel, err)
		}
		candidate = stem + "_" + strconv.Itoa(n) + ext
	}
}

// write atomically writes content: tmp file → fsync → rename.
func (f *FS) write(abs string, content io.Reader) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", mapPermission(err))
	}

	tmp, err := os.CreateTemp(dir, ".xhsdl-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", mapPermission(err))
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// detect sniffs the MIME type from the first bytes of the file.
func detect(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer file.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("storage: read %s: %w", path, err)
	}
	return http.DetectContentType(head[:n]), nil
}

func mapPermission(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", apperr.ErrPermissionDenied, err)
	}
	return err
}
