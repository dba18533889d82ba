package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/xhsdl/internal/apperr"
)

var (
	pngHead = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	mp4Head = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")
)

func tempLibrary(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func writeSource(t *testing.T, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSave_Image(t *testing.T) {
	s := tempLibrary(t)
	src := writeSource(t, "xhs_note_01.png", pngHead)

	rel, err := s.Save(context.Background(), src, false)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rel != filepath.Join(PhotosDir, "xhs_note_01.png") {
		t.Errorf("rel = %s", rel)
	}
	got, err := os.ReadFile(filepath.Join(s.Root(), rel))
	if err != nil {
		t.Fatalf("read saved: %v", err)
	}
	if string(got) != string(pngHead) {
		t.Errorf("content mismatch")
	}
}

func TestSave_Video(t *testing.T) {
	s := tempLibrary(t)
	src := writeSource(t, "xhs_clip_01.mp4", mp4Head)

	rel, err := s.Save(context.Background(), src, true)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(rel) != VideosDir {
		t.Errorf("rel = %s, want under %s", rel, VideosDir)
	}
}

func TestSave_KindMismatchUnsupported(t *testing.T) {
	s := tempLibrary(t)
	src := writeSource(t, "xhs_fake_01.mp4", []byte("plain text, not a video"))

	_, err := s.Save(context.Background(), src, true)
	if !errors.Is(err, apperr.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}

	rel, err := s.Fallback().Save(context.Background(), src, true)
	if err != nil {
		t.Fatalf("fallback Save: %v", err)
	}
	if filepath.Dir(rel) != OtherDir {
		t.Errorf("fallback rel = %s", rel)
	}
}

func TestSave_CollisionGetsSuffix(t *testing.T) {
	s := tempLibrary(t)
	src := writeSource(t, "xhs_same_01.png", pngHead)

	first, err := s.Save(context.Background(), src, false)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := s.Save(context.Background(), src, false)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first == second {
		t.Fatalf("second save overwrote first: %s", second)
	}
	if filepath.Base(second) != "xhs_same_01_2.png" {
		t.Errorf("second = %s", second)
	}
}

func TestSave_NoLeftoverTemp(t *testing.T) {
	s := tempLibrary(t)
	src := writeSource(t, "xhs_a_01.png", pngHead)
	if _, err := s.Save(context.Background(), src, false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, PhotosDir, ".xhsdl-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestSave_CancelledContext(t *testing.T) {
	s := tempLibrary(t)
	src := writeSource(t, "xhs_a_01.png", pngHead)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Save(ctx, src, false); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempLibrary(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.png",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.safePath(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
	}
}

func TestAuthorize(t *testing.T) {
	s := tempLibrary(t)
	if err := s.Authorize(context.Background()); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	entries, _ := os.ReadDir(s.Root())
	if len(entries) != 0 {
		t.Errorf("probe left files behind: %v", entries)
	}
}

func TestAuthorize_ReadOnlyDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses directory permissions")
	}
	s := tempLibrary(t)
	if err := os.Chmod(s.Root(), 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(s.Root(), 0o755) })

	if err := s.Authorize(context.Background()); !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/xhsdl-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "xhsdl-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
