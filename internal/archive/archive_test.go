package archive_test

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"trk-go/internal/archive"
	"trk-go/internal/trk"
)

// Both implementations satisfy the same contract; run the shared suite
// over each.
func archives(t *testing.T) map[string]trk.Archive {
	fs, err := archive.NewFileSystemArchive(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create filesystem archive: %v", err)
	}
	return map[string]trk.Archive{
		"filesystem": fs,
		"memory":     archive.NewMemoryArchive(),
	}
}

func TestPutOpenRoundTrip(t *testing.T) {
	for name, a := range archives(t) {
		t.Run(name, func(t *testing.T) {
			content := "recording bytes"
			if err := a.Put("fp-1", strings.NewReader(content), int64(len(content))); err != nil {
				t.Fatalf("put failed: %v", err)
			}

			rc, err := a.Open("fp-1")
			if err != nil {
				t.Fatalf("open failed: %v", err)
			}
			defer rc.Close()
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if string(got) != content {
				t.Errorf("expected %q, got %q", content, got)
			}

			ok, err := a.Has("fp-1")
			if err != nil || !ok {
				t.Errorf("expected Has to report stored fingerprint")
			}
			ok, err = a.Has("fp-missing")
			if err != nil || ok {
				t.Errorf("expected Has to report missing fingerprint")
			}
		})
	}
}

func TestPutIsIdempotent(t *testing.T) {
	for name, a := range archives(t) {
		t.Run(name, func(t *testing.T) {
			content := "same bytes"
			for i := 0; i < 2; i++ {
				if err := a.Put("fp-1", strings.NewReader(content), int64(len(content))); err != nil {
					t.Fatalf("put %d failed: %v", i, err)
				}
			}
			fps, err := a.List()
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(fps) != 1 {
				t.Errorf("expected 1 entry after duplicate puts, got %d", len(fps))
			}
		})
	}
}

func TestPutSizeMismatch(t *testing.T) {
	for name, a := range archives(t) {
		t.Run(name, func(t *testing.T) {
			err := a.Put("fp-1", strings.NewReader("short"), 100)
			if err == nil {
				t.Fatal("expected size mismatch error")
			}
			ok, _ := a.Has("fp-1")
			if ok {
				t.Error("expected nothing stored after failed put")
			}
		})
	}
}

func TestList(t *testing.T) {
	for name, a := range archives(t) {
		t.Run(name, func(t *testing.T) {
			for _, fp := range []string{"fp-b", "fp-a", "fp-c"} {
				if err := a.Put(fp, strings.NewReader("x"), 1); err != nil {
					t.Fatalf("put failed: %v", err)
				}
			}
			fps, err := a.List()
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			sort.Strings(fps)
			want := []string{"fp-a", "fp-b", "fp-c"}
			if len(fps) != len(want) {
				t.Fatalf("expected %d entries, got %d", len(want), len(fps))
			}
			for i := range want {
				if fps[i] != want[i] {
					t.Errorf("entry %d: expected %s, got %s", i, want[i], fps[i])
				}
			}
		})
	}
}

func TestOpenMissing(t *testing.T) {
	for name, a := range archives(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := a.Open("fp-missing"); err == nil {
				t.Error("expected error opening missing fingerprint")
			}
		})
	}
}

func TestFileSystemArchiveIgnoresTempFiles(t *testing.T) {
	root := t.TempDir()
	a, err := archive.NewFileSystemArchive(root)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	if err := a.Put("fp-1", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// A leftover temp file from a crashed write must not surface as
	// archived content.
	stale := filepath.Join(root, "content", ".tmp-12345")
	if err := os.WriteFile(stale, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	fps, err := a.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(fps) != 1 || fps[0] != "fp-1" {
		t.Errorf("expected only fp-1, got %v", fps)
	}
}
