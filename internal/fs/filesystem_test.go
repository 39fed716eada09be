package fs

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestWalk(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":              "a",
		"docs/b.txt":         "bb",
		"docs/.DS_Store":     "x",
		"docs/deep/c.txt":    "ccc",
		"build/out.o":        "o",
		"notes.log":          "log",
		IgnoreFileName:       "build\n*.log\n",
		"docs/deep/~$c.docx": "lock",
	})
	if err := os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	var got []string
	sizes := map[string]int64{}
	err := Walk(root, NewTempFileMatcher(nil), func(e Entry) error {
		got = append(got, e.RelPath)
		if !e.IsDir {
			sizes[e.RelPath] = e.Size
		}
		if e.Changed.IsZero() || e.Created.IsZero() {
			t.Errorf("%s: missing timestamps", e.RelPath)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	want := []string{"a.txt", "docs", "docs/b.txt", "docs/deep", "docs/deep/c.txt"}
	if !slices.Equal(got, want) {
		t.Errorf("Walk() visited %v, want %v", got, want)
	}
	if sizes["docs/deep/c.txt"] != 3 {
		t.Errorf("size of c.txt = %d, want 3", sizes["docs/deep/c.txt"])
	}
}

func TestWalk_NotADirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "f")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := Walk(file, nil, func(Entry) error { return nil }); err == nil {
		t.Fatal("expected error walking a file")
	}
}

func TestEntry_Open(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"x/y.txt": "hello"})

	var entries []Entry
	if err := Walk(root, nil, func(e Entry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if _, err := entries[0].Open(); err == nil {
		t.Error("expected error opening a directory entry")
	}
	rc, err := entries[1].Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Errorf("content = %q, want %q", data, "hello")
	}
}
