package library

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to create %s: %v", n, err)
		}
	}
}

func TestList_FiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.mp3", "a.WAV", "notes.txt", "c.flac", "take.pcm")
	os.Mkdir(filepath.Join(dir, "sub.wav"), 0755)

	lib := New(dir, nil, "")
	entries, err := lib.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"a.WAV", "b.mp3", "c.flac"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Unexpected entries (-want +got):\n%s", diff)
	}
	if entries[0].Extension != "wav" {
		t.Errorf("Expected extension wav, got %s", entries[0].Extension)
	}
}

func TestList_CustomExtensions(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.wav", "b.mp3")

	lib := New(dir, []string{"mp3", " "}, "")
	items, err := lib.Items()
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	if len(items) != 1 || items[0].Name != "b.mp3" {
		t.Errorf("Expected only b.mp3, got %v", items)
	}
	if items[0].Path != filepath.Join(dir, "b.mp3") {
		t.Errorf("Expected full path, got %s", items[0].Path)
	}
}

func TestList_MissingDirectory(t *testing.T) {
	lib := New(filepath.Join(t.TempDir(), "missing"), nil, "")
	if _, err := lib.List(); err == nil {
		t.Error("Expected error for missing directory")
	}
	if _, err := New("", nil, "").List(); err == nil {
		t.Error("Expected error for empty directory")
	}
}

func TestSelection_Persists(t *testing.T) {
	configured := t.TempDir()
	picked := t.TempDir()
	touch(t, picked, "one.wav", "two.wav")
	state := filepath.Join(t.TempDir(), "state", "library.yaml")

	lib := New(configured, nil, state)
	if err := lib.SelectDirectory(picked); err != nil {
		t.Fatalf("SelectDirectory failed: %v", err)
	}
	if err := lib.Select("two.wav"); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if err := lib.Select("missing.wav"); err == nil {
		t.Error("Expected error selecting a missing file")
	}

	reopened := New(configured, nil, state)
	abs, _ := filepath.Abs(picked)
	if reopened.Directory() != abs {
		t.Errorf("Expected persisted directory %s, got %s", abs, reopened.Directory())
	}
	entries, err := reopened.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 || !entries[1].IsSelected || entries[0].IsSelected {
		t.Errorf("Expected two.wav selected, got %+v", entries)
	}

	sel, err := reopened.Selection()
	if err != nil {
		t.Fatalf("Selection failed: %v", err)
	}
	if sel.Selected != "two.wav" || sel.LastUpdated == "" {
		t.Errorf("Unexpected selection %+v", sel)
	}
}

func TestSelectDirectory_Invalid(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "file.wav")
	lib := New(dir, nil, filepath.Join(dir, "state.yaml"))

	if err := lib.SelectDirectory(filepath.Join(dir, "nope")); err == nil {
		t.Error("Expected error for missing directory")
	}
	if err := lib.SelectDirectory(filepath.Join(dir, "file.wav")); err == nil {
		t.Error("Expected error for a file")
	}
}

func TestCleanName(t *testing.T) {
	tests := map[string]string{
		"My Song!":       "My_Song",
		"  spaced out  ": "spaced_out",
		"a/b\\c":         "abc",
		"take-1_final":   "take-1_final",
	}
	for in, want := range tests {
		if got := CleanName(in); got != want {
			t.Errorf("CleanName(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestTakePaths(t *testing.T) {
	raw, wav := TakePaths("/rec", "My Song")
	if raw != "/rec/My_Song.pcm" || wav != "/rec/My_Song.wav" {
		t.Errorf("Unexpected paths %s %s", raw, wav)
	}
	raw, _ = TakePaths("/rec", "!!!")
	if raw != "/rec/recording.pcm" {
		t.Errorf("Expected fallback name, got %s", raw)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:     "512 B",
		2048:    "2.0 KB",
		5 << 20: "5.0 MB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d): expected %s, got %s", in, want, got)
		}
	}
}
