// Package library lists playable files in a folder and remembers which
// folder and file the user picked.
package library

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/jamdeck/internal/audio"
	"github.com/google/renameio/v2"
	"github.com/thoas/go-funk"
	"gopkg.in/yaml.v3"
)

// DefaultExtensions are used when no extensions are configured
var DefaultExtensions = []string{".wav", ".mp3", ".flac"}

// Entry describes one playable file
type Entry struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Extension    string    `json:"extension"`
	IsSelected   bool      `json:"is_selected"`
}

// Selection is persisted between runs
type Selection struct {
	Directory   string `yaml:"directory,omitempty"`
	Selected    string `yaml:"selected,omitempty"`
	LastUpdated string `yaml:"last_updated,omitempty"`
}

// Library scans one directory. A directory chosen with SelectDirectory
// replaces the configured one.
type Library struct {
	mu         sync.RWMutex
	dir        string
	extensions []string
	statePath  string
}

// New returns a library for dir. An empty statePath disables persistence.
func New(dir string, extensions []string, statePath string) *Library {
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	return &Library{dir: dir, extensions: exts, statePath: statePath}
}

// Directory returns the directory currently scanned
func (l *Library) Directory() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.directory()
}

func (l *Library) directory() string {
	if sel, err := l.load(); err == nil && sel.Directory != "" {
		return sel.Directory
	}
	return l.dir
}

// List returns the playable files sorted by name
func (l *Library) List() ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	dir := l.directory()
	if dir == "" {
		return nil, errors.New("no library directory configured")
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read library directory: %w", err)
	}

	sel, _ := l.load()

	var entries []Entry
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(file.Name()))
		if !funk.ContainsString(l.extensions, ext) {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}

		entries = append(entries, Entry{
			Name:         file.Name(),
			Path:         filepath.Join(dir, file.Name()),
			Size:         info.Size(),
			SizeHuman:    FormatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			Extension:    strings.TrimPrefix(ext, "."),
			IsSelected:   file.Name() == sel.Selected,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Items returns the library as a playlist
func (l *Library) Items() ([]audio.Item, error) {
	entries, err := l.List()
	if err != nil {
		return nil, err
	}
	items := make([]audio.Item, len(entries))
	for i, e := range entries {
		items[i] = audio.Item{Name: e.Name, Path: e.Path}
	}
	return items, nil
}

// SelectDirectory switches the library to dir and remembers it
func (l *Library) SelectDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("library directory not found: %s", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	sel, _ := l.load()
	if sel.Directory != abs {
		sel.Selected = ""
	}
	sel.Directory = abs
	slog.Info("Library directory selected", "directory", abs)
	return l.save(sel)
}

// Select marks name as the selected file
func (l *Library) Select(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir := l.directory()
	if _, err := os.Stat(filepath.Join(dir, filepath.Base(name))); err != nil {
		return fmt.Errorf("library file not found: %s", name)
	}

	sel, _ := l.load()
	sel.Selected = filepath.Base(name)
	return l.save(sel)
}

// Selection returns the persisted selection
func (l *Library) Selection() (Selection, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.load()
}

func (l *Library) load() (Selection, error) {
	var sel Selection
	if l.statePath == "" {
		return sel, nil
	}
	data, err := os.ReadFile(l.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return sel, nil
		}
		return sel, fmt.Errorf("failed to read library state: %w", err)
	}
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return sel, fmt.Errorf("failed to parse library state: %w", err)
	}
	return sel, nil
}

func (l *Library) save(sel Selection) error {
	if l.statePath == "" {
		return nil
	}
	sel.LastUpdated = time.Now().Format(time.RFC3339)

	if err := os.MkdirAll(filepath.Dir(l.statePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := yaml.Marshal(sel)
	if err != nil {
		return fmt.Errorf("failed to marshal library state: %w", err)
	}
	if err := renameio.WriteFile(l.statePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write library state: %w", err)
	}
	return nil
}

// CleanName keeps letters, digits, spaces, hyphens and underscores, then
// replaces spaces with underscores.
func CleanName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

// TakePaths returns the raw and container paths for a recording name
func TakePaths(dir, name string) (rawPath, wavPath string) {
	clean := CleanName(name)
	if clean == "" {
		clean = "recording"
	}
	return filepath.Join(dir, clean+".pcm"), filepath.Join(dir, clean+".wav")
}

// FormatBytes formats bytes in human readable form
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
