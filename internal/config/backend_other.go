//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "sidekick-data"
		}
	}
	return filepath.Join(dir, "sidekick")
}

func apiKeyHint() string {
	return " (stored in " + secretsFilePath() + ")"
}

// fileBackend stores config as a flat JSON object in an XDG-compatible path.
// This is the default for Linux and other non-macOS platforms. The file is
// re-read whenever its modification time changes, so edits made outside the
// daemon are visible on the next read.
type fileBackend struct {
	path string

	mu      sync.Mutex
	data    map[string]any
	modTime time.Time
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(ConfigDir())
}

func newFileBackend(dir string) *fileBackend {
	b := &fileBackend{path: filepath.Join(dir, "config.json"), data: make(map[string]any)}
	b.load()
	return b
}

// ConfigDir returns the directory holding config.json and companions.yaml.
func ConfigDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "sidekick")
}

func (b *fileBackend) load() {
	info, err := os.Stat(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not stat config file %s: %v. Using default values.\n", b.path, err)
		}
		return
	}
	if info.ModTime().Equal(b.modTime) {
		return
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", b.path, err)
		return
	}
	fresh := make(map[string]any)
	if err := json.Unmarshal(data, &fresh); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", b.path, err)
		return
	}
	b.data = fresh
	b.modTime = info.ModTime()
}

func (b *fileBackend) save() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.path, data, 0o600); err != nil {
		return err
	}
	if info, err := os.Stat(b.path); err == nil {
		b.modTime = info.ModTime()
	}
	return nil
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	return stringValue(b.data, key)
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	return intValue(b.data, key)
}

func (b *fileBackend) SetString(key, val string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	b.data[key] = val
	return b.save()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	b.data[key] = val
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load()
	if _, ok := b.data[key]; !ok {
		return nil
	}
	delete(b.data, key)
	return b.save()
}
