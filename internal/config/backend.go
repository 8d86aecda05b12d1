package config

import "sync"

// ConfigBackend abstracts platform-specific config storage.
// macOS uses UserDefaults (via `defaults` CLI), Linux can use
// XDG config files, GSettings, or any other native mechanism.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// MemoryBackend keeps settings in process memory. Used by tests.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]any
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]any)}
}

func (b *MemoryBackend) GetString(key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return stringValue(b.data, key)
}

func (b *MemoryBackend) GetInt(key string) (int, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return intValue(b.data, key)
}

func (b *MemoryBackend) SetString(key, val string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = val
	return nil
}

func (b *MemoryBackend) SetInt(key string, val int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = val
	return nil
}

// Set stores an arbitrary value, letting tests plant values of the wrong type.
func (b *MemoryBackend) Set(key string, val any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = val
}

func (b *MemoryBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}
