//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileBackend_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	b := newFileBackend(dir)

	if err := b.SetInt("companion.frequency", 300); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("llm.model", "gpt-test"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	reopened := newFileBackend(dir)
	if v, ok, err := reopened.GetInt("companion.frequency"); err != nil || !ok || v != 300 {
		t.Errorf("GetInt = (%d, %v, %v), want 300", v, ok, err)
	}

	// An external edit is picked up on the next read.
	later := time.Now().Add(2 * time.Second)
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"llm.model":"edited"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := b.GetString("llm.model"); v != "edited" {
		t.Errorf("GetString after external edit = %q, want edited", v)
	}

	if err := b.Delete("llm.model"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := b.GetString("llm.model"); ok {
		t.Error("llm.model still present after Delete")
	}
}

func TestFileKeychain_RoundTrip(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	kc := NewKeychain()

	if _, err := kc.Get("sidekick", "api_key"); err != ErrSecretNotFound {
		t.Fatalf("Get on empty store err = %v, want ErrSecretNotFound", err)
	}
	if err := kc.Set("sidekick", "api_key", ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := kc.Get("sidekick", "api_key"); err != nil || v != "" {
		t.Errorf("Get = (%q, %v), want empty string present", v, err)
	}
	if err := kc.Delete("sidekick", "api_key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kc.Get("sidekick", "api_key"); err != ErrSecretNotFound {
		t.Errorf("Get after delete err = %v, want ErrSecretNotFound", err)
	}

	info, err := os.Stat(secretsFilePath())
	if err != nil {
		t.Fatalf("stat secrets file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets file perm = %o, want 600", perm)
	}
}
