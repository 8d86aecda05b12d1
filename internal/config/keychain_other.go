//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// secretsMu serialises read-modify-write cycles on the secrets file.
var secretsMu sync.Mutex

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func readSecrets(p string) (map[string]map[string]string, error) {
	secrets := make(map[string]map[string]string)
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return secrets, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func writeSecrets(p string, secrets map[string]map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}

func keychainGet(service, account string) (string, error) {
	secretsMu.Lock()
	defer secretsMu.Unlock()

	secrets, err := readSecrets(secretsFilePath())
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", ErrSecretNotFound
	}
	return val, nil
}

func keychainSet(service, account, value string) error {
	secretsMu.Lock()
	defer secretsMu.Unlock()

	p := secretsFilePath()
	secrets, err := readSecrets(p)
	if err != nil {
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value
	return writeSecrets(p, secrets)
}

func keychainDelete(service, account string) error {
	secretsMu.Lock()
	defer secretsMu.Unlock()

	p := secretsFilePath()
	secrets, err := readSecrets(p)
	if err != nil {
		return err
	}
	if _, ok := secrets[service][account]; !ok {
		return nil
	}
	delete(secrets[service], account)
	if len(secrets[service]) == 0 {
		delete(secrets, service)
	}
	return writeSecrets(p, secrets)
}
