//go:build darwin

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Values are stored hex-encoded behind a version prefix: `security -w` trims
// output and cannot hold an empty password, and the round trip must be exact.
const keychainValuePrefix = "v1:"

func keychainGet(service, account string) (string, error) {
	out, err := exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 44 {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("reading keychain item: %w", err)
	}
	raw := strings.TrimSpace(string(out))
	if !strings.HasPrefix(raw, keychainValuePrefix) {
		return raw, nil
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(raw, keychainValuePrefix))
	if err != nil {
		return "", fmt.Errorf("decoding keychain item: %w", err)
	}
	return string(decoded), nil
}

func keychainSet(service, account, value string) error {
	encoded := keychainValuePrefix + hex.EncodeToString([]byte(value))
	out, err := exec.Command(
		"security", "add-generic-password",
		"-U",
		"-s", service,
		"-a", account,
		"-w", encoded,
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("writing keychain item: %w, output: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func keychainDelete(service, account string) error {
	err := exec.Command(
		"security", "delete-generic-password",
		"-s", service,
		"-a", account,
	).Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 44 {
			return nil
		}
		return fmt.Errorf("deleting keychain item: %w", err)
	}
	return nil
}
