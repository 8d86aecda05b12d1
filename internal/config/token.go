package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

const tokenAccount = "api_token"

// GetAPIToken returns the bearer token guarding the daemon's HTTP API,
// generating and storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	tok, err := kc.Get(keychainService, tokenAccount)
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return "", fmt.Errorf("reading api token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok = hex.EncodeToString(buf)
	if err := kc.Set(keychainService, tokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
