package config

import (
	"errors"
	"fmt"
	"os"
)

const (
	credentialAccount = "api_key"
	credentialEnv     = "SIDEKICK_API_KEY"
)

// Secrets stores the API credential in the platform keychain. Store and
// Clear each publish one "credential" ChangeEvent. The value is never logged.
type Secrets struct {
	kc       Keychain
	notifier *Notifier
}

// NewSecrets wraps a keychain. notifier may be nil.
func NewSecrets(kc Keychain, n *Notifier) *Secrets {
	return &Secrets{kc: kc, notifier: n}
}

func (s *Secrets) Store(value string) error {
	if err := s.kc.Set(keychainService, credentialAccount, value); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	s.notifier.Publish(ChangeEvent{Key: "credential"})
	return nil
}

// Get returns the stored credential. When nothing is stored, the
// SIDEKICK_API_KEY environment variable is used if set.
func (s *Secrets) Get() (string, bool, error) {
	v, err := s.kc.Get(keychainService, credentialAccount)
	if err == nil {
		return v, true, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return "", false, fmt.Errorf("reading credential: %w", err)
	}
	if env := os.Getenv(credentialEnv); env != "" {
		return env, true, nil
	}
	return "", false, nil
}

func (s *Secrets) Clear() error {
	if err := s.kc.Delete(keychainService, credentialAccount); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	s.notifier.Publish(ChangeEvent{Key: "credential"})
	return nil
}
