package config

import "errors"

// ErrSecretNotFound is returned by a Keychain when no value is stored for
// the requested service/account pair.
var ErrSecretNotFound = errors.New("secret not found")

const keychainService = "sidekick"

// Keychain abstracts the platform secret store. On macOS it shells out to the
// `security` CLI; elsewhere it is a 0600 JSON file under the data directory.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
	Delete(service, account string) error
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	return keychainGet(service, account)
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

func (platformKeychain) Delete(service, account string) error {
	return keychainDelete(service, account)
}
