package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const secretService = "pdfmerge"

// SecretStore reads and writes named secrets.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type keychain struct{}

// NewKeychain returns the platform secret store: macOS Keychain on darwin,
// a 0600 JSON file under XDG_DATA_HOME elsewhere.
func NewKeychain() SecretStore { return keychain{} }

func (keychain) Get(service, account string) (string, error) {
	b, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (keychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the stored API bearer token, generating and persisting
// a random one on first use.
func GetAPIToken(kc SecretStore) (string, error) {
	return getOrCreateSecret(kc, "api_token")
}

// EnsureLinkSecret returns the link-token secret, generating one when none
// has been stored yet.
func EnsureLinkSecret(kc SecretStore) (string, error) {
	return getOrCreateSecret(kc, "link_secret")
}

func getOrCreateSecret(kc SecretStore, account string) (string, error) {
	if v, err := kc.Get(secretService, account); err == nil && v != "" {
		return v, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating %s: %w", account, err)
	}
	v := hex.EncodeToString(buf)
	if err := kc.Set(secretService, account, v); err != nil {
		return "", fmt.Errorf("storing %s: %w", account, err)
	}
	return v, nil
}
