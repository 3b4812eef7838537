package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

const (
	keychainService = "daybook"
	apiTokenAccount = "api_token"
)

// Keychain reads and writes secrets in the platform secret store. Get wraps
// fs.ErrNotExist when the secret has never been stored.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store: macOS Keychain on darwin,
// a 0600 JSON file elsewhere.
func NewKeychain() Keychain {
	return platformKeychain{}
}

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token guarding the HTTP API, generating and
// storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	tok, err := kc.Get(keychainService, apiTokenAccount)
	switch {
	case err == nil && tok != "":
		return tok, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("reading API token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok = hex.EncodeToString(buf)
	if err := kc.Set(keychainService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

// SetSecret stores a secret config key such as ai.openai_api_key.
func SetSecret(kc Keychain, key, value string) error {
	for _, s := range specs {
		if s.key == key && s.secret {
			return kc.Set(keychainService, secretAccount(key), value)
		}
	}
	return fmt.Errorf("%q is not a secret config key", key)
}

// secretAccount maps "ai.openai_api_key" to the "openai_api_key" account.
func secretAccount(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}
