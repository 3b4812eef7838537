//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Without a system keychain, secrets live in a 0600 JSON file next to the
// database, keyed by service then account.
type secretsFile map[string]map[string]string

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func loadSecrets(path string) (secretsFile, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return secretsFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	s := secretsFile{}
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}
	return s, nil
}

func keychainGet(service, account string) ([]byte, error) {
	s, err := loadSecrets(secretsFilePath())
	if err != nil {
		return nil, err
	}
	val, ok := s[service][account]
	if !ok {
		return nil, fmt.Errorf("secret %s/%s: %w", service, account, fs.ErrNotExist)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	path := secretsFilePath()
	s, err := loadSecrets(path)
	if err != nil {
		return err
	}
	if s[service] == nil {
		s[service] = map[string]string{}
	}
	s[service][account] = value

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding secrets: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}
