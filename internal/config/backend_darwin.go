//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "app.daybook"

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "daybook")
	}
	return "daybook-data"
}

// defaultsBackend keeps keys in the app.daybook UserDefaults domain.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain}
}

func (b *defaultsBackend) run(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (b *defaultsBackend) Get(key string) (string, bool, error) {
	out, err := b.run("read", b.domain, key)
	if err != nil {
		// defaults exits 1 when the domain or key does not exist.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, out)
	}
	return out, true, nil
}

func (b *defaultsBackend) Set(key string, val any) error {
	typ := "-string"
	switch val.(type) {
	case int:
		typ = "-int"
	case float64:
		typ = "-float"
	}
	if out, err := b.run("write", b.domain, key, typ, formatValue(val)); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, out)
	}
	return nil
}

func (b *defaultsBackend) Delete(key string) error {
	if _, ok, err := b.Get(key); err != nil || !ok {
		return err
	}
	if out, err := b.run("delete", b.domain, key); err != nil {
		return fmt.Errorf("defaults delete %s: %w: %s", key, err, out)
	}
	return nil
}
