//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.json")
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

// fileBackend keeps keys in a flat JSON object. Numbers are stored as JSON
// numbers and durations as strings like "90s".
type fileBackend struct {
	path string
	data map[string]any
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: map[string]any{}}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", path, err)
	default:
		if err := json.Unmarshal(raw, &b.data); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", path, err)
			b.data = map[string]any{}
		}
	}
	return b
}

func (b *fileBackend) Get(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok || v == nil {
		return "", false, nil
	}
	switch x := v.(type) {
	case string:
		return x, true, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true, nil
	default:
		return "", true, fmt.Errorf("config key %s has unsupported JSON type %T", key, v)
	}
}

func (b *fileBackend) Set(key string, val any) error {
	if d, ok := val.(time.Duration); ok {
		val = d.String()
	}
	b.data[key] = val
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.data[key]; !ok {
		return nil
	}
	delete(b.data, key)
	return b.save()
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(b.path, out, 0o600)
}
