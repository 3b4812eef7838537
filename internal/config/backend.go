package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ConfigBackend persists non-secret config keys: UserDefaults on macOS, a
// JSON file elsewhere. Get returns the stored value in string form for the
// key table to parse; Set receives the parsed value so numbers can be stored
// natively.
type ConfigBackend interface {
	Get(key string) (raw string, ok bool, err error)
	Set(key string, val any) error
	Delete(key string) error
}

// formatValue renders a parsed key value the way Get returns it.
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Duration:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// xdgDir resolves an XDG base directory such as XDG_CONFIG_HOME, falling back
// to fallback under the home directory, and joins "daybook" to it.
func xdgDir(env, fallback string) string {
	dir := os.Getenv(env)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "daybook-data"
		}
		dir = filepath.Join(home, fallback)
	}
	return filepath.Join(dir, "daybook")
}
