package config

import (
	"fmt"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are listed as set or unset, never by value.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		val := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret {
			if val == "" {
				val = "(unset)"
			} else {
				val = "(set)"
			}
		}
		result = append(result, KeyInfo{Key: s.key, EnvVar: s.env, Value: val})
	}
	return result
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s, err := lookupKey(key)
	if err != nil {
		return err
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return b.Set(key, v)
}

// UnsetKey removes a config key from the platform backend so its default
// applies again.
func UnsetKey(key string) error {
	return unsetKey(newPlatformBackend(), key)
}

func unsetKey(b ConfigBackend, key string) error {
	if _, err := lookupKey(key); err != nil {
		return err
	}
	return b.Delete(key)
}

func lookupKey(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return s, fmt.Errorf("cannot set secret %q via config; use environment variable %s or the keychain", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
