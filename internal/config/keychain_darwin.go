//go:build darwin

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// errSecItemNotFound is the exit status of security(1) for a missing item.
const errSecItemNotFound = 44

func keychainGet(service, account string) ([]byte, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == errSecItemNotFound {
		return nil, fmt.Errorf("secret %s/%s: %w", service, account, fs.ErrNotExist)
	}
	return out, err
}

func keychainSet(service, account, value string) error {
	if out, err := exec.Command("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value).CombinedOutput(); err != nil {
		return fmt.Errorf("storing %s/%s in keychain: %w: %s", service, account, err, out)
	}
	return nil
}
