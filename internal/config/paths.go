package config

import (
	"os"
	"path/filepath"
)

// DefaultDir returns the per-user config directory, creating it if it does
// not already exist.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".beach")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// DefaultConfigPath returns ~/.beach/config.yaml, the file Load and Watch
// use when no explicit path is given.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
