// Package xdg resolves XDG Base Directory paths for nlcube.
// Configuration lives under XDG_CONFIG_HOME and subject stores under
// XDG_DATA_HOME, with the usual fallbacks below the home directory.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "nlcube"

// ConfigDir returns the XDG config directory for nlcube.
// The directory is created with private permissions (0700) if missing.
// It falls back to ~/.config/nlcube when XDG_CONFIG_HOME is unset.
func ConfigDir() (string, error) {
	return resolve("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for nlcube, the default parent of
// every subject's storage. It falls back to ~/.local/share/nlcube.
func DataDir() (string, error) {
	return resolve("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func resolve(env, fallback string) (string, error) {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, fallback)
	}
	dir := filepath.Join(base, appName)
	if err := os.MkdirAll(dir, 0o700); err != nil { // private dir
		return "", err
	}
	return dir, nil
}
