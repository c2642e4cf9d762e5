package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "firecloud"

// Config file name.
const configFileName = "config.toml"

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/firecloud).
// On macOS, uses ~/Library/Application Support/firecloud.
// Other platforms fall back to ~/.config/firecloud.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".config", appName)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultConfigPath returns the full path to the default config file, used
// when neither FIRECLOUD_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultDataDir returns the platform-specific directory for saved logins.
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/firecloud).
// On macOS config and data share ~/Library/Application Support/firecloud.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}

		return filepath.Join(home, ".local", "share", appName)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// TokenPath returns where the saved login for email in project lives, or ""
// when no data directory can be determined. Path separators in either part
// are replaced so the name stays one file.
func TokenPath(project, email string) string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	clean := strings.NewReplacer("/", "_", "\\", "_", string(filepath.Separator), "_")

	return filepath.Join(dir, "token_"+clean.Replace(project)+"_"+clean.Replace(email)+".json")
}
