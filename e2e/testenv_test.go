//go:build e2e

package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// realHomeDir holds the original HOME directory before TestMain overrides
// it. Used by isolation tests to verify env overrides are in effect.
var realHomeDir string

// setupIsolation points HOME, XDG_CONFIG_HOME and XDG_DATA_HOME at a temp
// directory so the binary can never read a developer's real config file or
// saved login; everything it needs comes from FIRECLOUD_* variables. Returns
// a cleanup function.
func setupIsolation() func() {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot determine home dir: %v\n", err)
		os.Exit(1)
	}

	realHomeDir = home

	os.Unsetenv("FIRECLOUD_CONFIG")

	tempRoot, err := os.MkdirTemp("", "firecloud-e2e-isolation-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: creating isolation temp dir: %v\n", err)
		os.Exit(1)
	}

	tempHome := filepath.Join(tempRoot, "home")
	tempConfig := filepath.Join(tempRoot, "config")
	tempData := filepath.Join(tempRoot, "data")

	for _, d := range []string{tempHome, tempConfig, tempData} {
		if mkErr := os.MkdirAll(d, 0o755); mkErr != nil {
			fmt.Fprintf(os.Stderr, "FATAL: creating dir %s: %v\n", d, mkErr)
			os.Exit(1)
		}
	}

	os.Setenv("HOME", tempHome)
	os.Setenv("XDG_CONFIG_HOME", tempConfig)
	os.Setenv("XDG_DATA_HOME", tempData)

	verifyIsolation(tempRoot)

	fmt.Fprintf(os.Stderr, "E2E isolation: HOME=%s XDG_CONFIG_HOME=%s\n", tempHome, tempConfig)

	return func() {
		os.RemoveAll(tempRoot)
	}
}

// verifyIsolation hard-crashes the process if a production config could
// leak into test execution. Runs before m.Run() so no tests execute if
// isolation is broken.
func verifyIsolation(tempRoot string) {
	crash := func(msg string) {
		fmt.Fprintf(os.Stderr, "FATAL: isolation check failed: %s\n", msg)
		os.Exit(1)
	}

	if os.Getenv("FIRECLOUD_CONFIG") != "" {
		crash("FIRECLOUD_CONFIG is set, would leak a production config into tests")
	}

	for _, v := range []string{"HOME", "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
		if val := os.Getenv(v); val == "" || !strings.HasPrefix(val, tempRoot) {
			crash(v + " not overridden to temp dir")
		}
	}

	if homeDir, _ := os.UserHomeDir(); !strings.HasPrefix(homeDir, tempRoot) {
		crash("UserHomeDir() returns " + homeDir + " (not under temp)")
	}
}

func TestIsolation_HomeOverridden(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.NotEqual(t, realHomeDir, home, "HOME should be overridden to temp dir")
}

func TestIsolation_NoConfigFile(t *testing.T) {
	xdg := os.Getenv("XDG_CONFIG_HOME")
	require.NotEmpty(t, xdg)

	_, err := os.Stat(filepath.Join(xdg, "firecloud", "config.toml"))
	assert.True(t, os.IsNotExist(err), "isolated config dir must start empty")
}

// TestIsolation_BinaryIgnoresRealHome runs the binary with debug logging
// and checks the real home never shows up in the resolved config path.
func TestIsolation_BinaryIgnoresRealHome(t *testing.T) {
	_, stderr := runCLI(t, "-v", "db", "get", "--shallow", "firecloud-e2e")

	assert.Contains(t, stderr, "config resolved")
	assert.NotContains(t, stderr, realHomeDir)
}
