// Package testutil provides shared environment helpers for E2E tests that
// talk to a live project. It depends only on stdlib so the E2E package,
// which drives the built binary, stays free of internal imports.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AllowedProjectsEnv lists the projects E2E tests may write to,
// comma-separated. Tests create and delete data, so they refuse to run
// against anything not listed.
const AllowedProjectsEnv = "FIRECLOUD_ALLOWED_TEST_PROJECTS"

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// RequireEnv crashes the process unless every named variable is set.
func RequireEnv(names ...string) {
	var missing []string

	for _, n := range names {
		if os.Getenv(n) == "" {
			missing = append(missing, n)
		}
	}

	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "FATAL: required environment not set: %s\n", strings.Join(missing, ", "))
		fmt.Fprintln(os.Stderr, "Set them in .env or as environment variables.")
		os.Exit(1)
	}
}

// ValidateAllowlist crashes the process if AllowedProjectsEnv is not set
// or if the project named by projectEnvVar is not in it.
func ValidateAllowlist(projectEnvVar string) {
	allowlist := os.Getenv(AllowedProjectsEnv)
	if allowlist == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", AllowedProjectsEnv)
		fmt.Fprintf(os.Stderr, "Example: %s=my-test-project\n", AllowedProjectsEnv)
		os.Exit(1)
	}

	project := os.Getenv(projectEnvVar)
	if project == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", projectEnvVar)
		os.Exit(1)
	}

	if !Allowed(allowlist, project) {
		fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in %s=%q\n",
			projectEnvVar, project, AllowedProjectsEnv, allowlist)
		os.Exit(1)
	}
}

// Allowed reports whether project appears in a comma-separated allowlist.
func Allowed(allowlist, project string) bool {
	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimSpace(a) == project {
			return true
		}
	}

	return false
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
