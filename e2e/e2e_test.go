//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/firecloud-go/testutil"
)

var binaryPath string

func TestMain(m *testing.M) {
	moduleRoot := testutil.FindModuleRoot("..")

	testutil.LoadDotEnv(filepath.Join(moduleRoot, ".env"))
	testutil.RequireEnv("FIRECLOUD_API_KEY", "FIRECLOUD_PROJECT", "FIRECLOUD_EMAIL", "FIRECLOUD_PASSWORD")
	testutil.ValidateAllowlist("FIRECLOUD_PROJECT")

	cleanup := setupIsolation()

	tmpDir, err := os.MkdirTemp("", "firecloud-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "firecloud")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	cleanup()
	os.Exit(code)
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := runCLIErr(args...)
	if err != nil {
		t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

func runCLIErr(args ...string) (string, string, error) {
	return runCLIWithEnv(nil, args...)
}

// runCLIWithEnv runs the binary with extra KEY=VALUE entries appended to the
// inherited environment; later entries win.
func runCLIWithEnv(env []string, args ...string) (string, string, error) {
	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

func TestE2E_Whoami(t *testing.T) {
	stdout, _ := runCLI(t, "--json", "whoami", "--refresh")

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.NotEmpty(t, out["user_id"])
	assert.Equal(t, true, out["logged_in"])
}

func TestE2E_SavedLogin(t *testing.T) {
	t.Cleanup(func() {
		_, _, _ = runCLIErr("logout") //nolint:errcheck // best-effort cleanup
	})

	_, stderr := runCLI(t, "login")
	assert.Contains(t, stderr, "Logged in as")

	noPassword := []string{"FIRECLOUD_PASSWORD="}

	stdout, stderr, err := runCLIWithEnv(noPassword, "--json", "whoami")
	require.NoError(t, err, "stderr: %s", stderr)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.NotEmpty(t, out["user_id"])

	runCLI(t, "logout")

	_, _, err = runCLIWithEnv(noPassword, "whoami")
	require.Error(t, err)
}

func TestE2E_DatabaseRoundTrip(t *testing.T) {
	root := "firecloud-e2e/" + uuid.NewString()

	t.Cleanup(func() {
		_, _, _ = runCLIErr("db", "rm", root) //nolint:errcheck // best-effort cleanup
	})

	runCLI(t, "db", "set", root+"/profile", `{"name":"e2e","n":1}`)

	stdout, _ := runCLI(t, "db", "get", root+"/profile")
	assert.JSONEq(t, `{"name":"e2e","n":1}`, stdout)

	runCLI(t, "db", "patch", root+"/profile", `{"n":2}`)

	stdout, _ = runCLI(t, "db", "get", root+"/profile/n")
	assert.Equal(t, "2", strings.TrimSpace(stdout))

	stdout, _ = runCLI(t, "db", "push", root+"/log", `"entry"`)
	key := strings.TrimSpace(stdout)
	require.NotEmpty(t, key)

	stdout, _ = runCLI(t, "db", "get", "--shallow", root+"/log")
	assert.Contains(t, stdout, key)

	runCLI(t, "db", "rm", root)

	stdout, _ = runCLI(t, "db", "get", root)
	assert.Equal(t, "null", strings.TrimSpace(stdout))
}

func TestE2E_DocumentRoundTrip(t *testing.T) {
	collection := "firecloud-e2e"

	stdout, _ := runCLI(t, "doc", "create", collection, `{"title":"e2e","tags":["a","b"]}`, "--generate-id")
	id := strings.TrimSpace(stdout)
	require.NotEmpty(t, id)

	docPath := collection + "/" + id

	t.Cleanup(func() {
		_, _, _ = runCLIErr("doc", "rm", docPath) //nolint:errcheck // best-effort cleanup
	})

	stdout, _ = runCLI(t, "doc", "get", docPath)
	assert.JSONEq(t, `{"title":"e2e","tags":["a","b"]}`, stdout)

	stdout, _ = runCLI(t, "doc", "patch", docPath, `{"title":"patched"}`, "--update-mask", "title")
	assert.JSONEq(t, `{"title":"patched","tags":["a","b"]}`, stdout)

	runCLI(t, "doc", "rm", docPath)

	_, _, err := runCLIErr("doc", "get", docPath)
	assert.Error(t, err)
}

func TestE2E_StorageRoundTrip(t *testing.T) {
	prefix := "firecloud-e2e/" + uuid.NewString() + "/"
	content := []byte("Hello from firecloud E2E test!\n")

	local := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(local, content, 0o600))

	name := prefix + "hello.txt"

	t.Cleanup(func() {
		_, _, _ = runCLIErr("storage", "rm", name) //nolint:errcheck // best-effort cleanup
	})

	_, stderr := runCLI(t, "storage", "put", "--prefix", prefix, local)
	assert.Contains(t, stderr, "Uploaded")

	stdout, _ := runCLI(t, "--json", "storage", "stat", name)

	var stat map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &stat))
	assert.EqualValues(t, len(content), stat["size"])

	out := t.TempDir()
	runCLI(t, "storage", "get", "--out", out, name)

	got, err := os.ReadFile(filepath.Join(out, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	runCLI(t, "storage", "rm", name)

	_, _, err = runCLIErr("storage", "stat", name)
	assert.Error(t, err)
}
