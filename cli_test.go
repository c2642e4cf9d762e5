package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/firecloud-go/internal/cloudtest"
	"github.com/tonimelisma/firecloud-go/internal/config"
)

const (
	testAPIKey   = "test-api-key"
	testProject  = "demo-project"
	testEmail    = "ada@example.com"
	testPassword = "hunter22"
	testBucket   = testProject + ".appspot.com"
)

// syncBuffer is a bytes.Buffer safe for a command writing from one
// goroutine while the test reads from another.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

// cliEnv is a fake backend plus a config file pointing every endpoint at it.
type cliEnv struct {
	fake       *cloudtest.Server
	userID     string
	configPath string
}

// newCLIEnv starts a fake with one user and writes a config for it. The
// password comes from the environment, as it does in real use.
func newCLIEnv(t *testing.T, extraTOML string) *cliEnv {
	t.Helper()

	fake := cloudtest.New(t, testAPIKey)
	uid := fake.AddUser(testEmail, testPassword)

	content := fmt.Sprintf(`
api_key = %q
project = %q
email = %q

[endpoints]
database_url = %q
store_url = %q
storage_url = %q
identity_url = %q
token_url = %q
%s`, testAPIKey, testProject, testEmail, fake.URL, fake.URL, fake.URL, fake.URL, fake.URL, extraTOML)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	for _, name := range []string{config.EnvConfig, config.EnvAPIKey, config.EnvProject, config.EnvEmail} {
		t.Setenv(name, "")
	}

	t.Setenv(config.EnvPassword, testPassword)

	// Saved logins land under a per-test data directory.
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	return &cliEnv{fake: fake, userID: uid, configPath: path}
}

// run executes the CLI with args and returns what it wrote to stdout and
// stderr.
func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr syncBuffer

	err := e.runTo(context.Background(), &stdout, &stderr, args...)

	return stdout.String(), stderr.String(), err
}

func (e *cliEnv) runTo(ctx context.Context, stdout, stderr *syncBuffer, args ...string) error {
	cmd := newRootCmd()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))

	return cmd.ExecuteContext(ctx)
}
