package cloud

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/firecloud-go/internal/cloudtest"
)

const (
	testAPIKey   = "test-api-key"
	testProject  = "demo-project"
	testEmail    = "ada@example.com"
	testPassword = "correct horse"
)

// testLogger returns an slog.Logger at Debug level that writes to t.Log,
// so request activity appears with -v.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T.Log to io.Writer for slog output.
type testLogWriter struct {
	t *testing.T
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// fakeOptions points every surface at the fake backend.
func fakeOptions(t *testing.T, fake *cloudtest.Server) Options {
	t.Helper()

	return Options{
		HTTPClient: fake.Client(),
		Logger:     testLogger(t),
		Endpoints: Endpoints{
			DatabaseURL: fake.URL,
			StoreURL:    fake.URL,
			StorageURL:  fake.URL,
			IdentityURL: fake.URL,
			TokenURL:    fake.URL,
		},
	}
}

// newFakeService starts a fake with one registered user and returns a
// Service wired to it.
func newFakeService(t *testing.T) (*Service, *cloudtest.Server) {
	t.Helper()

	fake := cloudtest.New(t, testAPIKey)
	fake.AddUser(testEmail, testPassword)

	return NewService(testAPIKey, testProject, fakeOptions(t, fake)), fake
}

// newTestSession returns a session against srv with an optional token.
func newTestSession(t *testing.T, srv *httptest.Server, tokens oauth2.TokenSource) *Session {
	t.Helper()

	return newSession(sessionConfig{
		baseURL: srv.URL,
		project: testProject,
		tokens:  tokens,
		opts:    Options{HTTPClient: srv.Client(), Logger: testLogger(t)},
	})
}

// staticToken is a test TokenSource that returns a fixed token.
type staticToken string

func (s staticToken) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: string(s), TokenType: "Bearer"}, nil
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}
