// Package cloudtest runs an in-process fake of the identity, tree-store,
// document-store and blob-store HTTP APIs. Every surface is served from one
// httptest server, so a test points all endpoints at Server.URL.
//
// The fake keeps just enough state to round-trip what the clients send. It
// does not model security rules, indexes or quotas.
package cloudtest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
)

// Request is one request as received by the fake.
type Request struct {
	Method   string
	Path     string // escaped form
	RawQuery string
	Header   http.Header
	Body     []byte
}

// Server is the fake backend.
type Server struct {
	URL    string
	APIKey string

	srv *httptest.Server

	mu       sync.Mutex
	users    map[string]*user  // email
	tokens   map[string]string // access token -> user id
	refresh  map[string]string // refresh token -> user id
	tree     any
	docs     map[string]*document
	blobs    map[string]*blob
	requests []Request
	faults   []int
	streams  map[chan []byte][]string // watched path segments
	done     chan struct{}
	doneOnce sync.Once

	now func() time.Time
}

type user struct {
	id       string
	password string
}

// New starts a fake accepting apiKey and stops it when the test ends.
func New(t testing.TB, apiKey string) *Server {
	t.Helper()

	s := &Server{
		APIKey:  apiKey,
		users:   make(map[string]*user),
		tokens:  make(map[string]string),
		refresh: make(map[string]string),
		docs:    make(map[string]*document),
		blobs:   make(map[string]*blob),
		streams: make(map[chan []byte][]string),
		done:    make(chan struct{}),
		now:     time.Now,
	}

	s.srv = httptest.NewServer(s.router())
	s.URL = s.srv.URL

	t.Cleanup(func() {
		s.CloseStreams()
		s.srv.Close()
	})

	return s
}

// Client returns an HTTP client for the fake.
func (s *Server) Client() *http.Client { return s.srv.Client() }

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.UseEncodedPath()
	r.Use(s.record)

	r.HandleFunc(loginPath, s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc(refreshPath, s.handleRefresh).Methods(http.MethodPost)

	r.PathPrefix("/v1/projects/{project}/databases/{database}/documents").HandlerFunc(s.handleDocuments)

	r.HandleFunc("/storage/v1/b/{bucket}/o/{object}", s.handleObjectMeta).
		Methods(http.MethodGet, http.MethodDelete)
	r.HandleFunc("/upload/storage/v1/b/{bucket}/o", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc(downloadPrefix+"{bucket}/o/{object}", s.handleDownload).Methods(http.MethodGet)

	r.MatcherFunc(isTreePath).HandlerFunc(s.handleTree)

	return r
}

// AddUser registers an account that can log in and returns its user id.
func (s *Server) AddUser(email, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ulid.Make().String()
	s.users[email] = &user{id: id, password: password}

	return id
}

// FailNext makes the next len(statuses) requests fail with the given
// statuses, in order, before reaching any handler.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	s.faults = append(s.faults, statuses...)
	s.mu.Unlock()
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Request(nil), s.requests...)
}

// LastRequest returns the most recent request. It panics if there is none.
func (s *Server) LastRequest() Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.requests[len(s.requests)-1]
}

// CloseStreams ends every open event stream as if the server hung up.
func (s *Server) CloseStreams() {
	s.doneOnce.Do(func() { close(s.done) })
}

// record logs the request and serves any pending injected fault.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // a short body is recorded as is
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:   r.Method,
			Path:     r.URL.EscapedPath(),
			RawQuery: r.URL.RawQuery,
			Header:   r.Header.Clone(),
			Body:     body,
		})

		fault := 0
		if len(s.faults) > 0 {
			fault = s.faults[0]
			s.faults = s.faults[1:]
		}
		s.mu.Unlock()

		if fault != 0 {
			writeError(w, fault, "injected failure")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// knownToken reports whether tok was issued by this server. The empty
// token is anonymous access and always allowed.
func (s *Server) knownToken(tok string) bool {
	if tok == "" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tokens[tok]

	return ok
}

func bearer(r *http.Request) string {
	const prefix = "Bearer "

	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}

	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client hangups are not interesting here
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_, _ = w.Write(body) //nolint:errcheck // client hangups are not interesting here
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": status, "message": msg},
	})
}
