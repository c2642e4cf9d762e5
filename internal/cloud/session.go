package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/firecloud-go/internal/jsonvalue"
)

const (
	defaultUserAgent = "firecloud-go/0.1"
	contentTypeJSON  = "application/json"

	// maxErrorBody caps how much of an error response is kept as the message.
	maxErrorBody = 64 * 1024

	// copyBufferSize is the read size for response bodies.
	copyBufferSize = 32 * 1024
)

// Connection pool settings for session-owned transports. One connection per
// host keeps a session to a single persistent socket.
const (
	maxConnsPerSession  = 1
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	keepAlive           = 30 * time.Second
)

// Traffic is the payload byte count a session has moved.
type Traffic struct {
	Sent     int64
	Received int64
}

// Session is one authenticated connection plus its request execution logic.
// All requests on a Session are serialized by its mutex, which is held from
// sending the request until the response body is fully consumed.
type Session struct {
	mu          sync.Mutex
	baseURL     string
	project     string
	httpClient  *http.Client
	tokens      oauth2.TokenSource // nil: unauthenticated
	contentType string
	userAgent   string
	limiter     *BandwidthLimiter
	logger      *slog.Logger

	sent     atomic.Int64
	received atomic.Int64

	errMu   sync.Mutex
	lastErr error
}

// sessionConfig carries what a resource client decides about its session.
type sessionConfig struct {
	baseURL string
	project string
	tokens  oauth2.TokenSource
	opts    Options
}

func newSession(cfg sessionConfig) *Session {
	opts := cfg.opts.withDefaults()

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newConnClient(opts)
	}

	return &Session{
		baseURL:     strings.TrimRight(cfg.baseURL, "/"),
		project:     cfg.project,
		httpClient:  httpClient,
		tokens:      cfg.tokens,
		contentType: contentTypeJSON,
		userAgent:   opts.UserAgent,
		limiter:     opts.Limiter,
		logger:      opts.Logger,
	}
}

// newConnClient returns an HTTP client with its own transport, so the
// session it belongs to does not share sockets with any other session.
func newConnClient(opts Options) *http.Client {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: keepAlive}

	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   !opts.ForceHTTP11,
		MaxConnsPerHost:     maxConnsPerSession,
		MaxIdleConnsPerHost: maxConnsPerSession,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
	}

	if opts.ForceHTTP11 {
		// A non-nil empty map disables the HTTP/2 upgrade.
		t.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	return &http.Client{Transport: t}
}

// Project returns the project or database id the session is bound to.
func (s *Session) Project() string { return s.project }

// Traffic returns the bytes sent and received so far.
func (s *Session) Traffic() Traffic {
	return Traffic{Sent: s.sent.Load(), Received: s.received.Load()}
}

// LastError returns the outcome of the most recent operation, or nil.
func (s *Session) LastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.lastErr
}

// ClearError forgets the last recorded outcome.
func (s *Session) ClearError() {
	s.setLastError(nil)
}

func (s *Session) setLastError(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

// Execute issues one request and returns the status code and response body.
// A nil or empty body is sent as no request entity. Non-2xx statuses return
// an *APIError alongside the status code.
func (s *Session) Execute(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	c := call{method: method, url: s.resolve(path), size: -1}
	if len(body) > 0 {
		c.body = bytes.NewReader(body)
		c.size = int64(len(body))
	}

	var buf bytes.Buffer

	status, err := s.do(ctx, c, &buf)

	return status, buf.Bytes(), err
}

// ExecuteString is Execute with string payloads.
func (s *Session) ExecuteString(ctx context.Context, method, path, body string) (string, error) {
	_, resp, err := s.Execute(ctx, method, path, []byte(body))

	return string(resp), err
}

// ExecuteJSON sends req as compact JSON and parses the response. A null or
// empty-object req is sent as no body; an empty response yields an empty
// object.
func (s *Session) ExecuteJSON(ctx context.Context, method, path string, req jsonvalue.Value) (jsonvalue.Value, error) {
	body, err := encodeRequest(req)
	if err != nil {
		s.setLastError(err)
		return jsonvalue.Value{}, err
	}

	_, resp, err := s.Execute(ctx, method, path, body)
	if err != nil {
		return jsonvalue.Value{}, err
	}

	v, err := decodeResponse(resp)
	if err != nil {
		s.setLastError(err)
		return jsonvalue.Value{}, err
	}

	return v, nil
}

// GetJSON fetches path and parses the body as JSON.
func (s *Session) GetJSON(ctx context.Context, path string) (jsonvalue.Value, error) {
	return s.ExecuteJSON(ctx, http.MethodGet, path, jsonvalue.Null())
}

// GetString fetches path and returns the raw body.
func (s *Session) GetString(ctx context.Context, path string) (string, error) {
	return s.ExecuteString(ctx, http.MethodGet, path, "")
}

func encodeRequest(req jsonvalue.Value) ([]byte, error) {
	if req.IsNull() {
		return nil, nil
	}

	if obj, ok := req.AsObject(); ok && obj.Len() == 0 {
		return nil, nil
	}

	body, err := jsonvalue.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("cloud: encoding request body: %w", err)
	}

	return body, nil
}

func decodeResponse(body []byte) (jsonvalue.Value, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return jsonvalue.ObjectValue(nil), nil
	}

	v, err := jsonvalue.Parse(body)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return v, nil
}

// resolve turns a path into an absolute URL. Absolute URLs pass through.
func (s *Session) resolve(path string) string {
	if strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return path
	}

	return s.baseURL + path
}

// call describes one request.
type call struct {
	method      string
	url         string
	body        io.Reader // nil: no request entity
	size        int64     // -1: unknown
	contentType string    // empty: session default
	header      http.Header
	upload      ProgressFunc
	download    ProgressFunc
	limit       bool // apply the bandwidth limiter
}

// do runs c under the session lock and records the outcome.
func (s *Session) do(ctx context.Context, c call, dst io.Writer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, err := s.roundTrip(ctx, s.httpClient, c, dst)
	s.setLastError(err)

	return status, err
}

// roundTrip sends c, maps the status and copies a successful body to dst.
// The caller decides which lock, if any, is held.
func (s *Session) roundTrip(ctx context.Context, client *http.Client, c call, dst io.Writer) (int, error) {
	reqID := uuid.NewString()

	req, err := s.newRequest(ctx, c)
	if err != nil {
		return 0, err
	}

	logPath := req.URL.Path

	s.logger.Debug("sending request",
		slog.String("request_id", reqID),
		slog.String("method", c.method),
		slog.String("path", logPath),
	)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %s %s canceled: %w", ErrTransport, c.method, logPath, ctx.Err())
		}

		s.logger.Warn("request failed",
			slog.String("request_id", reqID),
			slog.String("method", c.method),
			slog.String("path", logPath),
			slog.String("error", redact(err, req).Error()),
		)

		return 0, fmt.Errorf("%w: %s %s: %w", ErrTransport, c.method, logPath, redact(err, req))
	}
	defer resp.Body.Close()

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best-effort read for error message
		s.received.Add(int64(len(msg)))

		s.logger.Warn("request returned error status",
			slog.String("request_id", reqID),
			slog.String("method", c.method),
			slog.String("path", logPath),
			slog.Int("status", resp.StatusCode),
		)

		return resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			Status:     statusText(resp.StatusCode, resp.Status),
			Message:    strings.TrimSpace(string(msg)),
			Err:        sentinel,
		}
	}

	n, err := s.copyBody(ctx, c, resp, dst)
	if err != nil {
		return resp.StatusCode, err
	}

	s.logger.Debug("request succeeded",
		slog.String("request_id", reqID),
		slog.String("method", c.method),
		slog.String("path", logPath),
		slog.Int("status", resp.StatusCode),
		slog.Int64("bytes", n),
	)

	return resp.StatusCode, nil
}

func (s *Session) newRequest(ctx context.Context, c call) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if c.body != nil {
		mr := &meteredReader{
			ctx:      ctx,
			r:        c.body,
			count:    func(n int64) { s.sent.Add(n) },
			progress: c.upload,
			total:    c.size,
		}
		if c.limit {
			mr.limiter = s.limiter
		}

		body = mr
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("cloud: creating request: %w", err)
	}

	if c.body != nil && c.size >= 0 {
		req.ContentLength = c.size
	}

	if err := s.refreshHeaders(req, c); err != nil {
		return nil, err
	}

	return req, nil
}

// refreshHeaders sets the per-call headers: content type, user agent and,
// for authenticated sessions holding a token, the bearer header.
func (s *Session) refreshHeaders(req *http.Request, c call) error {
	contentType := c.contentType
	if contentType == "" {
		contentType = s.contentType
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", s.userAgent)

	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if s.tokens == nil {
		return nil
	}

	tok, err := s.tokens.Token()
	if err != nil {
		return fmt.Errorf("cloud: obtaining token: %w", err)
	}

	if tok != nil && tok.AccessToken != "" {
		tok.SetAuthHeader(req)
	}

	return nil
}

// copyBody streams a successful response body into dst, counting traffic.
// Read failures are transport failures; write failures belong to dst.
func (s *Session) copyBody(ctx context.Context, c call, resp *http.Response, dst io.Writer) (int64, error) {
	mr := &meteredReader{
		ctx:      ctx,
		r:        resp.Body,
		count:    func(n int64) { s.received.Add(n) },
		progress: c.download,
		total:    resp.ContentLength,
	}
	if c.limit {
		mr.limiter = s.limiter
	}

	buf := make([]byte, copyBufferSize)

	var written int64

	for {
		n, rerr := mr.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("cloud: writing response: %w", werr)
			}

			written += int64(n)
		}

		if errors.Is(rerr, io.EOF) {
			return written, nil
		}

		if rerr != nil {
			if ctx.Err() != nil {
				return written, fmt.Errorf("%w: reading response canceled: %w", ErrTransport, ctx.Err())
			}

			return written, fmt.Errorf("%w: reading response: %w", ErrTransport, rerr)
		}
	}
}

// redact strips the query string (which may carry an auth token) from URL
// errors before they are logged or returned.
func redact(err error, req *http.Request) error {
	if req.URL.RawQuery == "" {
		return err
	}

	return errors.New(strings.ReplaceAll(err.Error(), "?"+req.URL.RawQuery, ""))
}
