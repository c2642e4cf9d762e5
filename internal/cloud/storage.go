package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

const (
	contentTypeOctetStream = "application/octet-stream"
	defaultBucketSuffix    = ".appspot.com"
)

// ObjectDetails is the metadata of one stored object.
type ObjectDetails struct {
	Name        string    `json:"name"`
	Bucket      string    `json:"bucket"`
	Size        int64     `json:"size,string"`
	ContentType string    `json:"contentType"`
	MediaLink   string    `json:"mediaLink"`
	MD5Hash     string    `json:"md5Hash"`
	Generation  string    `json:"generation"`
	Updated     time.Time `json:"updated"`
}

// Storage is a client for the blob store. All objects live in one bucket,
// by default <project>.appspot.com.
type Storage struct {
	session *Session
	bucket  string
	logger  *slog.Logger
}

// NewStorage creates a blob-store client for project. id supplies the
// bearer token; a nil id makes unauthenticated requests.
func NewStorage(id *Identity, project string, opts Options) *Storage {
	opts = opts.withDefaults()

	cfg := sessionConfig{
		baseURL: opts.Endpoints.StorageURL,
		project: project,
		opts:    opts,
	}
	if id != nil {
		cfg.tokens = id
	}

	bucket := opts.Bucket
	if bucket == "" {
		bucket = project + defaultBucketSuffix
	}

	return &Storage{
		session: newSession(cfg),
		bucket:  bucket,
		logger:  opts.Logger,
	}
}

// Session exposes the underlying session for traffic and error inspection.
func (s *Storage) Session() *Session { return s.session }

// Bucket returns the bucket objects are stored in.
func (s *Storage) Bucket() string { return s.bucket }

// GetDetails fetches the metadata of the named object.
func (s *Storage) GetDetails(ctx context.Context, name string) (*ObjectDetails, error) {
	_, body, err := s.session.Execute(ctx, http.MethodGet, s.objectPath(name), nil)
	if err != nil {
		return nil, fmt.Errorf("cloud: stat %q: %w", name, err)
	}

	details, err := decodeDetails(body)
	if err != nil {
		s.session.setLastError(err)
		return nil, fmt.Errorf("cloud: stat %q: %w", name, err)
	}

	return details, nil
}

// GetObject downloads the named object into w and returns the number of
// bytes written. progress, if non-nil, is called as data arrives.
func (s *Storage) GetObject(ctx context.Context, name string, w io.Writer, progress ProgressFunc) (int64, error) {
	details, err := s.GetDetails(ctx, name)
	if err != nil {
		return 0, err
	}

	if err := validateMediaLink(details.MediaLink, s.session.baseURL); err != nil {
		s.session.setLastError(err)
		return 0, fmt.Errorf("cloud: downloading %q: %w", name, err)
	}

	s.logger.Debug("downloading object",
		slog.String("name", name),
		slog.Int64("size", details.Size),
	)

	cw := &countingWriter{w: w}

	c := call{
		method:   http.MethodGet,
		url:      details.MediaLink,
		size:     -1,
		download: progress,
		limit:    true,
	}

	if _, err := s.session.do(ctx, c, cw); err != nil {
		return cw.n, fmt.Errorf("cloud: downloading %q: %w", name, err)
	}

	return cw.n, nil
}

// CreateObject uploads size bytes from r as the named object. A negative
// size streams without a Content-Length.
func (s *Storage) CreateObject(ctx context.Context, name string, r io.Reader, size int64, progress ProgressFunc) (*ObjectDetails, error) {
	u := "/upload/storage/v1/b/" + url.PathEscape(s.bucket) +
		"/o?uploadType=media&name=" + url.QueryEscape(normalizeName(name))

	c := call{
		method:      http.MethodPost,
		url:         s.session.resolve(u),
		body:        r,
		size:        size,
		contentType: contentTypeOctetStream,
		upload:      progress,
		limit:       true,
	}

	s.logger.Debug("uploading object",
		slog.String("name", name),
		slog.Int64("size", size),
	)

	var buf bytes.Buffer

	if _, err := s.session.do(ctx, c, &buf); err != nil {
		return nil, fmt.Errorf("cloud: uploading %q: %w", name, err)
	}

	details, err := decodeDetails(buf.Bytes())
	if err != nil {
		s.session.setLastError(err)
		return nil, fmt.Errorf("cloud: uploading %q: %w", name, err)
	}

	return details, nil
}

// RemoveObject deletes the named object.
func (s *Storage) RemoveObject(ctx context.Context, name string) error {
	if _, _, err := s.session.Execute(ctx, http.MethodDelete, s.objectPath(name), nil); err != nil {
		return fmt.Errorf("cloud: removing %q: %w", name, err)
	}

	return nil
}

// objectPath is the metadata URL path of an object. The name is one path
// segment, so its slashes are escaped.
func (s *Storage) objectPath(name string) string {
	return "/storage/v1/b/" + url.PathEscape(s.bucket) + "/o/" + url.PathEscape(normalizeName(name))
}

// normalizeName converts an object name to NFC so that visually identical
// names map to the same object.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}

func decodeDetails(body []byte) (*ObjectDetails, error) {
	var d ObjectDetails

	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("%w: object metadata: %w", ErrDecode, err)
	}

	return &d, nil
}

// validateMediaLink rejects download URLs that are not absolute http(s) or
// that point anywhere but the storage host. The download carries the bearer
// token, so it must never leave base.
func validateMediaLink(link, base string) error {
	if link == "" {
		return fmt.Errorf("%w: object has no mediaLink", ErrDecode)
	}

	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("%w: mediaLink: %w", ErrDecode, err)
	}

	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: mediaLink %q is not an absolute http(s) URL", ErrDecode, link)
	}

	b, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("%w: storage URL: %w", ErrDecode, err)
	}

	if u.Scheme != b.Scheme || !strings.EqualFold(u.Host, b.Host) {
		return fmt.Errorf("%w: mediaLink host %q does not match storage host %q", ErrDecode, u.Host, b.Host)
	}

	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}
