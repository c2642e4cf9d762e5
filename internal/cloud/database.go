package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tonimelisma/firecloud-go/internal/jsonvalue"
)

const contentTypeEventStream = "text/event-stream"

// Depth selects how much of a subtree a read returns.
type Depth int

const (
	// Deep returns the full subtree.
	Deep Depth = iota
	// Shallow returns only the immediate keys, each mapped to true.
	Shallow
)

// Database is a client for the JSON tree store. The tree store takes the
// access token as an auth= query parameter rather than a bearer header.
type Database struct {
	session  *Session
	identity *Identity
	opts     Options
	logger   *slog.Logger
}

// NewDatabase creates a tree-store client for project. id supplies the
// access token; a nil id makes unauthenticated requests.
func NewDatabase(id *Identity, project string, opts Options) *Database {
	opts = opts.withDefaults()

	return &Database{
		session: newSession(sessionConfig{
			baseURL: opts.Endpoints.databaseURL(project),
			project: project,
			opts:    opts,
		}),
		identity: id,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// Session exposes the underlying session for traffic and error inspection.
func (d *Database) Session() *Session { return d.session }

// Get reads the value at path. A missing node reads as null.
func (d *Database) Get(ctx context.Context, path string, depth Depth) (jsonvalue.Value, error) {
	var buf bytes.Buffer

	if err := d.GetTo(ctx, path, depth, &buf); err != nil {
		return jsonvalue.Value{}, err
	}

	if len(bytes.TrimSpace(buf.Bytes())) == 0 {
		return jsonvalue.Null(), nil
	}

	v, err := jsonvalue.Parse(buf.Bytes())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDecode, err)
		d.session.setLastError(err)

		return jsonvalue.Value{}, err
	}

	return v, nil
}

// GetTo streams the raw JSON at path into w.
func (d *Database) GetTo(ctx context.Context, path string, depth Depth, w io.Writer) error {
	c := call{method: http.MethodGet, url: d.session.resolve(d.nodeURL(path, depth)), size: -1}

	if _, err := d.session.do(ctx, c, w); err != nil {
		return fmt.Errorf("cloud: reading %q: %w", path, err)
	}

	return nil
}

// Create stores value as a new child of path. With an empty id the server
// assigns a push id, which is returned; otherwise value is written to
// path/id and id is returned.
func (d *Database) Create(ctx context.Context, path string, value jsonvalue.Value, id string) (string, error) {
	if id != "" {
		if err := d.write(ctx, http.MethodPut, joinPath(path, id), value); err != nil {
			return "", fmt.Errorf("cloud: creating %q: %w", joinPath(path, id), err)
		}

		return id, nil
	}

	resp, err := d.execute(ctx, http.MethodPost, path, value)
	if err != nil {
		return "", fmt.Errorf("cloud: creating under %q: %w", path, err)
	}

	obj, ok := resp.AsObject()
	if !ok {
		return "", fmt.Errorf("cloud: creating under %q: %w: response is %s, want object", path, ErrDecode, resp.Kind())
	}

	name, err := stringField(obj, "name")
	if err != nil {
		return "", fmt.Errorf("cloud: creating under %q: %w", path, err)
	}

	d.logger.Debug("created node", slog.String("path", path), slog.String("id", name))

	return name, nil
}

// Patch merges the members of value into the node at path.
func (d *Database) Patch(ctx context.Context, path string, value jsonvalue.Value) error {
	if err := d.write(ctx, http.MethodPatch, path, value); err != nil {
		return fmt.Errorf("cloud: patching %q: %w", path, err)
	}

	return nil
}

// Set replaces the node at path with value.
func (d *Database) Set(ctx context.Context, path string, value jsonvalue.Value) error {
	if err := d.write(ctx, http.MethodPut, path, value); err != nil {
		return fmt.Errorf("cloud: setting %q: %w", path, err)
	}

	return nil
}

// Remove deletes the node at path.
func (d *Database) Remove(ctx context.Context, path string) error {
	if _, _, err := d.session.Execute(ctx, http.MethodDelete, d.nodeURL(path, Deep), nil); err != nil {
		return fmt.Errorf("cloud: removing %q: %w", path, err)
	}

	return nil
}

// Listen subscribes to changes at path and hands each event payload to sink
// until the server closes the stream (nil) or ctx is canceled. When lock is
// non-nil it is held around every sink call so the sink can share state
// with other goroutines.
//
// The stream runs on its own connection and does not take the session
// lock, so other calls on d proceed while it is open.
func (d *Database) Listen(ctx context.Context, path string, sink FrameSink, lock sync.Locker) error {
	client, release := d.streamClient()
	defer release()

	c := call{
		method: http.MethodGet,
		url:    d.session.resolve(d.nodeURL(path, Deep)),
		size:   -1,
		header: http.Header{"Accept": []string{contentTypeEventStream}},
	}

	fw := &frameWriter{sink: sink, lock: lock}

	d.logger.Info("listening", slog.String("path", path))

	_, err := d.session.roundTrip(ctx, client, c, fw)
	d.session.setLastError(err)

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("cloud: listening on %q: %w", path, ctx.Err())
		}

		return fmt.Errorf("cloud: listening on %q: %w", path, err)
	}

	d.logger.Info("stream closed by server",
		slog.String("path", path),
		slog.Int("frames", fw.frames),
	)

	return nil
}

// streamClient returns a client without an overall timeout for a
// long-lived response. An injected client lends its transport; otherwise a
// fresh connection is opened and closed when release is called.
func (d *Database) streamClient() (*http.Client, func()) {
	if d.opts.HTTPClient != nil {
		return &http.Client{
			Transport:     d.opts.HTTPClient.Transport,
			CheckRedirect: d.opts.HTTPClient.CheckRedirect,
			Jar:           d.opts.HTTPClient.Jar,
		}, func() {}
	}

	client := newConnClient(d.opts)

	return client, client.CloseIdleConnections
}

func (d *Database) write(ctx context.Context, method, path string, value jsonvalue.Value) error {
	_, err := d.execute(ctx, method, path, value)

	return err
}

// execute sends value as the body. Unlike Session.ExecuteJSON a null value
// is still sent, since writing null is meaningful to the tree store.
func (d *Database) execute(ctx context.Context, method, path string, value jsonvalue.Value) (jsonvalue.Value, error) {
	body, err := jsonvalue.Marshal(value)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("cloud: encoding request body: %w", err)
	}

	_, resp, err := d.session.Execute(ctx, method, d.nodeURL(path, Deep), body)
	if err != nil {
		return jsonvalue.Value{}, err
	}

	v, err := decodeResponse(resp)
	if err != nil {
		d.session.setLastError(err)
		return jsonvalue.Value{}, err
	}

	return v, nil
}

// nodeURL builds /<path>.json with the shallow flag and auth token appended.
func (d *Database) nodeURL(path string, depth Depth) string {
	var b strings.Builder

	b.WriteString("/")
	b.WriteString(escapeSegments(path))
	b.WriteString(".json")

	sep := "?"

	if depth == Shallow {
		b.WriteString("?shallow=true")
		sep = "&"
	}

	if tok := d.accessToken(); tok != "" {
		b.WriteString(sep)
		b.WriteString("auth=")
		b.WriteString(url.QueryEscape(tok))
	}

	return b.String()
}

func (d *Database) accessToken() string {
	if d.identity == nil {
		return ""
	}

	return d.identity.AccessToken()
}

// escapeSegments path-escapes each segment of a slash-separated path.
func escapeSegments(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}

	return strings.Join(parts, "/")
}

func joinPath(base, child string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return child
	}

	return base + "/" + child
}
