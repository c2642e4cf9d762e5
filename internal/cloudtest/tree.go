package cloudtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
)

const contentTypeEventStream = "text/event-stream"

// streamBuffer is how many undelivered events a slow listener may queue
// before further events to it are dropped.
const streamBuffer = 64

func isTreePath(r *http.Request, _ *mux.RouteMatch) bool {
	return strings.HasSuffix(r.URL.EscapedPath(), ".json")
}

// treeSegments splits /a/b%2Fc/d.json into [a b/c d].
func treeSegments(r *http.Request) ([]string, error) {
	p := strings.TrimSuffix(strings.TrimPrefix(r.URL.EscapedPath(), "/"), ".json")
	if p == "" {
		return nil, nil
	}

	parts := strings.Split(p, "/")
	for i, part := range parts {
		seg, err := url.PathUnescape(part)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", part, err)
		}

		parts[i] = seg
	}

	return parts, nil
}

// SetTree replaces the whole tree with the decoded form of raw JSON.
func (s *Server) SetTree(raw string) error {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return fmt.Errorf("cloudtest: tree: %w", err)
	}

	s.mu.Lock()
	s.tree = prune(v)
	s.mu.Unlock()

	return nil
}

// Tree returns the whole tree as JSON.
func (s *Server) Tree() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, _ := json.Marshal(s.tree) //nolint:errcheck // decoded JSON always re-encodes

	return string(b)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	if !s.knownToken(r.URL.Query().Get("auth")) {
		writeError(w, http.StatusUnauthorized, "Permission denied")
		return
	}

	segs, err := treeSegments(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		if strings.Contains(r.Header.Get("Accept"), contentTypeEventStream) {
			s.serveStream(w, r, segs)
			return
		}

		s.mu.Lock()
		v := lookup(s.tree, segs)
		if r.URL.Query().Get("shallow") == "true" {
			v = shallow(v)
		}
		body, _ := json.Marshal(v) //nolint:errcheck // decoded JSON always re-encodes
		s.mu.Unlock()

		writeRaw(w, http.StatusOK, body)

	case http.MethodPut:
		v, ok := decodeTreeBody(w, r)
		if !ok {
			return
		}

		s.write(segs, v)
		writeJSON(w, http.StatusOK, v)

	case http.MethodPost:
		v, ok := decodeTreeBody(w, r)
		if !ok {
			return
		}

		id := ulid.Make().String()
		s.write(append(append([]string(nil), segs...), id), v)
		writeJSON(w, http.StatusOK, map[string]string{"name": id})

	case http.MethodPatch:
		s.handleTreePatch(w, r, segs)

	case http.MethodDelete:
		s.write(segs, nil)
		writeRaw(w, http.StatusOK, []byte("null"))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTreePatch applies the body as a JSON merge patch: listed members
// are replaced and null members are removed.
func (s *Server) handleTreePatch(w http.ResponseWriter, r *http.Request, segs []string) {
	patch, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var probe map[string]any
	if err := json.Unmarshal(patch, &probe); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data; couldn't parse JSON object")
		return
	}

	s.mu.Lock()

	current, ok := lookup(s.tree, segs).(map[string]any)
	if !ok {
		current = map[string]any{}
	}

	currentRaw, _ := json.Marshal(current) //nolint:errcheck // decoded JSON always re-encodes

	merged, err := jsonpatch.MergePatch(currentRaw, patch)
	if err != nil {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	var v any
	if err := json.Unmarshal(merged, &v); err != nil {
		s.mu.Unlock()
		writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	s.tree = assign(s.tree, segs, prune(v))
	s.broadcastLocked(segs, lookup(s.tree, segs))
	s.mu.Unlock()

	writeRaw(w, http.StatusOK, patch)
}

func decodeTreeBody(w http.ResponseWriter, r *http.Request) (any, bool) {
	var v any
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data; couldn't parse JSON object, array, or value.")
		return nil, false
	}

	return prune(v), true
}

// write stores v at segs (nil deletes) and notifies listeners.
func (s *Server) write(segs []string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree = assign(s.tree, segs, v)
	s.broadcastLocked(segs, v)
}

// serveStream sends the current value as a put event, then one put event
// per later write that touches the listened subtree. Event paths are
// absolute, not relative to the listened node.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, segs []string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := make(chan []byte, streamBuffer)

	s.mu.Lock()
	initial := eventData("/", lookup(s.tree, segs))
	s.streams[ch] = append([]string(nil), segs...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.streams, ch)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", contentTypeEventStream)
	w.WriteHeader(http.StatusOK)

	writeEvent(w, "put", initial)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case data := <-ch:
			writeEvent(w, "put", data)
			flusher.Flush()
		}
	}
}

func (s *Server) broadcastLocked(segs []string, v any) {
	if len(s.streams) == 0 {
		return
	}

	data := eventData("/"+strings.Join(segs, "/"), v)

	for ch, watched := range s.streams {
		if !related(watched, segs) {
			continue
		}

		select {
		case ch <- data:
		default:
		}
	}
}

func eventData(path string, v any) []byte {
	b, _ := json.Marshal(map[string]any{"path": path, "data": v}) //nolint:errcheck // decoded JSON always re-encodes

	return b
}

func writeEvent(w io.Writer, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// related reports whether one path is a prefix of the other.
func related(a, b []string) bool {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func lookup(node any, segs []string) any {
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}

		node = m[seg]
	}

	return node
}

// assign returns node with v stored at segs. Empty objects collapse to
// nil, as the tree store does not keep empty nodes.
func assign(node any, segs []string, v any) any {
	if len(segs) == 0 {
		return v
	}

	m, ok := node.(map[string]any)
	if !ok {
		m = map[string]any{}
	}

	child := assign(m[segs[0]], segs[1:], v)
	if child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}

	if len(m) == 0 {
		return nil
	}

	return m
}

// prune drops null members and empty objects.
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}

	for k, child := range m {
		if p := prune(child); p == nil {
			delete(m, k)
		} else {
			m[k] = p
		}
	}

	if len(m) == 0 {
		return nil
	}

	return m
}

func shallow(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}

	out := make(map[string]any, len(m))
	for k := range m {
		out[k] = true
	}

	return out
}
