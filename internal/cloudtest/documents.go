package cloudtest

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"

	"github.com/tonimelisma/firecloud-go/internal/jsonvalue"
)

// document holds fields in their typed wire form, as the store keeps them.
type document struct {
	path    string
	fields  *jsonvalue.Object
	created time.Time
	updated time.Time
}

// SetDocument stores a document directly. fieldsJSON is the typed wire
// form of the fields member, e.g. {"n":{"integerValue":"1"}}.
func (s *Server) SetDocument(path, fieldsJSON string) error {
	v, err := jsonvalue.ParseString(fieldsJSON)
	if err != nil {
		return err
	}

	fields, ok := v.AsObject()
	if !ok {
		fields = jsonvalue.NewObject()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.docs[strings.Trim(path, "/")] = &document{path: strings.Trim(path, "/"), fields: fields, created: now, updated: now}

	return nil
}

// DocumentFields returns the stored wire fields of a document as JSON.
func (s *Server) DocumentFields(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[strings.Trim(path, "/")]
	if !ok {
		return "", false
	}

	return jsonvalue.ObjectValue(d.fields).String(), true
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if !s.knownToken(bearer(r)) {
		writeError(w, http.StatusUnauthorized, "Request had invalid authentication credentials.")
		return
	}

	vars := mux.Vars(r)

	project, err := url.PathUnescape(vars["project"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	segs, err := documentSegments(r.URL.EscapedPath())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := strings.Join(segs, "/")
	isCollection := len(segs)%2 == 1

	switch {
	case r.Method == http.MethodPost && isCollection:
		s.createDocument(w, r, project, p)
	case r.Method == http.MethodGet && isCollection:
		s.listDocuments(w, r, project, p)
	case r.Method == http.MethodGet && len(segs) > 0:
		s.getDocument(w, project, p)
	case r.Method == http.MethodPatch && len(segs) > 0 && !isCollection:
		s.patchDocument(w, r, project, p)
	case r.Method == http.MethodDelete && len(segs) > 0 && !isCollection:
		s.mu.Lock()
		delete(s.docs, p)
		s.mu.Unlock()
		writeRaw(w, http.StatusOK, []byte("{}"))
	default:
		writeError(w, http.StatusBadRequest, "unsupported document operation")
	}
}

func documentSegments(escaped string) ([]string, error) {
	const marker = "/documents"

	i := strings.Index(escaped, marker)
	rest := strings.Trim(escaped[i+len(marker):], "/")

	if rest == "" {
		return nil, nil
	}

	parts := strings.Split(rest, "/")
	for i, part := range parts {
		seg, err := url.PathUnescape(part)
		if err != nil {
			return nil, err
		}

		parts[i] = seg
	}

	return parts, nil
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request, project, collection string) {
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}

	id := r.URL.Query().Get("documentId")
	if id == "" {
		id = ulid.Make().String()
	}

	p := collection + "/" + id

	s.mu.Lock()
	if _, exists := s.docs[p]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "Document already exists: "+p)

		return
	}

	now := s.now()
	d := &document{path: p, fields: fields, created: now, updated: now}
	s.docs[p] = d
	body := renderDocument(project, d, nil)
	s.mu.Unlock()

	writeRaw(w, http.StatusOK, body)
}

func (s *Server) getDocument(w http.ResponseWriter, project, p string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[p]
	if !ok {
		writeError(w, http.StatusNotFound, "Document not found: "+p)
		return
	}

	writeRaw(w, http.StatusOK, renderDocument(project, d, nil))
}

func (s *Server) patchDocument(w http.ResponseWriter, r *http.Request, project, p string) {
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()

	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.docs[p]

	switch q.Get("currentDocument.exists") {
	case "true":
		if !exists {
			writeError(w, http.StatusNotFound, "No document to update: "+p)
			return
		}
	case "false":
		if exists {
			writeError(w, http.StatusConflict, "Document already exists: "+p)
			return
		}
	}

	now := s.now()

	if !exists {
		d = &document{path: p, fields: jsonvalue.NewObject(), created: now}
		s.docs[p] = d
	}

	if update, ok := q["updateMask.fieldPaths"]; ok {
		for _, f := range update {
			if v, ok := fields.Get(f); ok {
				d.fields.Set(f, v)
			} else {
				d.fields.Delete(f)
			}
		}
	} else {
		d.fields = fields
	}

	d.updated = now

	writeRaw(w, http.StatusOK, renderDocument(project, d, q["mask.fieldPaths"]))
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request, project, collection string) {
	q := r.URL.Query()

	pageSize, _ := strconv.Atoi(q.Get("pageSize")) //nolint:errcheck // a bad size lists everything
	pageToken := q.Get("pageToken")
	mask := q["mask.fieldPaths"]

	s.mu.Lock()
	defer s.mu.Unlock()

	var paths []string

	for p := range s.docs {
		parent, _, _ := cutLast(p)
		if parent == collection && p > pageToken {
			paths = append(paths, p)
		}
	}

	sort.Strings(paths)

	next := ""
	if pageSize > 0 && len(paths) > pageSize {
		paths = paths[:pageSize]
		next = paths[len(paths)-1]
	}

	docs := make([]jsonvalue.Value, 0, len(paths))

	for _, p := range paths {
		v, _ := jsonvalue.Parse(renderDocument(project, s.docs[p], mask)) //nolint:errcheck // rendered by us
		docs = append(docs, v)
	}

	resp := jsonvalue.NewObject()
	if len(docs) > 0 {
		resp.Set("documents", jsonvalue.Array(docs...))
	}

	if next != "" {
		resp.Set("nextPageToken", jsonvalue.String(next))
	}

	writeRaw(w, http.StatusOK, []byte(jsonvalue.ObjectValue(resp).String()))
}

func decodeFields(w http.ResponseWriter, r *http.Request) (*jsonvalue.Object, bool) {
	body := jsonvalue.ObjectValue(nil)

	if r.ContentLength != 0 {
		v, err := jsonvalue.ParseString(readAll(r))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON payload received.")
			return nil, false
		}

		body = v
	}

	obj, ok := body.AsObject()
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload received.")
		return nil, false
	}

	fields := jsonvalue.NewObject()

	if f, ok := obj.Get("fields"); ok {
		fo, ok := f.AsObject()
		if !ok {
			writeError(w, http.StatusBadRequest, "fields must be an object")
			return nil, false
		}

		for _, m := range fo.Members() {
			fields.Set(m.Key, m.Value)
		}
	}

	return fields, true
}

// renderDocument renders d in wire form. A non-empty mask limits fields.
func renderDocument(project string, d *document, mask []string) []byte {
	fields := d.fields

	if len(mask) > 0 {
		fields = jsonvalue.NewObject()

		for _, f := range mask {
			if v, ok := d.fields.Get(f); ok {
				fields.Set(f, v)
			}
		}
	}

	out := jsonvalue.NewObject().
		Set("name", jsonvalue.String("projects/"+project+"/databases/(default)/documents/"+d.path))

	if fields.Len() > 0 {
		out.Set("fields", jsonvalue.ObjectValue(fields))
	}

	out.Set("createTime", jsonvalue.String(d.created.UTC().Format(time.RFC3339Nano))).
		Set("updateTime", jsonvalue.String(d.updated.UTC().Format(time.RFC3339Nano)))

	return []byte(jsonvalue.ObjectValue(out).String())
}

func cutLast(p string) (parent, last string, ok bool) {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p, false
	}

	return p[:i], p[i+1:], true
}
