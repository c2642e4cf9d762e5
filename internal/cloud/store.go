package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/firecloud-go/internal/jsonvalue"
	"github.com/tonimelisma/firecloud-go/internal/typedvalue"
)

// Precondition constrains a document patch on the document's existence.
type Precondition int

const (
	// MustExist fails the patch unless the document exists.
	MustExist Precondition = iota
	// MustNotExist fails the patch if the document exists.
	MustNotExist
	// NoPrecondition creates or updates unconditionally.
	NoPrecondition
)

func (p Precondition) String() string {
	switch p {
	case MustExist:
		return "must-exist"
	case MustNotExist:
		return "must-not-exist"
	case NoPrecondition:
		return "none"
	default:
		return "precondition(" + strconv.Itoa(int(p)) + ")"
	}
}

// Document is one document as returned by the document store.
type Document struct {
	// Name is the full resource name, projects/<p>/databases/(default)/documents/<path>.
	Name       string
	ID         string
	Fields     *jsonvalue.Object
	CreateTime time.Time
	UpdateTime time.Time
}

// DocumentList is one page of a collection listing.
type DocumentList struct {
	Documents     []*Document
	NextPageToken string
}

// ListOptions narrows a collection listing. Zero values are omitted.
type ListOptions struct {
	PageSize  int
	PageToken string
	OrderBy   string
	Mask      []string
}

// Store is a client for the document store. Documents are sent and received
// as plain JSON objects and converted to and from the typed wire form here.
type Store struct {
	session *Session
	logger  *slog.Logger

	maskMu     sync.Mutex
	readMask   []string
	updateMask []string
}

// NewStore creates a document-store client for project. id supplies the
// bearer token; a nil id makes unauthenticated requests.
func NewStore(id *Identity, project string, opts Options) *Store {
	opts = opts.withDefaults()

	cfg := sessionConfig{
		baseURL: opts.Endpoints.StoreURL,
		project: project,
		opts:    opts,
	}
	if id != nil {
		cfg.tokens = id
	}

	return &Store{
		session: newSession(cfg),
		logger:  opts.Logger,
	}
}

// Session exposes the underlying session for traffic and error inspection.
func (s *Store) Session() *Session { return s.session }

// AddReadMask limits the fields returned by the next patch.
func (s *Store) AddReadMask(fields ...string) {
	s.maskMu.Lock()
	s.readMask = append(s.readMask, fields...)
	s.maskMu.Unlock()
}

// AddUpdateMask limits the fields written by the next patch. Fields named
// here but absent from the document are deleted.
func (s *Store) AddUpdateMask(fields ...string) {
	s.maskMu.Lock()
	s.updateMask = append(s.updateMask, fields...)
	s.maskMu.Unlock()
}

// takeMasks returns and clears the pending masks.
func (s *Store) takeMasks() (read, update []string) {
	s.maskMu.Lock()
	defer s.maskMu.Unlock()

	read, update = s.readMask, s.updateMask
	s.readMask, s.updateMask = nil, nil

	return read, update
}

// CreateDocument adds doc to collection and returns the document id. An
// empty id lets the server choose one.
func (s *Store) CreateDocument(ctx context.Context, collection string, doc *jsonvalue.Object, id string) (string, error) {
	body, err := typedvalue.EncodeDocument(doc)
	if err != nil {
		return "", fmt.Errorf("cloud: creating document in %q: %w", collection, err)
	}

	p := s.documentsPath(collection)
	if id != "" {
		p += "?documentId=" + url.QueryEscape(id)
	}

	resp, err := s.session.ExecuteJSON(ctx, http.MethodPost, p, body)
	if err != nil {
		return "", fmt.Errorf("cloud: creating document in %q: %w", collection, err)
	}

	created, err := s.parseDocument(resp)
	if err != nil {
		return "", fmt.Errorf("cloud: creating document in %q: %w", collection, err)
	}

	s.logger.Debug("created document",
		slog.String("collection", collection),
		slog.String("id", created.ID),
	)

	return created.ID, nil
}

// GetDocument fetches the document at docPath.
func (s *Store) GetDocument(ctx context.Context, docPath string) (*Document, error) {
	resp, err := s.session.GetJSON(ctx, s.documentsPath(docPath))
	if err != nil {
		return nil, fmt.Errorf("cloud: getting document %q: %w", docPath, err)
	}

	doc, err := s.parseDocument(resp)
	if err != nil {
		return nil, fmt.Errorf("cloud: getting document %q: %w", docPath, err)
	}

	return doc, nil
}

// PatchDocument writes fields to the document at docPath and returns the
// result. Pending read and update masks are sent with this request and
// cleared. The request is made once.
func (s *Store) PatchDocument(ctx context.Context, docPath string, fields *jsonvalue.Object, pre Precondition) (*Document, error) {
	read, update := s.takeMasks()

	body, err := typedvalue.EncodeDocument(fields)
	if err != nil {
		return nil, fmt.Errorf("cloud: patching document %q: %w", docPath, err)
	}

	q := url.Values{}

	switch pre {
	case MustExist:
		q.Set("currentDocument.exists", "true")
	case MustNotExist:
		q.Set("currentDocument.exists", "false")
	case NoPrecondition:
	}

	for _, f := range read {
		q.Add("mask.fieldPaths", f)
	}

	for _, f := range update {
		q.Add("updateMask.fieldPaths", f)
	}

	p := s.documentsPath(docPath)
	if len(q) > 0 {
		p += "?" + q.Encode()
	}

	s.logger.Debug("patching document",
		slog.String("path", docPath),
		slog.String("precondition", pre.String()),
		slog.Int("read_mask", len(read)),
		slog.Int("update_mask", len(update)),
	)

	resp, err := s.session.ExecuteJSON(ctx, http.MethodPatch, p, body)
	if err != nil {
		return nil, fmt.Errorf("cloud: patching document %q: %w", docPath, err)
	}

	doc, err := s.parseDocument(resp)
	if err != nil {
		return nil, fmt.Errorf("cloud: patching document %q: %w", docPath, err)
	}

	return doc, nil
}

// RemoveDocument deletes the document at docPath.
func (s *Store) RemoveDocument(ctx context.Context, docPath string) error {
	if _, _, err := s.session.Execute(ctx, http.MethodDelete, s.documentsPath(docPath), nil); err != nil {
		return fmt.Errorf("cloud: removing document %q: %w", docPath, err)
	}

	return nil
}

// ListDocuments returns one page of the collection at collPath.
func (s *Store) ListDocuments(ctx context.Context, collPath string, opts ListOptions) (*DocumentList, error) {
	q := url.Values{}

	if opts.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(opts.PageSize))
	}

	if opts.PageToken != "" {
		q.Set("pageToken", opts.PageToken)
	}

	if opts.OrderBy != "" {
		q.Set("orderBy", opts.OrderBy)
	}

	for _, f := range opts.Mask {
		q.Add("mask.fieldPaths", f)
	}

	p := s.documentsPath(collPath)
	if len(q) > 0 {
		p += "?" + q.Encode()
	}

	resp, err := s.session.GetJSON(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("cloud: listing %q: %w", collPath, err)
	}

	list, err := s.parseList(resp)
	if err != nil {
		return nil, fmt.Errorf("cloud: listing %q: %w", collPath, err)
	}

	return list, nil
}

func (s *Store) parseList(v jsonvalue.Value) (*DocumentList, error) {
	obj, ok := v.AsObject()
	if !ok {
		return nil, fmt.Errorf("%w: list response is %s, want object", ErrDecode, v.Kind())
	}

	list := &DocumentList{}

	if tok, ok := obj.Get("nextPageToken"); ok {
		list.NextPageToken, _ = tok.AsString()
	}

	docs, ok := obj.Get("documents")
	if !ok {
		return list, nil
	}

	arr, ok := docs.AsArray()
	if !ok {
		return nil, fmt.Errorf("%w: documents is %s, want array", ErrDecode, docs.Kind())
	}

	for i, item := range arr {
		doc, err := s.parseDocument(item)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}

		list.Documents = append(list.Documents, doc)
	}

	return list, nil
}

// parseDocument converts a wire document into a Document.
func (s *Store) parseDocument(v jsonvalue.Value) (*Document, error) {
	obj, ok := v.AsObject()
	if !ok {
		return nil, fmt.Errorf("%w: document is %s, want object", ErrDecode, v.Kind())
	}

	fields, err := typedvalue.DecodeDocument(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	doc := &Document{Fields: fields}

	if name, ok := obj.Get("name"); ok {
		if str, ok := name.AsString(); ok && str != "" {
			doc.Name = str
			doc.ID = path.Base(str)
		}
	}

	doc.CreateTime = timeField(obj, "createTime")
	doc.UpdateTime = timeField(obj, "updateTime")

	return doc, nil
}

// timeField parses an RFC 3339 member. Missing or malformed values are zero.
func timeField(obj *jsonvalue.Object, key string) time.Time {
	v, ok := obj.Get(key)
	if !ok {
		return time.Time{}
	}

	str, ok := v.AsString()
	if !ok {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return time.Time{}
	}

	return t
}

// documentsPath returns the URL path of a document or collection.
func (s *Store) documentsPath(p string) string {
	return "/v1/projects/" + url.PathEscape(s.session.Project()) +
		"/databases/(default)/documents/" + escapeSegments(strings.Trim(p, "/"))
}
