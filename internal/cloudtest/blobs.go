package cloudtest

import (
	"crypto/md5" //nolint:gosec // the blob store reports MD5 digests
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

const downloadPrefix = "/download/storage/v1/b/"

type blob struct {
	data        []byte
	contentType string
	generation  int64
	updated     time.Time
}

// PutObject stores an object directly.
func (s *Server) PutObject(bucket, name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.storeBlob(bucket, name, data, "application/octet-stream")
}

// Object returns the stored bytes of an object.
func (s *Server) Object(bucket, name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[bucket+"/"+name]
	if !ok {
		return nil, false
	}

	return append([]byte(nil), b.data...), true
}

func (s *Server) storeBlob(bucket, name string, data []byte, contentType string) *blob {
	key := bucket + "/" + name

	gen := int64(1)
	if old, ok := s.blobs[key]; ok {
		gen = old.generation + 1
	}

	b := &blob{data: data, contentType: contentType, generation: gen, updated: s.now()}
	s.blobs[key] = b

	return b
}

func (s *Server) handleObjectMeta(w http.ResponseWriter, r *http.Request) {
	if !s.knownToken(bearer(r)) {
		writeError(w, http.StatusUnauthorized, "Invalid Credentials")
		return
	}

	bucket, name, ok := blobVars(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.blobs[bucket+"/"+name]
	if !exists {
		writeError(w, http.StatusNotFound, "No such object: "+bucket+"/"+name)
		return
	}

	if r.Method == http.MethodDelete {
		delete(s.blobs, bucket+"/"+name)
		w.WriteHeader(http.StatusNoContent)

		return
	}

	writeJSON(w, http.StatusOK, s.metadata(bucket, name, b))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.knownToken(bearer(r)) {
		writeError(w, http.StatusUnauthorized, "Invalid Credentials")
		return
	}

	bucket, err := url.PathUnescape(mux.Vars(r)["bucket"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	if q.Get("uploadType") != "media" {
		writeError(w, http.StatusBadRequest, "unsupported uploadType")
		return
	}

	name := q.Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "Required parameter: name")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	b := s.storeBlob(bucket, name, data, r.Header.Get("Content-Type"))
	meta := s.metadata(bucket, name, b)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !s.knownToken(bearer(r)) {
		writeError(w, http.StatusUnauthorized, "Invalid Credentials")
		return
	}

	bucket, name, ok := blobVars(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	b, exists := s.blobs[bucket+"/"+name]
	var data []byte
	if exists {
		data = b.data
	}
	s.mu.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, "No such object: "+bucket+"/"+name)
		return
	}

	w.Header().Set("Content-Type", b.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write(data) //nolint:errcheck // client hangups are not interesting here
}

func blobVars(w http.ResponseWriter, r *http.Request) (bucket, name string, ok bool) {
	vars := mux.Vars(r)

	bucket, err := url.PathUnescape(vars["bucket"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}

	name, err = url.PathUnescape(vars["object"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}

	return bucket, name, true
}

func (s *Server) metadata(bucket, name string, b *blob) map[string]any {
	sum := md5.Sum(b.data) //nolint:gosec // the blob store reports MD5 digests
	escaped := url.PathEscape(bucket) + "/o/" + url.PathEscape(name)

	return map[string]any{
		"kind":        "storage#object",
		"name":        name,
		"bucket":      bucket,
		"size":        strconv.Itoa(len(b.data)),
		"contentType": b.contentType,
		"md5Hash":     base64.StdEncoding.EncodeToString(sum[:]),
		"generation":  strconv.FormatInt(b.generation, 10),
		"updated":     b.updated.UTC().Format(time.RFC3339Nano),
		"mediaLink":   s.URL + downloadPrefix + escaped + "?alt=media",
	}
}

func readAll(r *http.Request) string {
	b, _ := io.ReadAll(r.Body) //nolint:errcheck // a short body fails to parse downstream

	return string(b)
}
