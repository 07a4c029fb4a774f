// File: internal/storagetest/server.go
package storagetest

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Server is an in-memory S3-compatible object server for a single bucket,
// addressed path-style as <URL>/<bucket>/<key>. It supports ranged and
// conditional reads, conditional writes, server-side copy, deletes and
// paginated ListObjectsV2, and can be told to fail requests.
type Server struct {
	*httptest.Server

	bucket string

	mu       sync.Mutex
	objects  map[string]*object
	faults   []fault
	requests []Request
	noRanges bool
	maxKeys  int
	now      func() time.Time
}

type object struct {
	data        []byte
	etag        string
	modified    time.Time
	contentType string
	tags        string
}

// A recorded request
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
}

type fault struct {
	match     func(r *http.Request) bool
	remaining int
	status    int
	header    http.Header
}

func NewServer(t testing.TB, bucket string) *Server {
	t.Helper()
	s := &Server{
		bucket:  bucket,
		objects: make(map[string]*object),
		maxKeys: 1000,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// The store base URL, including the bucket
func (s *Server) BucketURL() string {
	return s.URL + "/" + s.bucket
}

func (s *Server) PutObject(key string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(key, data, "").etag
}

func (s *Server) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

func (s *Server) Tags(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[key]; ok {
		return obj.tags
	}
	return ""
}

func (s *Server) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedKeys()
}

// Answers the next n requests with status and header
func (s *Server) FailNext(n, status int, header http.Header) {
	s.FailMatching(n, status, header, func(*http.Request) bool { return true })
}

// Answers the next n requests matched by match with status and header
func (s *Server) FailMatching(n, status int, header http.Header, match func(r *http.Request) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{match: match, remaining: n, status: status, header: header})
}

// Makes the server ignore Range headers and always answer 200 with the full object
func (s *Server) IgnoreRanges(ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noRanges = ignore
}

// Caps the number of entries per list page
func (s *Server) SetMaxKeys(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxKeys = n
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Returns the recorded requests with the given method
func (s *Server) RequestsFor(method string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	})

	if f := s.takeFault(r); f != nil {
		for k, vs := range f.header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		writeError(w, f.status, "InjectedFault", "injected failure")
		return
	}

	root := "/" + s.bucket
	if r.URL.Path != root && !strings.HasPrefix(r.URL.Path, root+"/") {
		writeError(w, http.StatusNotFound, "NoSuchBucket", "the specified bucket does not exist")
		return
	}
	key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, root), "/")

	switch {
	case key == "" && r.Method == http.MethodGet:
		s.list(w, r)
	case key == "":
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "unsupported bucket operation")
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		s.get(w, r, key)
	case r.Method == http.MethodPut && r.Header.Get("X-Amz-Copy-Source") != "":
		s.copy(w, r, key)
	case r.Method == http.MethodPut:
		s.put(w, r, key)
	case r.Method == http.MethodDelete:
		delete(s.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "unsupported method")
	}
}

func (s *Server) takeFault(r *http.Request) *fault {
	for i := range s.faults {
		f := &s.faults[i]
		if f.remaining <= 0 || !f.match(r) {
			continue
		}
		f.remaining--
		out := *f
		return &out
	}
	return nil
}

func (s *Server) get(w http.ResponseWriter, r *http.Request, key string) {
	obj, ok := s.objects[key]
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchKey", "the specified key does not exist")
		return
	}

	if status := checkConditions(r, obj); status != 0 {
		if status == http.StatusNotModified {
			w.Header().Set("ETag", obj.etag)
			w.WriteHeader(status)
			return
		}
		writeError(w, status, "PreconditionFailed", "at least one of the preconditions did not hold")
		return
	}

	size := int64(len(obj.data))
	h := w.Header()
	h.Set("ETag", obj.etag)
	h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
	if obj.contentType != "" {
		h.Set("Content-Type", obj.contentType)
	}
	h.Set("Accept-Ranges", "bytes")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" || s.noRanges || r.Method == http.MethodHead {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.data)
		}
		return
	}

	start, end, ok := resolveRange(rangeHeader, size)
	if !ok {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "InvalidRange", "the requested range is not satisfiable")
		return
	}
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(obj.data[start : end+1])
}

// Resolves a single "bytes=" range against size; end is inclusive
func resolveRange(header string, size int64) (int64, int64, bool) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, 0, false
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, false
	}
	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 || size == 0 {
			return 0, 0, false
		}
		return max(size-n, 0), size - 1, true
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start >= size {
		return 0, 0, false
	}
	end := size - 1
	if last != "" {
		e, err := strconv.ParseInt(last, 10, 64)
		if err != nil || e < start {
			return 0, 0, false
		}
		end = min(e, size-1)
	}
	return start, end, true
}

// Returns the status a conditional read fails with, or zero
func checkConditions(r *http.Request, obj *object) int {
	if m := r.Header.Get("If-Match"); m != "" && m != "*" && m != obj.etag {
		return http.StatusPreconditionFailed
	}
	if v := r.Header.Get("If-Unmodified-Since"); v != "" {
		if t, err := http.ParseTime(v); err == nil && obj.modified.After(t) {
			return http.StatusPreconditionFailed
		}
	}
	if m := r.Header.Get("If-None-Match"); m != "" && (m == "*" || m == obj.etag) {
		return http.StatusNotModified
	}
	if v := r.Header.Get("If-Modified-Since"); v != "" {
		if t, err := http.ParseTime(v); err == nil && !obj.modified.After(t) {
			return http.StatusNotModified
		}
	}
	return 0
}

func (s *Server) put(w http.ResponseWriter, r *http.Request, key string) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "IncompleteBody", err.Error())
		return
	}

	existing, exists := s.objects[key]
	if r.Header.Get("If-None-Match") == "*" && exists {
		writeError(w, http.StatusPreconditionFailed, "PreconditionFailed", "the object already exists")
		return
	}
	if m := r.Header.Get("If-Match"); m != "" && (!exists || (m != "*" && m != existing.etag)) {
		writeError(w, http.StatusPreconditionFailed, "PreconditionFailed", "the object changed")
		return
	}

	obj := s.store(key, data, r.Header.Get("Content-Type"))
	obj.tags = r.Header.Get("X-Amz-Tagging")
	w.Header().Set("ETag", obj.etag)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) copy(w http.ResponseWriter, r *http.Request, key string) {
	source, err := url.PathUnescape(r.Header.Get("X-Amz-Copy-Source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "invalid copy source")
		return
	}
	source = strings.TrimPrefix(source, "/")
	srcKey, ok := strings.CutPrefix(source, s.bucket+"/")
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchBucket", "copy source bucket does not exist")
		return
	}
	src, ok := s.objects[srcKey]
	if !ok {
		writeError(w, http.StatusNotFound, "NoSuchKey", "the copy source does not exist")
		return
	}
	if _, exists := s.objects[key]; exists && r.Header.Get("If-None-Match") == "*" {
		writeError(w, http.StatusPreconditionFailed, "PreconditionFailed", "the destination already exists")
		return
	}

	obj := s.store(key, append([]byte(nil), src.data...), src.contentType)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><CopyObjectResult><ETag>%s</ETag><LastModified>%s</LastModified></CopyObjectResult>`,
		xmlEscape(obj.etag), obj.modified.Format(time.RFC3339))
}

type listResult struct {
	XMLName               xml.Name     `xml:"ListBucketResult"`
	Name                  string       `xml:"Name"`
	Prefix                string       `xml:"Prefix"`
	KeyCount              int          `xml:"KeyCount"`
	MaxKeys               int          `xml:"MaxKeys"`
	IsTruncated           bool         `xml:"IsTruncated"`
	ContinuationToken     string       `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string       `xml:"NextContinuationToken,omitempty"`
	Contents              []listObject `xml:"Contents"`
	CommonPrefixes        []listPrefix `xml:"CommonPrefixes"`
}

type listObject struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
}

type listPrefix struct {
	Prefix string `xml:"Prefix"`
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("list-type") != "2" {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "only list-type=2 is supported")
		return
	}
	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	token := q.Get("continuation-token")

	after := ""
	if token != "" {
		raw, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidArgument", "invalid continuation token")
			return
		}
		after = string(raw)
	}

	// Entries are object keys and collapsed prefixes, in key order
	type entry struct {
		name     string
		isPrefix bool
	}
	var entries []entry
	seen := make(map[string]bool)
	for _, key := range s.sortedKeys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if delimiter != "" {
			rest := key[len(prefix):]
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					entries = append(entries, entry{name: cp, isPrefix: true})
				}
				continue
			}
		}
		entries = append(entries, entry{name: key})
	}

	res := listResult{Name: s.bucket, Prefix: prefix, MaxKeys: s.maxKeys, ContinuationToken: token}
	for _, e := range entries {
		if e.name <= after {
			continue
		}
		if res.KeyCount == s.maxKeys {
			res.IsTruncated = true
			break
		}
		if e.isPrefix {
			res.CommonPrefixes = append(res.CommonPrefixes, listPrefix{Prefix: e.name})
		} else {
			obj := s.objects[e.name]
			res.Contents = append(res.Contents, listObject{
				Key:          e.name,
				LastModified: obj.modified.Format(time.RFC3339),
				ETag:         obj.etag,
				Size:         int64(len(obj.data)),
			})
		}
		res.KeyCount++
		after = e.name
	}
	if res.IsTruncated {
		res.NextContinuationToken = base64.RawURLEncoding.EncodeToString([]byte(after))
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(res)
}

func (s *Server) store(key string, data []byte, contentType string) *object {
	sum := md5.Sum(data)
	obj := &object{
		data:        data,
		etag:        `"` + hex.EncodeToString(sum[:]) + `"`,
		modified:    s.now(),
		contentType: contentType,
	}
	s.objects[key] = obj
	return obj
}

func (s *Server) sortedKeys() []string {
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`,
		xmlEscape(code), xmlEscape(message))
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
