package s3

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NewMock returns a Store backed by an in-process fake of the S3 HTTP API.
// Only the object operations used by Store are implemented.
func NewMock(bucket, prefix string) *Store {
	rt := &fakeS3{objects: make(map[string]fakeObject)}
	s, err := newStore(context.Background(), Config{
		Bucket:          bucket,
		Prefix:          prefix,
		Region:          "us-east-1",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIAMOCK",
		SecretAccessKey: "secret",
		PathStyle:       true,
	}, &http.Client{Transport: rt})
	if err != nil {
		panic(err)
	}
	return s
}

type fakeObject struct {
	body     []byte
	header   http.Header
	modified time.Time
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type listResult struct {
	XMLName     xml.Name      `xml:"ListBucketResult"`
	IsTruncated bool          `xml:"IsTruncated"`
	Contents    []listContent `xml:"Contents"`
}

type listContent struct {
	Key          string `xml:"Key"`
	Size         int    `xml:"Size"`
	ETag         string `xml:"ETag"`
	LastModified string `xml:"LastModified"`
}

func respond(status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: header, ContentLength: int64(len(body))}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Path style: /<bucket>/<key>
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req.URL.Query().Get("prefix"))
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		h := obj.header.Clone()
		h.Set("Content-Length", strconv.Itoa(len(obj.body)))
		h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, nil, h), nil
		}
		return respond(http.StatusOK, bytes.Clone(obj.body), h), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") || req.Header.Get("X-Amz-Decoded-Content-Length") != "" {
			if body, err = decodeChunked(body); err != nil {
				return respond(http.StatusBadRequest, []byte(err.Error()), nil), nil
			}
		}
		h := http.Header{}
		for name, vals := range req.Header {
			if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") {
				h[name] = vals
			}
		}
		if ct := req.Header.Get("Content-Type"); ct != "" {
			h.Set("Content-Type", ct)
		}
		h.Set("ETag", fmt.Sprintf("%q", fmt.Sprintf("%x", len(body))))
		f.objects[key] = fakeObject{body: body, header: h, modified: time.Now().UTC()}
		return respond(http.StatusOK, nil, http.Header{"ETag": h.Values("ETag")}), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeS3) list(prefix string) (*http.Response, error) {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	res := listResult{}
	for _, k := range keys {
		obj := f.objects[k]
		res.Contents = append(res.Contents, listContent{
			Key:          k,
			Size:         len(obj.body),
			ETag:         obj.header.Get("ETag"),
			LastModified: obj.modified.Format(time.RFC3339),
		})
	}
	body, err := xml.Marshal(res)
	if err != nil {
		return nil, err
	}
	return respond(http.StatusOK, body, http.Header{"Content-Type": {"application/xml"}}), nil
}

// decodeChunked strips aws-chunked framing: <hex>[;ext]\r\n<data>\r\n ... 0\r\n[trailers]\r\n.
func decodeChunked(b []byte) ([]byte, error) {
	var out []byte
	for {
		line, rest, ok := bytes.Cut(b, []byte("\r\n"))
		if !ok {
			return nil, fmt.Errorf("malformed chunk header")
		}
		sizeHex, _, _ := bytes.Cut(line, []byte(";"))
		size, err := strconv.ParseInt(string(sizeHex), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk size: %w", err)
		}
		if size == 0 {
			return out, nil
		}
		if int64(len(rest)) < size+2 {
			return nil, fmt.Errorf("short chunk")
		}
		out = append(out, rest[:size]...)
		b = rest[size+2:]
	}
}
