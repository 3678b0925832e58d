package blob

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStoreRoundTrip(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "diagnostics/v1/snap.json", []byte(`{"ok":true}`), "application/json"))
	got, err := s.Get(ctx, "diagnostics/v1/snap.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(got))

	_, err = s.Get(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, s.Put(ctx, "../escape", nil, ""))
}

// fakeS3 serves a path-style PUT/GET subset in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := req.URL.Path
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		f.objects[key] = body
		return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"ETag": {`"etag"`}}}, nil
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return &http.Response{
				StatusCode: 404,
				Body:       io.NopCloser(strings.NewReader(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)),
				Header:     http.Header{"Content-Type": {"application/xml"}},
			}, nil
		}
		return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(body)), Header: http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
		}}, nil
	}
	return &http.Response{StatusCode: 501, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
}

func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	size := strings.SplitN(parts[0], ";", 2)[0]
	n, err := strconv.ParseInt(size, 16, 64)
	if err != nil || n <= 0 || int64(len(parts[1])) != n {
		return nil, false
	}
	return []byte(parts[1]), true
}

func TestS3StoreRoundTrip(t *testing.T) {
	fake := &fakeS3{objects: make(map[string][]byte)}
	s, err := NewS3Store(context.Background(), S3Config{
		Bucket:     "diag",
		Prefix:     "vaults",
		Region:     "us-east-1",
		Endpoint:   "https://s3.test.local",
		AccessKey:  "AKIA",
		SecretKey:  "SECRET",
		PathStyle:  true,
		HTTPClient: &http.Client{Transport: fake},
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "v1/snap.json", []byte(`{"vault":"v1"}`), "application/json"))
	_, stored := fake.objects["/diag/vaults/v1/snap.json"]
	assert.True(t, stored)

	got, err := s.Get(ctx, "v1/snap.json")
	require.NoError(t, err)
	assert.Equal(t, `{"vault":"v1"}`, string(got))

	_, err = s.Get(ctx, "nope.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewS3StoreNeedsBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	assert.Error(t, err)
}
