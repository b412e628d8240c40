package graph

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload_StreamsWithoutAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "pre-authenticated URL must not receive the bearer token")
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("file content"))
	}))
	defer srv.Close()

	c := newTestClient(t, "http://graph.invalid")

	var buf bytes.Buffer

	n, err := c.Download(context.Background(), &Item{ID: "I", DownloadURL: srv.URL + "/content"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, "file content", buf.String())
}

func TestDownload_NoURL(t *testing.T) {
	c := newTestClient(t, "http://graph.invalid")

	_, err := c.Download(context.Background(), &Item{ID: "F", IsFolder: true}, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNoDownloadURL)
}

func TestDownload_RetriesServerError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var buf bytes.Buffer

	_, err := newTestClient(t, "http://graph.invalid").Download(
		context.Background(), &Item{ID: "I", DownloadURL: srv.URL}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", buf.String())
	assert.Equal(t, int32(2), calls.Load())
}

func TestDownload_Gone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(t, "http://graph.invalid").Download(
		context.Background(), &Item{ID: "I", DownloadURL: srv.URL}, &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrNotFound)
}
