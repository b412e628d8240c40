package graph

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fileItemJSON = `{
	"id": "ITEM1",
	"name": "report.pdf",
	"size": 1234,
	"eTag": "etag-1",
	"lastModifiedDateTime": "2024-05-01T10:00:00Z",
	"parentReference": {"id": "PARENT1", "driveId": "DRIVE1"},
	"file": {"mimeType": "application/pdf", "hashes": {"quickXorHash": "aCgDG9jwBgAAAAAABQAAAAAAAAA=", "sha1Hash": "ABCDEF", "sha256Hash": "0A0B"}},
	"@microsoft.graph.downloadUrl": "https://download.example/secret"
}`

func TestGetItem_File(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/drive/items/ITEM1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fileItemJSON))
	}))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).GetItem(context.Background(), "ITEM1")
	require.NoError(t, err)

	assert.Equal(t, "ITEM1", item.ID)
	assert.Equal(t, "report.pdf", item.Name)
	assert.Equal(t, int64(1234), item.Size)
	assert.Equal(t, "PARENT1", item.ParentID)
	assert.Equal(t, "application/pdf", item.MimeType)
	assert.Equal(t, "aCgDG9jwBgAAAAAABQAAAAAAAAA=", item.QuickXorHash)
	assert.Equal(t, "abcdef", item.SHA1Hash)
	assert.Equal(t, "0a0b", item.SHA256Hash)
	assert.False(t, item.IsFolder)
	assert.Equal(t, "https://download.example/secret", item.DownloadURL)
	assert.True(t, item.ModifiedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestGetItem_FolderAndPackage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/me/drive/items/F" {
			_, _ = w.Write([]byte(`{"id":"F","name":"Docs","folder":{"childCount":3}}`))
			return
		}

		_, _ = w.Write([]byte(`{"id":"P","name":"Notebook","package":{"type":"oneNote"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	folder, err := c.GetItem(context.Background(), "F")
	require.NoError(t, err)
	assert.True(t, folder.IsFolder)
	assert.Equal(t, 3, folder.ChildCount)

	pkg, err := c.GetItem(context.Background(), "P")
	require.NoError(t, err)
	assert.True(t, pkg.IsPackage)
}

func TestGetItemByPath_EncodesSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/drive/root:/My%20Docs/a%23b.pdf:", r.URL.EscapedPath())
		_, _ = w.Write([]byte(fileItemJSON))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetItemByPath(context.Background(), "/My Docs/a#b.pdf")
	require.NoError(t, err)
}

func TestGetItemByPath_Root(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/drive/root", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"ROOT","name":"root","folder":{"childCount":1}}`))
	}))
	defer srv.Close()

	item, err := newTestClient(t, srv.URL).GetItemByPath(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, "ROOT", item.ID)
}

func TestGetItem_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).GetItem(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChildren_Paginates(t *testing.T) {
	var srv *httptest.Server

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/drive/items/root/children", r.URL.Path)

		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`{"value":[{"id":"B","name":"b.txt","file":{"mimeType":"text/plain"}}]}`))
			return
		}

		assert.Equal(t, "200", r.URL.Query().Get("$top"))
		fmt.Fprintf(w, `{"value":[{"id":"A","name":"a","folder":{"childCount":0}}],`+
			`"@odata.nextLink":"%s/me/drive/items/root/children?page=2"}`, srv.URL)
	}))
	defer srv.Close()

	items, err := newTestClient(t, srv.URL).ListChildren(context.Background(), RootID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].ID)
	assert.True(t, items[0].IsFolder)
	assert.Equal(t, "B", items[1].ID)
	assert.Equal(t, "text/plain", items[1].MimeType)
}

func TestListChildren_ForeignNextLinkRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"value":[],"@odata.nextLink":"https://evil.example/next"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).ListChildren(context.Background(), RootID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match base URL")
}

func TestMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"U1","displayName":"Alice","mail":"","userPrincipalName":"alice@example.com"}`))
	}))
	defer srv.Close()

	u, err := newTestClient(t, srv.URL).Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "U1", u.ID)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, "alice@example.com", u.Email)
}

func TestEncodePathSegments(t *testing.T) {
	assert.Equal(t, "a/b%20c/d%3Fe", encodePathSegments("a/b c/d?e"))
}
