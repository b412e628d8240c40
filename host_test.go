package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-open/internal/remote"
)

var errNoSuchPath = errors.New("no such path")

// fakeBrowser serves a fixed tree keyed by folder id.
type fakeBrowser struct {
	folders map[string][]remote.Entry
	paths   map[string]remote.Entry
}

func (b *fakeBrowser) List(_ context.Context, folderID string) ([]remote.Entry, error) {
	return b.folders[folderID], nil
}

func (b *fakeBrowser) Lookup(_ context.Context, p string) (remote.Entry, error) {
	e, ok := b.paths[p]
	if !ok {
		return remote.Entry{}, errNoSuchPath
	}

	return e, nil
}

func testTree() *fakeBrowser {
	docs := remote.Entry{ID: "docs", Name: "Docs", IsFolder: true}
	report := remote.Entry{ID: "r1", Name: "report.pdf", ContentType: "application/pdf", Size: 2048}
	photo := remote.Entry{ID: "p1", Name: "cat.png", ContentType: "image/png", Size: 10}
	nested := remote.Entry{ID: "n1", Name: "notes.pdf", ContentType: "application/pdf", Size: 1}

	return &fakeBrowser{
		folders: map[string][]remote.Entry{
			"":     {docs, photo, report},
			"docs": {nested},
		},
		paths: map[string]remote.Entry{
			"Docs":           docs,
			"report.pdf":     report,
			"cat.png":        photo,
			"Docs/notes.pdf": nested,
		},
	}
}

// resultRecorder collects host results.
type resultRecorder struct {
	got chan remote.HostResult
}

func newRecorder() *resultRecorder {
	return &resultRecorder{got: make(chan remote.HostResult, 4)}
}

func (r *resultRecorder) record(res remote.HostResult) {
	r.got <- res
}

func (r *resultRecorder) next(t *testing.T) remote.HostResult {
	t.Helper()

	select {
	case res := <-r.got:
		return res
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no host result")
		return remote.HostResult{}
	}
}

func newTestHost(input string, interactive bool, directPath string) (*terminalHost, *bytes.Buffer, *resultRecorder) {
	var out bytes.Buffer

	rec := newRecorder()
	h := newTerminalHost(strings.NewReader(input), &out, interactive, directPath, discardLogger())
	h.results = rec.record

	return h, &out, rec
}

func pickReq(b remote.Browser) remote.PickRequest {
	return remote.PickRequest{Title: "onedrive-open", ContentTypes: []string{"application/pdf"}, Browser: b}
}

func TestPromptSignIn(t *testing.T) {
	h, out, _ := newTestHost("", true, "")

	require.NoError(t, h.PromptSignIn(remote.SignInPrompt{URL: "https://microsoft.com/devicelogin", UserCode: "ABC-123"}))
	assert.Contains(t, out.String(), "visit: https://microsoft.com/devicelogin")
	assert.Contains(t, out.String(), "Enter code: ABC-123")

	out.Reset()

	require.NoError(t, h.PromptSignIn(remote.SignInPrompt{URL: "https://login.example/authorize"}))
	assert.Contains(t, out.String(), "open this URL in your browser")
	assert.NotContains(t, out.String(), "Enter code")
}

func TestStartPicker_InteractivePicksFile(t *testing.T) {
	h, out, rec := newTestHost("2\n", true, "")

	require.NoError(t, h.StartPicker(pickReq(testTree())))

	res := rec.next(t)
	assert.Equal(t, remote.RequestOpenItem, res.RequestCode)
	assert.Equal(t, remote.ResultOK, res.ResultCode)
	assert.Equal(t, "r1", res.Data[remote.DataItemID])

	listing := out.String()
	assert.Contains(t, listing, "onedrive-open: /")
	assert.Contains(t, listing, "Docs/")
	assert.Contains(t, listing, "report.pdf")
	assert.NotContains(t, listing, "cat.png", "unaccepted types are hidden")
}

func TestStartPicker_NavigatesFolders(t *testing.T) {
	h, out, rec := newTestHost("1\n..\n1\n1\n", true, "")

	require.NoError(t, h.StartPicker(pickReq(testTree())))

	res := rec.next(t)
	assert.Equal(t, "n1", res.Data[remote.DataItemID])
	assert.Contains(t, out.String(), "onedrive-open: /Docs")
}

func TestStartPicker_StartFolder(t *testing.T) {
	h, out, rec := newTestHost("1\n", true, "")

	req := pickReq(testTree())
	req.StartFolder = "Docs"

	require.NoError(t, h.StartPicker(req))

	res := rec.next(t)
	assert.Equal(t, "n1", res.Data[remote.DataItemID])
	assert.Contains(t, out.String(), "onedrive-open: /Docs")
}

func TestStartPicker_QuitAndEOFCancel(t *testing.T) {
	for _, input := range []string{"q\n", ""} {
		h, _, rec := newTestHost(input, true, "")

		require.NoError(t, h.StartPicker(pickReq(testTree())))

		res := rec.next(t)
		assert.Equal(t, remote.ResultCanceled, res.ResultCode, "input %q", input)
		assert.Empty(t, res.Data)
	}
}

func TestStartPicker_InvalidChoiceReprompts(t *testing.T) {
	h, out, rec := newTestHost("9\nabc\n\n2\n", true, "")

	require.NoError(t, h.StartPicker(pickReq(testTree())))

	res := rec.next(t)
	assert.Equal(t, "r1", res.Data[remote.DataItemID])
	assert.Contains(t, out.String(), `No entry "9"`)
	assert.Contains(t, out.String(), `No entry "abc"`)
}

func TestStartPicker_NeedsTerminal(t *testing.T) {
	h, _, _ := newTestHost("", false, "")

	assert.ErrorIs(t, h.StartPicker(pickReq(testTree())), errNoTerminal)
}

func TestStartPicker_DirectPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantID  string
		wantErr string
	}{
		{"file", "Docs/notes.pdf", "n1", ""},
		{"missing", "nope.pdf", "", "looking up nope.pdf"},
		{"folder", "Docs", "", "is a folder"},
		{"unaccepted type", "cat.png", "", "not accepted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, rec := newTestHost("", false, tt.path)

			require.NoError(t, h.StartPicker(pickReq(testTree())))

			res := rec.next(t)

			if tt.wantErr == "" {
				assert.Equal(t, remote.ResultOK, res.ResultCode)
				assert.Equal(t, tt.wantID, res.Data[remote.DataItemID])

				return
			}

			assert.Equal(t, remote.ResultError, res.ResultCode, "a failed lookup is not a cancel")
			assert.Contains(t, res.Data[remote.DataError], tt.wantErr)
			assert.Empty(t, res.Data[remote.DataItemID])
		})
	}
}

// syncBuffer is a bytes.Buffer safe for one writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

// blockingReader never returns until closed.
type blockingReader struct {
	release chan struct{}
}

func (r *blockingReader) Read([]byte) (int, error) {
	<-r.release
	return 0, errors.New("closed")
}

func TestHideAll_SuppressesResult(t *testing.T) {
	in := &blockingReader{release: make(chan struct{})}
	rec := newRecorder()

	var out syncBuffer

	h := newTerminalHost(in, &out, true, "", discardLogger())
	h.results = rec.record

	require.NoError(t, h.StartPicker(pickReq(testTree())))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Select a number")
	}, 2*time.Second, 10*time.Millisecond)

	h.hideAll()
	close(in.release)

	select {
	case res := <-rec.got:
		assert.Failf(t, "unexpected host result", "%#v", res)
	case <-time.After(100 * time.Millisecond):
	}
}
