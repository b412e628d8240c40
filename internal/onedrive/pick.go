package onedrive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tonimelisma/onedrive-open/internal/artifact"
	"github.com/tonimelisma/onedrive-open/internal/event"
	"github.com/tonimelisma/onedrive-open/internal/graph"
	"github.com/tonimelisma/onedrive-open/internal/remote"
)

var (
	errNotAFile     = errors.New("onedrive: picked item has no downloadable content")
	errPickerFailed = errors.New("onedrive: picker failed")
)

// PickFiles asks the host to show a picker and downloads the chosen file.
// The outcome arrives once the host reports back through HandleHostResult.
func (c *Client) PickFiles(ctx context.Context, filter *remote.Filter) <-chan event.Event {
	if c.launcher == nil {
		return event.Deliver(event.Fail(event.OpTransfer, event.KindTransfer, errNoLauncher))
	}

	c.mu.Lock()

	if c.api == nil {
		c.mu.Unlock()
		return event.Deliver(event.Fail(event.OpTransfer, event.KindAuth, errNotSignedIn))
	}

	if c.pick != nil {
		c.mu.Unlock()
		return event.Deliver(event.Busy(event.OpTransfer))
	}

	pickCtx, cancel := context.WithCancel(ctx)
	p := &pendingPick{out: event.NewOnce(), ctx: pickCtx, cancel: cancel, api: c.api}
	c.pick = p
	c.mu.Unlock()

	req := c.pickRequest(filter, p.api)

	c.logger.Info("starting picker",
		slog.String("title", req.Title),
		slog.Int("content_types", len(req.ContentTypes)),
		slog.String("start_folder", req.StartFolder),
	)

	if err := c.launcher.StartPicker(req); err != nil {
		c.finishPick(p, event.Fail(event.OpTransfer, event.KindTransfer, fmt.Errorf("onedrive: starting picker: %w", err)))
		return p.out.C()
	}

	// Cancellation while the picker is still open. Once a download has
	// started it reports cancellation itself.
	go func() {
		<-pickCtx.Done()

		c.mu.Lock()
		waiting := c.pick == p && !p.started
		c.mu.Unlock()

		if waiting {
			c.finishPick(p, event.Cancelled{Op: event.OpTransfer})
		}
	}()

	return p.out.C()
}

// pickRequest applies the filter over the service defaults.
func (c *Client) pickRequest(filter *remote.Filter, api driveAPI) remote.PickRequest {
	req := remote.PickRequest{
		Title:        c.service.ApplicationLabel(),
		ContentTypes: c.service.AcceptedContentTypes(),
		Browser:      &browser{api: api},
	}

	if filter == nil {
		return req
	}

	if len(filter.ContentTypes) > 0 {
		types := make([]string, 0, len(filter.ContentTypes))
		for _, ct := range filter.ContentTypes {
			types = append(types, strings.ToLower(strings.TrimSpace(ct)))
		}

		req.ContentTypes = types
	}

	req.StartFolder = filter.StartFolder

	return req
}

func (c *Client) handlePickResult(res remote.HostResult) {
	c.mu.Lock()
	p := c.pick

	if p == nil || p.started {
		c.mu.Unlock()
		c.logger.Warn("ignoring picker result with no pick waiting")

		return
	}

	if res.ResultCode == remote.ResultError {
		c.mu.Unlock()

		reason := res.Data[remote.DataError]
		c.logger.Warn("picker failed", slog.String("error", reason))
		c.finishPick(p, event.Fail(event.OpTransfer, event.KindTransfer, fmt.Errorf("%w: %s", errPickerFailed, reason)))

		return
	}

	itemID := res.Data[remote.DataItemID]
	if res.ResultCode == remote.ResultCanceled || itemID == "" {
		c.mu.Unlock()
		c.logger.Info("pick canceled")
		c.finishPick(p, event.Cancelled{Op: event.OpTransfer})

		return
	}

	p.started = true
	c.mu.Unlock()

	go c.fetch(p, itemID)
}

// fetch downloads the picked item and resolves the pick.
func (c *Client) fetch(p *pendingPick, itemID string) {
	item, err := p.api.GetItem(p.ctx, itemID)
	if err == nil && (item.IsFolder || item.IsPackage) {
		err = fmt.Errorf("%w: %q", errNotAFile, item.Name)
	}

	var path string

	var size int64

	if err == nil {
		path, size, err = c.stage(p.ctx, p.api, item)
	}

	switch {
	case err == nil:
		c.finishPick(p, event.Downloaded{Path: path, Name: item.Name, Size: size, RemoteType: item.MimeType})
	case p.ctx.Err() != nil:
		c.logger.Info("download canceled", slog.String("item_id", itemID))
		c.finishPick(p, event.Cancelled{Op: event.OpTransfer})
	default:
		c.logger.Warn("download failed", slog.String("item_id", itemID), slog.String("error", err.Error()))
		c.finishPick(p, event.Fail(event.OpTransfer, event.KindTransfer, err))
	}
}

// finishPick clears p and delivers ev. Only the first call for p delivers.
func (c *Client) finishPick(p *pendingPick, ev event.Event) {
	c.mu.Lock()
	if c.pick == p {
		c.pick = nil
	}
	c.mu.Unlock()

	p.out.Emit(ev)
	p.cancel()
}

// browser adapts the drive API to remote.Browser for the host's picker.
type browser struct {
	api driveAPI
}

func (b *browser) List(ctx context.Context, folderID string) ([]remote.Entry, error) {
	if folderID == "" {
		folderID = graph.RootID
	}

	items, err := b.api.ListChildren(ctx, folderID)
	if err != nil {
		return nil, err
	}

	entries := make([]remote.Entry, 0, len(items))

	for i := range items {
		if items[i].IsPackage {
			continue
		}

		entries = append(entries, toEntry(&items[i]))
	}

	// Folders first, then by name.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsFolder != entries[j].IsFolder {
			return entries[i].IsFolder
		}

		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	return entries, nil
}

func (b *browser) Lookup(ctx context.Context, remotePath string) (remote.Entry, error) {
	item, err := b.api.GetItemByPath(ctx, remotePath)
	if err != nil {
		return remote.Entry{}, err
	}

	return toEntry(item), nil
}

// toEntry converts an item, guessing the type from the extension when the
// service reports none.
func toEntry(item *graph.Item) remote.Entry {
	ct := item.MimeType
	if ct == "" && !item.IsFolder {
		ct, _ = artifact.ContentTypeForPath(item.Name)
	}

	return remote.Entry{
		ID:          item.ID,
		Name:        item.Name,
		ContentType: ct,
		Size:        item.Size,
		IsFolder:    item.IsFolder,
	}
}
