package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ErrNoDownloadURL is returned for items without a pre-authenticated
// download URL: folders, packages, and some zero-byte files.
var ErrNoDownloadURL = errors.New("graph: item has no download URL")

// Download streams the content of item to w and returns the number of bytes
// written. The content comes straight from the item's pre-authenticated URL,
// so no Authorization header is sent. Only the request is retried; a failure
// while streaming is returned to the caller.
func (c *Client) Download(ctx context.Context, item *Item, w io.Writer) (int64, error) {
	if item.DownloadURL == "" {
		c.logger.Warn("item has no download URL",
			slog.String("item_id", item.ID),
			slog.Bool("is_folder", item.IsFolder),
			slog.Bool("is_package", item.IsPackage),
		)

		return 0, ErrNoDownloadURL
	}

	c.logger.Info("downloading item",
		slog.String("item_id", item.ID),
		slog.Int64("size", item.Size),
	)

	resp, err := c.retry(ctx, http.MethodGet, "download:"+item.ID, func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, item.DownloadURL, http.NoBody)
		if reqErr != nil {
			return nil, fmt.Errorf("graph: creating download request: %w", reqErr)
		}

		req.Header.Set("User-Agent", c.userAgent)

		return req, nil
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		c.logger.Error("streaming download content failed",
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
			slog.Int64("bytes_before_error", n),
		)

		return n, fmt.Errorf("graph: streaming download content: %w", err)
	}

	c.logger.Debug("download complete",
		slog.String("item_id", item.ID),
		slog.Int64("bytes_written", n),
	)

	return n, nil
}
