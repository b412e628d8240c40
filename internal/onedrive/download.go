package onedrive

import (
	"context"
	"crypto/sha1" //nolint:gosec // OneDrive reports SHA-1 for some accounts; used for integrity only
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/onedrive-open/internal/graph"
	"github.com/tonimelisma/onedrive-open/pkg/quickxorhash"
)

const (
	partialSuffix = ".partial"
	fallbackName  = "download"
)

var (
	errSizeMismatch = errors.New("onedrive: downloaded size mismatch")
	errHashMismatch = errors.New("onedrive: downloaded content hash mismatch")
)

// verifier checks downloaded content against a hash reported by the service.
type verifier struct {
	name   string
	h      hash.Hash
	expect string
	encode func([]byte) string
}

// selectVerifier picks the strongest hash the service reported, preferring
// QuickXorHash, then SHA-256, then SHA-1. Returns nil when none is reported.
func selectVerifier(item *graph.Item) *verifier {
	switch {
	case item.QuickXorHash != "":
		return &verifier{
			name:   "quickxor",
			h:      quickxorhash.New(),
			expect: item.QuickXorHash,
			encode: base64.StdEncoding.EncodeToString,
		}
	case item.SHA256Hash != "":
		return &verifier{name: "sha256", h: sha256.New(), expect: item.SHA256Hash, encode: hex.EncodeToString}
	case item.SHA1Hash != "":
		return &verifier{name: "sha1", h: sha1.New(), expect: item.SHA1Hash, encode: hex.EncodeToString} //nolint:gosec // integrity only
	default:
		return nil
	}
}

func (v *verifier) check() error {
	got := v.encode(v.h.Sum(nil))
	if got != v.expect {
		return fmt.Errorf("%w: %s got %s, want %s", errHashMismatch, v.name, got, v.expect)
	}

	return nil
}

// stage downloads item into the download directory: stream to a .partial
// file, verify, then rename into place. The partial file is removed on any
// failure. Returns the final path and byte count.
func (c *Client) stage(ctx context.Context, api driveAPI, item *graph.Item) (string, int64, error) {
	if err := os.MkdirAll(c.downloadDir, 0o700); err != nil { //nolint:mnd // owner-only dir perms
		return "", 0, fmt.Errorf("onedrive: creating download dir: %w", err)
	}

	target := filepath.Join(c.downloadDir, localName(item.Name))
	partial := target + partialSuffix

	n, err := c.downloadToPartial(ctx, api, item, partial)
	if err != nil {
		os.Remove(partial)
		return "", 0, err
	}

	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)
		return "", 0, fmt.Errorf("onedrive: renaming partial to %s: %w", target, err)
	}

	c.logger.Info("download staged",
		slog.String("item_id", item.ID),
		slog.String("path", target),
		slog.Int64("size", n),
	)

	return target, n, nil
}

func (c *Client) downloadToPartial(ctx context.Context, api driveAPI, item *graph.Item, partial string) (int64, error) {
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:mnd // owner-only file perms
	if err != nil {
		return 0, fmt.Errorf("onedrive: creating partial file: %w", err)
	}

	v := selectVerifier(item)

	var w io.Writer = f
	if v != nil {
		w = io.MultiWriter(f, v.h)
	}

	var n int64

	// Graph omits the download URL for some zero-byte files; there is
	// nothing to fetch, so the empty partial file is the content.
	if item.Size == 0 && item.DownloadURL == "" {
		c.logger.Debug("empty item has no download URL, staging empty file", slog.String("item_id", item.ID))
	} else {
		n, err = api.Download(ctx, item, limitWriter(ctx, c.limiter, w))
	}

	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("onedrive: closing partial file: %w", closeErr)
	}

	if err != nil {
		return n, err
	}

	if n != item.Size {
		return n, fmt.Errorf("%w: got %d bytes, want %d", errSizeMismatch, n, item.Size)
	}

	if v == nil {
		c.logger.Debug("no content hash reported, skipping verification", slog.String("item_id", item.ID))
		return n, nil
	}

	if err := v.check(); err != nil {
		return n, err
	}

	return n, nil
}

// localName turns a remote file name into a safe single path element:
// NFC-normalized, with separators and control characters replaced.
func localName(name string) string {
	name = norm.NFC.String(name)

	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 || r == 0x7f {
			return '_'
		}

		return r
	}, name)

	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return fallbackName
	}

	return name
}
