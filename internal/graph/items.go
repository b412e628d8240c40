package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// listChildrenPageSize is the $top value for ListChildren requests.
// 200 is the maximum allowed by the Graph API for drive item collections.
const listChildrenPageSize = 200

// RootID addresses the root folder of the default drive.
const RootID = "root"

// encodePathSegments URL-encodes each segment of a slash-separated path so
// characters like #, ? and spaces survive interpolation into a URL.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// driveItemResponse mirrors the Graph API driveItem JSON.
type driveItemResponse struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Size                 int64            `json:"size"`
	ETag                 string           `json:"eTag"`
	LastModifiedDateTime string           `json:"lastModifiedDateTime"`
	ParentReference      *parentRef       `json:"parentReference"`
	File                 *fileFacet       `json:"file"`
	Folder               *folderFacet     `json:"folder"`
	Package              *json.RawMessage `json:"package"`
	DownloadURL          string           `json:"@microsoft.graph.downloadUrl"` //nolint:tagliatelle // Graph API annotation key
}

type parentRef struct {
	ID string `json:"id"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA1Hash     string `json:"sha1Hash"`
	SHA256Hash   string `json:"sha256Hash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type listChildrenResponse struct {
	Value    []driveItemResponse `json:"value"`
	NextLink string              `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

func (d *driveItemResponse) toItem() Item {
	item := Item{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		ETag:        d.ETag,
		IsFolder:    d.Folder != nil,
		IsPackage:   d.Package != nil,
		DownloadURL: d.DownloadURL,
	}

	if d.ParentReference != nil {
		item.ParentID = d.ParentReference.ID
	}

	if d.Folder != nil {
		item.ChildCount = d.Folder.ChildCount
	}

	if d.File != nil {
		item.MimeType = d.File.MimeType

		if d.File.Hashes != nil {
			item.QuickXorHash = d.File.Hashes.QuickXorHash
			// Graph reports hex hashes in upper case.
			item.SHA1Hash = strings.ToLower(d.File.Hashes.SHA1Hash)
			item.SHA256Hash = strings.ToLower(d.File.Hashes.SHA256Hash)
		}
	}

	if t, err := time.Parse(time.RFC3339, d.LastModifiedDateTime); err == nil {
		item.ModifiedAt = t
	}

	return item
}

func (c *Client) fetchItem(ctx context.Context, apiPath string) (*Item, error) {
	resp, err := c.Do(ctx, http.MethodGet, apiPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dir driveItemResponse
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return nil, fmt.Errorf("graph: decoding item response: %w", err)
	}

	item := dir.toItem()

	return &item, nil
}

// GetItem retrieves a drive item of the default drive by ID.
func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	c.logger.Debug("getting item", slog.String("item_id", itemID))

	return c.fetchItem(ctx, "/me/drive/items/"+url.PathEscape(itemID))
}

// GetItemByPath retrieves a drive item by its path relative to the drive
// root. Leading and trailing slashes are ignored; "" and "/" address the
// root itself.
func (c *Client) GetItemByPath(ctx context.Context, remotePath string) (*Item, error) {
	remotePath = strings.Trim(remotePath, "/")

	c.logger.Debug("getting item by path", slog.String("path", remotePath))

	if remotePath == "" {
		return c.fetchItem(ctx, "/me/drive/root")
	}

	return c.fetchItem(ctx, "/me/drive/root:/"+encodePathSegments(remotePath)+":")
}

// ListChildren returns all children of a folder, following pagination.
func (c *Client) ListChildren(ctx context.Context, folderID string) ([]Item, error) {
	apiPath := fmt.Sprintf("/me/drive/items/%s/children?$top=%d", url.PathEscape(folderID), listChildrenPageSize)

	c.logger.Debug("listing children", slog.String("folder_id", folderID))

	var items []Item

	for page := 1; apiPath != ""; page++ {
		pageItems, next, err := c.listChildrenPage(ctx, apiPath, page)
		if err != nil {
			return nil, err
		}

		items = append(items, pageItems...)
		apiPath = next
	}

	c.logger.Debug("listed children",
		slog.String("folder_id", folderID),
		slog.Int("total_items", len(items)),
	)

	return items, nil
}

func (c *Client) listChildrenPage(ctx context.Context, path string, page int) ([]Item, string, error) {
	resp, err := c.Do(ctx, http.MethodGet, path)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var lcr listChildrenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lcr); err != nil {
		return nil, "", fmt.Errorf("graph: decoding children response: %w", err)
	}

	items := make([]Item, 0, len(lcr.Value))
	for i := range lcr.Value {
		items = append(items, lcr.Value[i].toItem())
	}

	c.logger.Debug("fetched children page",
		slog.Int("page", page),
		slog.Int("count", len(items)),
	)

	if lcr.NextLink == "" {
		return items, "", nil
	}

	next, err := c.stripBaseURL(lcr.NextLink)
	if err != nil {
		return nil, "", err
	}

	return items, next, nil
}

// stripBaseURL turns a nextLink into a path for Do. Links pointing anywhere
// other than the configured base URL are rejected so the bearer token is
// never sent elsewhere.
func (c *Client) stripBaseURL(fullURL string) (string, error) {
	if !strings.HasPrefix(fullURL, c.baseURL) {
		return "", fmt.Errorf("graph: nextLink URL %q does not match base URL %q", fullURL, c.baseURL)
	}

	return fullURL[len(c.baseURL):], nil
}
