package graph

import "time"

// Item is a drive item (file, folder, or package) normalized from the API
// response.
type Item struct {
	ID           string
	Name         string
	ParentID     string
	Size         int64
	ETag         string
	IsFolder     bool
	IsPackage    bool // OneNote notebooks and similar; no downloadable content
	MimeType     string
	QuickXorHash string // base64, reported for all account types
	SHA1Hash     string // hex, lower case
	SHA256Hash   string // hex, lower case
	ModifiedAt   time.Time
	ChildCount   int
	// DownloadURL is pre-authenticated and short-lived. Never log it.
	DownloadURL string
}

// User is the signed-in account as reported by /me.
type User struct {
	ID          string
	DisplayName string
	Email       string
}
