// Package remote defines the contract between the session core and a remote
// file-storage client: asynchronous sign-in, file pick/download and logout,
// plus the host round-trip used by multi-step flows (sign-in prompts, file
// pickers). Concrete clients live in their own packages (see onedrive/).
package remote

import (
	"context"
	"slices"
	"strings"

	"github.com/tonimelisma/onedrive-open/internal/event"
)

// Client is a remote storage client. Every asynchronous method returns a
// completion handle that yields at most one event. CheckLoginStatus may close
// its handle without an event when no valid credential exists; the other
// methods always deliver one terminal event unless the process exits first.
// Clients do not retry on the caller's behalf.
type Client interface {
	CheckLoginStatus(ctx context.Context) <-chan event.Event
	Auth(ctx context.Context) <-chan event.Event
	Logout() error
	PickFiles(ctx context.Context, filter *Filter) <-chan event.Event
	HandleHostResult(res HostResult)
}

// Filter narrows a pick. A nil filter, or one with no content types, falls
// back to the client's ServiceConfig.
type Filter struct {
	ContentTypes []string
	StartFolder  string // remote folder path; empty = drive root
}

// RequestCode tags a host round-trip so the result can be routed back to the
// flow that started it.
type RequestCode int

// Request codes.
const (
	RequestOpenItem RequestCode = 100
	RequestSignIn   RequestCode = 101
)

func (c RequestCode) String() string {
	switch c {
	case RequestOpenItem:
		return "open-item"
	case RequestSignIn:
		return "sign-in"
	default:
		return "unknown"
	}
}

// ResultCode is the host's verdict for a round-trip.
type ResultCode int

// Result codes.
const (
	ResultCanceled ResultCode = iota
	ResultOK
	// ResultError means the host could not complete the round-trip; the
	// reason is in Data[DataError].
	ResultError
)

// Data keys carried in HostResult.Data.
const (
	DataItemID = "item_id"
	DataError  = "error"
)

// HostResult is delivered by the host when a launched prompt or picker
// finishes. Hosts forward it verbatim; only the client interprets it.
type HostResult struct {
	RequestCode RequestCode
	ResultCode  ResultCode
	Data        map[string]string
}

// Launcher is implemented by the host. Both calls return once the prompt or
// picker has been shown; outcomes come back through Client.HandleHostResult.
type Launcher interface {
	PromptSignIn(p SignInPrompt) error
	StartPicker(req PickRequest) error
}

// SignInPrompt tells the user how to authorize. UserCode is empty for
// browser-based flows.
type SignInPrompt struct {
	URL      string
	UserCode string
}

// PickRequest describes the picker the host should show.
type PickRequest struct {
	Title        string
	ContentTypes []string
	StartFolder  string
	Browser      Browser
}

// Accepts reports whether a file of contentType may be picked. Folders are
// always navigable and are not filtered here.
func (r PickRequest) Accepts(contentType string) bool {
	if len(r.ContentTypes) == 0 {
		return true
	}

	return slices.Contains(r.ContentTypes, strings.ToLower(contentType))
}

// Browser lets a picker navigate the remote drive.
type Browser interface {
	// List returns the children of folderID; empty folderID is the root.
	List(ctx context.Context, folderID string) ([]Entry, error)
	// Lookup resolves a slash-separated path relative to the root.
	Lookup(ctx context.Context, remotePath string) (Entry, error)
}

// Entry is one item shown by a picker.
type Entry struct {
	ID          string
	Name        string
	ContentType string
	Size        int64
	IsFolder    bool
}

// ServiceConfig is the immutable service description handed to a client at
// construction. Use NewServiceConfig; the zero value accepts nothing.
type ServiceConfig struct {
	label string
	types []string
}

// NewServiceConfig builds a ServiceConfig. contentTypes are lower-cased,
// trimmed and de-duplicated; order of first appearance is kept.
func NewServiceConfig(applicationLabel string, contentTypes []string) ServiceConfig {
	seen := make(map[string]bool, len(contentTypes))
	types := make([]string, 0, len(contentTypes))

	for _, ct := range contentTypes {
		ct = strings.ToLower(strings.TrimSpace(ct))
		if ct == "" || seen[ct] {
			continue
		}

		seen[ct] = true
		types = append(types, ct)
	}

	return ServiceConfig{label: applicationLabel, types: types}
}

// ApplicationLabel is shown as the picker title.
func (c ServiceConfig) ApplicationLabel() string {
	return c.label
}

// AcceptedContentTypes returns a copy of the accepted MIME types.
func (c ServiceConfig) AcceptedContentTypes() []string {
	return slices.Clone(c.types)
}

// Accepts reports whether contentType is in the accepted set.
func (c ServiceConfig) Accepts(contentType string) bool {
	return slices.Contains(c.types, strings.ToLower(contentType))
}
