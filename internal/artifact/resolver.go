// Package artifact turns a staged download into something the host can open:
// a content type derived from the file extension and a shareable reference
// that grants read access without exposing the file system path.
package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// FallbackContentType is handed to the opener when no type was resolved.
const FallbackContentType = "*/*"

// Issuer narrows a local path into an opaque, read-only reference.
type Issuer interface {
	Issue(ctx context.Context, localPath string) (string, error)
}

// Artifact is a downloaded file ready for handoff. ContentType is empty when
// the extension is not in the table.
type Artifact struct {
	LocalPath   string
	ContentType string
	Reference   string
}

// HasContentType reports whether a content type was resolved.
func (a Artifact) HasContentType() bool {
	return a.ContentType != ""
}

// OpenType is the content type to request a viewer for.
func (a Artifact) OpenType() string {
	if a.ContentType == "" {
		return FallbackContentType
	}

	return a.ContentType
}

// Resolver derives artifacts from local paths.
type Resolver struct {
	issuer Issuer
}

// NewResolver creates a Resolver that obtains references from issuer.
func NewResolver(issuer Issuer) *Resolver {
	return &Resolver{issuer: issuer}
}

// Resolve builds the artifact for localPath. An unknown extension is not an
// error. Resolving the same path twice yields equal artifacts provided the
// issuer is deterministic.
func (r *Resolver) Resolve(ctx context.Context, localPath string) (Artifact, error) {
	if localPath == "" {
		return Artifact{}, fmt.Errorf("artifact: empty path")
	}

	ct, _ := ContentTypeForPath(localPath)

	ref, err := r.issuer.Issue(ctx, localPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact: issuing reference: %w", err)
	}

	return Artifact{
		LocalPath:   localPath,
		ContentType: ct,
		Reference:   ref,
	}, nil
}

// ContentTypeForPath looks up the MIME type for path's extension.
func ContentTypeForPath(path string) (string, bool) {
	ext := Extension(path)
	if ext == "" {
		return "", false
	}

	ct, ok := contentTypes[ext]

	return ct, ok
}

// Extension returns the lower-case suffix after the last dot of path's base
// name, or "" when there is none. "archive.tar.gz" yields "gz"; dotfiles such
// as ".bashrc" have no extension.
func Extension(path string) string {
	base := filepath.Base(path)

	i := strings.LastIndexByte(base, '.')
	if i <= 0 || i == len(base)-1 {
		return ""
	}

	return strings.ToLower(base[i+1:])
}
