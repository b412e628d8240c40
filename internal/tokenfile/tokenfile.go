// Package tokenfile persists the OAuth2 credential of the signed-in account
// together with what the service told us about it: the account identity and
// the scopes the user actually granted. The start-up credential check reads
// the scopes to decide whether a stored token is still good enough.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// ErrNoToken is returned by UpdateToken when nothing has been saved yet.
var ErrNoToken = errors.New("tokenfile: no saved token")

// Account identifies the signed-in user.
type Account struct {
	UserID      string `json:"user_id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Name is the most readable identifier available for the account.
func (a Account) Name() string {
	switch {
	case a.Email != "":
		return a.Email
	case a.DisplayName != "":
		return a.DisplayName
	default:
		return a.UserID
	}
}

// File is the on-disk format.
type File struct {
	Token   *oauth2.Token `json:"token"`
	Account Account       `json:"account"`
	// Scopes lists the scopes granted at sign-in, as reported by the token
	// endpoint.
	Scopes []string `json:"scopes,omitempty"`
}

// HasScopes reports whether every required scope was granted. Comparison is
// case-insensitive; Graph echoes scopes back with varying case.
func (f *File) HasScopes(required []string) bool {
	for _, want := range required {
		if !slices.ContainsFunc(f.Scopes, func(got string) bool {
			return strings.EqualFold(got, want)
		}) {
			return false
		}
	}

	return true
}

// Load reads the token file at path. Returns (nil, nil) if the file does
// not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if f.Token == nil {
		return nil, fmt.Errorf("tokenfile: %s missing token field (re-login required)", path)
	}

	return &f, nil
}

// Save writes f to path atomically (write-to-temp + rename) with 0600
// permissions.
func Save(path string, f *File) error {
	if f == nil || f.Token == nil {
		return errors.New("tokenfile: refusing to save an empty token")
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// UpdateToken replaces the token after a refresh, keeping the account and
// scopes already on disk.
func UpdateToken(path string, tok *oauth2.Token) error {
	f, err := Load(path)
	if err != nil {
		return err
	}

	if f == nil {
		return ErrNoToken
	}

	f.Token = tok

	return Save(path, f)
}

// Remove deletes the token file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}
