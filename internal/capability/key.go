package capability

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// KeySize is the length of a generated signing key.
const KeySize = 32

const (
	keyDirPerms  = 0o700
	keyFilePerms = 0o600
)

// LoadOrCreateKey reads the signing key at path, generating a random one
// with owner-only permissions when the file does not exist yet.
func LoadOrCreateKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) == 0 {
			return nil, fmt.Errorf("capability: key file %s is empty", path)
		}

		return key, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("capability: reading key file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), keyDirPerms); err != nil {
		return nil, fmt.Errorf("capability: creating key directory: %w", err)
	}

	key = make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("capability: generating key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, keyFilePerms)
	if errors.Is(err, fs.ErrExist) {
		// Another process created it first.
		return LoadOrCreateKey(path)
	}

	if err != nil {
		return nil, fmt.Errorf("capability: creating key file: %w", err)
	}

	if _, err := f.Write(key); err != nil {
		f.Close()
		os.Remove(path)

		return nil, fmt.Errorf("capability: writing key file: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("capability: closing key file: %w", err)
	}

	return key, nil
}
