package tokenfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testFile() *File {
	return &File{
		Token: &oauth2.Token{
			AccessToken:  "access-123",
			RefreshToken: "refresh-456",
			TokenType:    "Bearer",
			Expiry:       time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Account: Account{UserID: "u1", Email: "alice@example.com", DisplayName: "Alice"},
		Scopes:  []string{"Files.Read", "offline_access", "User.Read"},
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	f, err := Load("/nonexistent/path/token.json")
	assert.Nil(t, f)
	assert.NoError(t, err)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")

	require.NoError(t, Save(path, testFile()))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "access-123", f.Token.AccessToken)
	assert.Equal(t, "refresh-456", f.Token.RefreshToken)
	assert.True(t, f.Token.Expiry.Equal(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "alice@example.com", f.Account.Email)
	assert.Equal(t, []string{"Files.Read", "offline_access", "User.Read"}, f.Scopes)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestSave_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")

	require.NoError(t, Save(path, testFile()))
	require.NoError(t, Save(path, testFile()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "token.json", entries[0].Name())
}

func TestSave_RejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	assert.Error(t, Save(path, nil))
	assert.Error(t, Save(path, &File{}))
}

func TestLoad_MissingTokenField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"old"}`), 0o600))

	f, err := Load(path)
	assert.Nil(t, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing token field")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestUpdateToken_KeepsAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, Save(path, testFile()))

	require.NoError(t, UpdateToken(path, &oauth2.Token{AccessToken: "fresh", TokenType: "Bearer"}))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", f.Token.AccessToken)
	assert.Equal(t, "alice@example.com", f.Account.Email)
	assert.Len(t, f.Scopes, 3)
}

func TestUpdateToken_NoFile(t *testing.T) {
	err := UpdateToken(filepath.Join(t.TempDir(), "token.json"), &oauth2.Token{AccessToken: "x"})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, Save(path, testFile()))

	require.NoError(t, Remove(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, Remove(path), "removing a missing file is not an error")
}

func TestHasScopes(t *testing.T) {
	f := testFile()

	assert.True(t, f.HasScopes([]string{"files.read", "offline_access"}))
	assert.True(t, f.HasScopes(nil))
	assert.False(t, f.HasScopes([]string{"Files.ReadWrite"}))
	assert.False(t, (&File{}).HasScopes([]string{"Files.Read"}))
}

func TestAccountName(t *testing.T) {
	assert.Equal(t, "alice@example.com", Account{Email: "alice@example.com", DisplayName: "Alice"}.Name())
	assert.Equal(t, "Alice", Account{DisplayName: "Alice", UserID: "u"}.Name())
	assert.Equal(t, "u", Account{UserID: "u"}.Name())
}
