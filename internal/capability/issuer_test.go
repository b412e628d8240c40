package capability

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T, store Store) *Issuer {
	t.Helper()

	if store == nil {
		store = NewMemoryStore()
	}

	iss, err := NewIssuer("OneDrive Open", []byte("0123456789abcdef0123456789abcdef"), store, nil)
	require.NoError(t, err)

	return iss
}

func TestAuthority(t *testing.T) {
	assert.Equal(t, "onedrive-open.provider", Authority("OneDrive Open"))
	assert.Equal(t, "com.example.app.provider", Authority(" com.example.app "))
	assert.Equal(t, "app.provider", Authority(""))
}

func TestNewIssuer_Validation(t *testing.T) {
	_, err := NewIssuer("x", nil, NewMemoryStore(), nil)
	assert.Error(t, err)

	_, err = NewIssuer("x", []byte("k"), nil, nil)
	assert.Error(t, err)
}

func TestIssue_FormatAndRedeem(t *testing.T) {
	iss := newTestIssuer(t, nil)
	path := filepath.Join(t.TempDir(), "doc.pdf")

	ref, err := iss.Issue(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "content://onedrive-open.provider/"))
	assert.NotContains(t, ref, "doc.pdf", "reference must not expose the path")

	got, err := iss.Redeem(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestIssue_Deterministic(t *testing.T) {
	iss := newTestIssuer(t, nil)

	calls := 0
	iss.now = func() time.Time {
		calls++
		return time.Unix(int64(calls), 0)
	}

	path := filepath.Join(t.TempDir(), "a.png")

	ref1, err := iss.Issue(context.Background(), path)
	require.NoError(t, err)

	ref2, err := iss.Issue(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, ref1, ref2)

	grants, err := iss.List(context.Background())
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, time.Unix(1, 0), grants[0].IssuedAt, "re-issue keeps the original issue time")
}

func TestIssue_DifferentPathsDiffer(t *testing.T) {
	iss := newTestIssuer(t, nil)
	dir := t.TempDir()

	a, err := iss.Issue(context.Background(), filepath.Join(dir, "a"))
	require.NoError(t, err)

	b, err := iss.Issue(context.Background(), filepath.Join(dir, "b"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestIssue_EmptyPath(t *testing.T) {
	_, err := newTestIssuer(t, nil).Issue(context.Background(), "")
	assert.Error(t, err)
}

func TestRedeem_Invalid(t *testing.T) {
	iss := newTestIssuer(t, nil)

	ref, err := iss.Issue(context.Background(), filepath.Join(t.TempDir(), "x.txt"))
	require.NoError(t, err)

	other, err := NewIssuer("OneDrive Open", []byte("another-key-another-key-another!!"), NewMemoryStore(), nil)
	require.NoError(t, err)

	foreign, err := NewIssuer("Other App", []byte("0123456789abcdef0123456789abcdef"), NewMemoryStore(), nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		iss  *Issuer
		ref  string
	}{
		{"wrong scheme", iss, strings.Replace(ref, "content://", "file://", 1)},
		{"missing token", iss, "content://onedrive-open.provider/"},
		{"garbage token", iss, "content://onedrive-open.provider/not-a-jwt"},
		{"tampered", iss, tamperSignature(ref)},
		{"wrong key", other, ref},
		{"wrong authority", foreign, ref},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.iss.Redeem(context.Background(), tt.ref)
			assert.ErrorIs(t, err, ErrInvalidReference)
		})
	}
}

// tamperSignature changes the first character of the JWT signature.
func tamperSignature(ref string) string {
	i := strings.LastIndexByte(ref, '.') + 1
	c := byte('A')
	if ref[i] == 'A' {
		c = 'B'
	}

	return ref[:i] + string(c) + ref[i+1:]
}

func TestRedeem_WrongScope(t *testing.T) {
	iss := newTestIssuer(t, nil)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{ID: "g", Issuer: iss.Authority()},
		Scope:            "write",
	})
	signed, err := tok.SignedString(iss.key)
	require.NoError(t, err)

	_, err = iss.Redeem(context.Background(), "content://"+iss.Authority()+"/"+signed)
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestRevoke(t *testing.T) {
	iss := newTestIssuer(t, nil)

	ref, err := iss.Issue(context.Background(), filepath.Join(t.TempDir(), "x.txt"))
	require.NoError(t, err)

	require.NoError(t, iss.Revoke(context.Background(), ref))

	_, err = iss.Redeem(context.Background(), ref)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, iss.Revoke(context.Background(), ref), ErrNotFound)
}

func TestRevoke_ByGrantID(t *testing.T) {
	iss := newTestIssuer(t, nil)

	_, err := iss.Issue(context.Background(), filepath.Join(t.TempDir(), "x.txt"))
	require.NoError(t, err)

	grants, err := iss.List(context.Background())
	require.NoError(t, err)
	require.Len(t, grants, 1)

	require.NoError(t, iss.Revoke(context.Background(), grants[0].ID))

	grants, err = iss.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestIssuer_WithSQLiteStore(t *testing.T) {
	store, err := OpenSQLiteStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	iss := newTestIssuer(t, store)
	path := filepath.Join(t.TempDir(), "report.pdf")

	ref, err := iss.Issue(context.Background(), path)
	require.NoError(t, err)

	got, err := iss.Redeem(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "grants.key")

	k1, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	k2, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestLoadOrCreateKey_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.key")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := LoadOrCreateKey(path)
	assert.Error(t, err)
}
