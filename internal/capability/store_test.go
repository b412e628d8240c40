package capability

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories runs the same contract against every Store implementation.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()

	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := OpenSQLiteStore(context.Background(), ":memory:", nil)
			require.NoError(t, err)

			return s
		},
	}
}

func TestStore_Contract(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			t.Cleanup(func() { s.Close() })

			t1 := time.Unix(100, 0)
			t2 := time.Unix(200, 0)

			require.NoError(t, s.Put(ctx, Grant{ID: "b", Path: "/tmp/b", IssuedAt: t2}))
			require.NoError(t, s.Put(ctx, Grant{ID: "a", Path: "/tmp/a", IssuedAt: t1}))

			g, err := s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "/tmp/a", g.Path)
			assert.True(t, g.IssuedAt.Equal(t1))

			// Upsert keeps the original issue time.
			require.NoError(t, s.Put(ctx, Grant{ID: "a", Path: "/tmp/a2", IssuedAt: time.Unix(999, 0)}))

			g, err = s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "/tmp/a2", g.Path)
			assert.True(t, g.IssuedAt.Equal(t1))

			list, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a", list[0].ID)
			assert.Equal(t, "b", list[1].ID)

			require.NoError(t, s.Delete(ctx, "a"))
			assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotFound)

			_, err = s.Get(ctx, "a")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "grants.db")

	s, err := OpenSQLiteStore(ctx, dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, Grant{ID: "x", Path: "/tmp/x", IssuedAt: time.Unix(5, 0)}))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(ctx, dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	g, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", g.Path)
}
