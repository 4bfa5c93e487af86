package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(LocalStoreOptions{Dir: filepath.Join(t.TempDir(), "uploads")})
	require.NoError(t, err)
	return store
}

func TestNewLocalStoreRequiresDir(t *testing.T) {
	_, err := NewLocalStore(LocalStoreOptions{Dir: "  "})
	require.Error(t, err)
}

func TestLocalStore_SaveLocateRemove(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	n, err := store.Save(ctx, "abc.mp4", strings.NewReader("frames"))
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	p, err := store.Locate("abc.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Dir(), "abc.mp4"), p)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))

	require.NoError(t, store.Remove("abc.mp4"))
	_, err = store.Locate("abc.mp4")
	require.ErrorIs(t, err, ErrArtifactNotFound)

	// Removing twice is fine.
	require.NoError(t, store.Remove("abc.mp4"))
}

func TestLocalStore_SaveLeavesNoTempFiles(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Save(ctx, "abc.mp4", strings.NewReader("frames"))
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStore_RejectsEscapingRefs(t *testing.T) {
	store := newStore(t)
	for _, ref := range []string{"", ".", "..", "../x.mp4", "a/b.mp4", `a\b.mp4`} {
		_, err := store.Save(context.Background(), ref, strings.NewReader("x"))
		require.ErrorIs(t, err, ErrInvalidRef, "ref %q", ref)
		_, err = store.Locate(ref)
		require.ErrorIs(t, err, ErrInvalidRef, "ref %q", ref)
		require.ErrorIs(t, store.Remove(ref), ErrInvalidRef, "ref %q", ref)
	}
}

func TestLocalStore_LocateDirectory(t *testing.T) {
	store := newStore(t)
	require.NoError(t, os.Mkdir(filepath.Join(store.Dir(), "sub"), 0o750))
	_, err := store.Locate("sub")
	require.ErrorIs(t, err, ErrArtifactNotFound)
}
