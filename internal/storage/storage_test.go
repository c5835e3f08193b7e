package storage_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/naiad-media/naiad/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*storage.Store, string) {
	base := t.TempDir()
	store, err := storage.New(storage.Paths{
		Videos:     filepath.Join(base, "videos"),
		Torrents:   filepath.Join(base, "torrents"),
		Thumbnails: filepath.Join(base, "thumbnails"),
		Previews:   filepath.Join(base, "previews"),
		Captions:   filepath.Join(base, "captions"),
	})
	require.NoError(t, err)

	return store, base
}

func Test_SecureName_PreservesExtensionOnly(t *testing.T) {
	name, err := storage.SecureName("../../etc/passwd my upload.torrent")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(name, ".torrent"))
	assert.NotContains(t, name, "/")
	assert.NotContains(t, name, " ")

	other, err := storage.SecureName("../../etc/passwd my upload.torrent")
	require.NoError(t, err)
	assert.NotEqual(t, name, other)
}

func Test_Move_RelocatesFile(t *testing.T) {
	store, base := newStore(t)
	src := filepath.Join(t.TempDir(), "upload.mp4")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	dst := filepath.Join(base, "videos", "dest.mp4")
	require.NoError(t, store.Move(src, dst))

	assert.NoFileExists(t, src)
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

// A transaction retry re-runs the move after the source is already gone; as
// long as the destination holds the content this must succeed.
func Test_Move_RepeatAfterCompletionSucceeds(t *testing.T) {
	store, base := newStore(t)
	src := filepath.Join(t.TempDir(), "upload.mp4")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	dst := filepath.Join(base, "videos", "dest.mp4")
	require.NoError(t, store.Move(src, dst))
	require.NoError(t, store.Move(src, dst))

	assert.FileExists(t, dst)
}

func Test_Move_MissingSourceAndDestinationFails(t *testing.T) {
	store, base := newStore(t)

	err := store.Move(filepath.Join(base, "nope.mp4"), filepath.Join(base, "videos", "dest.mp4"))

	assert.Error(t, err)
}

func Test_Discard_ToleratesMissingFile(t *testing.T) {
	store, base := newStore(t)

	assert.NoError(t, store.Discard(filepath.Join(base, "videos", "never-existed.mp4")))
}
