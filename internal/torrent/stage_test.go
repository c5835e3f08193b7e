package torrent_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/naiad-media/naiad/internal/database"
	"github.com/naiad-media/naiad/internal/torrent"
	"github.com/naiad-media/naiad/internal/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubManager struct{}

func (stubManager) Connect(database.DatabaseConfig) error        { return nil }
func (stubManager) GetSqlxDb() *sqlx.DB                          { return nil }
func (stubManager) WrapTx(f func(*sqlx.Tx) error) error          { return f(nil) }
func (stubManager) WrapRetryableTx(f func(*sqlx.Tx) error) error { return f(nil) }

type fakeFileStore struct {
	record      *video.VideoFile
	setInfoHash string
	setFilename string
	setCalled   bool
}

func (store *fakeFileStore) GetVideoFile(_ database.Queryable, fileID uuid.UUID) (*video.VideoFile, error) {
	if store.record == nil || store.record.ID != fileID {
		return nil, video.ErrVideoFileNotFound
	}

	return store.record, nil
}

func (store *fakeFileStore) SetFileTorrent(_ database.Queryable, fileID uuid.UUID, infoHash string, torrentFilename string) error {
	store.setCalled = true
	store.setInfoHash = infoHash
	store.setFilename = torrentFilename
	return nil
}

type fakeArtifactStore struct {
	dir       string
	discarded []string
}

func (store *fakeArtifactStore) VideoPath(filename string) string {
	return filepath.Join(store.dir, filename)
}

func (store *fakeArtifactStore) TorrentPath(filename string) string {
	return filepath.Join(store.dir, filename)
}

func (store *fakeArtifactStore) Discard(path string) error {
	store.discarded = append(store.discarded, path)
	return os.Remove(path)
}

func stageFixture(t *testing.T) (*video.Video, *video.VideoFile, *fakeArtifactStore) {
	v := &video.Video{ID: uuid.New(), Name: "holiday"}
	file := &video.VideoFile{ID: uuid.New(), VideoID: v.ID, Resolution: 720, Extension: ".mp4"}

	artifacts := &fakeArtifactStore{dir: t.TempDir()}
	source := artifacts.VideoPath(video.GenerateFilename(v.ID, file.Resolution, file.Extension))
	require.NoError(t, os.WriteFile(source, []byte("not really video data, but enough to hash"), 0o644))

	return v, file, artifacts
}

func Test_CreateTorrent_PersistsInfoHashOnReloadedRecord(t *testing.T) {
	v, file, artifacts := stageFixture(t)
	files := &fakeFileStore{record: file}

	stage := torrent.NewStage(stubManager{}, files, artifacts, []string{"wss://tracker.example.com"})
	err := stage.CreateTorrent(v, file)

	require.NoError(t, err)
	assert.True(t, files.setCalled)
	assert.Len(t, files.setInfoHash, 40)
	assert.Equal(t, video.GenerateTorrentFilename(v.ID, file.Resolution), files.setFilename)

	// The artifact itself must exist and parse back as a single-file torrent.
	info, err := torrent.ParseTorrentFile(artifacts.TorrentPath(files.setFilename))
	require.NoError(t, err)
	assert.Equal(t, files.setInfoHash, info.InfoHash)
	assert.Empty(t, artifacts.discarded)
}

// The record may be deleted while the (potentially slow) hashing runs. In
// that case the artifact is discarded and no database write happens.
func Test_CreateTorrent_DiscardsArtifactWhenRecordVanished(t *testing.T) {
	v, file, artifacts := stageFixture(t)
	files := &fakeFileStore{record: nil}

	stage := torrent.NewStage(stubManager{}, files, artifacts, nil)
	err := stage.CreateTorrent(v, file)

	require.NoError(t, err)
	assert.False(t, files.setCalled)

	torrentPath := artifacts.TorrentPath(video.GenerateTorrentFilename(v.ID, file.Resolution))
	assert.Equal(t, []string{torrentPath}, artifacts.discarded)
	assert.NoFileExists(t, torrentPath)
}

func Test_CreateTorrent_MissingSourceFileFails(t *testing.T) {
	v := &video.Video{ID: uuid.New(), Name: "holiday"}
	file := &video.VideoFile{ID: uuid.New(), VideoID: v.ID, Resolution: 720, Extension: ".mp4"}
	artifacts := &fakeArtifactStore{dir: t.TempDir()}
	files := &fakeFileStore{record: file}

	stage := torrent.NewStage(stubManager{}, files, artifacts, nil)
	err := stage.CreateTorrent(v, file)

	assert.Error(t, err)
	assert.False(t, files.setCalled)
}
