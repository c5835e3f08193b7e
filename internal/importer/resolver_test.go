package importer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/naiad-media/naiad/internal/artifact"
	"github.com/naiad-media/naiad/internal/database"
	"github.com/naiad-media/naiad/internal/event"
	"github.com/naiad-media/naiad/internal/extractor"
	"github.com/naiad-media/naiad/internal/importer"
	"github.com/naiad-media/naiad/internal/jobs"
	"github.com/naiad-media/naiad/internal/moderation"
	"github.com/naiad-media/naiad/internal/storage"
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

const retryableAttempts = 3

// retryingManager simulates a retryable transaction whose first attempts hit
// transient conflicts: the body is re-executed in full several times.
type retryingManager struct{}

func (retryingManager) Connect(database.DatabaseConfig) error { return nil }
func (retryingManager) GetSqlxDb() *sqlx.DB                   { return nil }
func (retryingManager) WrapTx(f func(*sqlx.Tx) error) error   { return f(nil) }
func (retryingManager) WrapRetryableTx(f func(*sqlx.Tx) error) error {
	var err error
	for attempt := 0; attempt < retryableAttempts; attempt++ {
		err = f(nil)
	}

	return err
}

type fakeCatalog struct {
	channels        map[uuid.UUID]*video.Channel
	savedVideos     []*video.Video
	savedThumbs     []*video.Thumbnail
	taggedLabels    []string
	captions        []*video.Caption
	markedChannels  []uuid.UUID
}

func (catalog *fakeCatalog) GetChannel(_ database.Queryable, channelID uuid.UUID) (*video.Channel, error) {
	channel, ok := catalog.channels[channelID]
	if !ok {
		return nil, video.ErrChannelNotFound
	}

	return channel, nil
}

func (catalog *fakeCatalog) SaveVideo(_ database.Queryable, v *video.Video) error {
	catalog.savedVideos = append(catalog.savedVideos, v)
	return nil
}

func (catalog *fakeCatalog) SaveThumbnail(_ database.Queryable, t *video.Thumbnail) error {
	catalog.savedThumbs = append(catalog.savedThumbs, t)
	return nil
}

func (catalog *fakeCatalog) UpsertTags(_ database.Queryable, labels []string) ([]video.Tag, error) {
	tags := make([]video.Tag, len(labels))
	for i, label := range labels {
		tags[i] = video.Tag{ID: uuid.New(), Label: label}
	}

	return tags, nil
}

func (catalog *fakeCatalog) SaveVideoTagAssociations(_ database.Queryable, _ uuid.UUID, tags []video.Tag) error {
	for _, tag := range tags {
		catalog.taggedLabels = append(catalog.taggedLabels, tag.Label)
	}

	return nil
}

func (catalog *fakeCatalog) SaveCaption(_ database.Queryable, c *video.Caption) error {
	catalog.captions = append(catalog.captions, c)
	return nil
}

func (catalog *fakeCatalog) MarkChannelUpdated(_ database.Queryable, channelID uuid.UUID) error {
	catalog.markedChannels = append(catalog.markedChannels, channelID)
	return nil
}

type fakeLedger struct {
	saved  []*importer.Import
	states []importer.ImportState
}

func (ledger *fakeLedger) SaveImport(_ database.Queryable, imp *importer.Import) error {
	ledger.saved = append(ledger.saved, imp)
	return nil
}

func (ledger *fakeLedger) SetImportState(_ database.Queryable, _ uuid.UUID, state importer.ImportState, _ *string) error {
	ledger.states = append(ledger.states, state)
	return nil
}

type fakeQueue struct {
	torrentJobs []jobs.ImportTorrentPayload
	magnetJobs  []jobs.ImportMagnetPayload
	urlJobs     []jobs.ImportURLPayload
	failWith    error
}

func (queue *fakeQueue) EnqueueImportTorrent(_ context.Context, payload jobs.ImportTorrentPayload) (*jobs.Envelope, error) {
	if queue.failWith != nil {
		return nil, queue.failWith
	}

	queue.torrentJobs = append(queue.torrentJobs, payload)
	return &jobs.Envelope{ID: uuid.New()}, nil
}

func (queue *fakeQueue) EnqueueImportMagnet(_ context.Context, payload jobs.ImportMagnetPayload) (*jobs.Envelope, error) {
	if queue.failWith != nil {
		return nil, queue.failWith
	}

	queue.magnetJobs = append(queue.magnetJobs, payload)
	return &jobs.Envelope{ID: uuid.New()}, nil
}

func (queue *fakeQueue) EnqueueImportURL(_ context.Context, payload jobs.ImportURLPayload) (*jobs.Envelope, error) {
	if queue.failWith != nil {
		return nil, queue.failWith
	}

	queue.urlJobs = append(queue.urlJobs, payload)
	return &jobs.Envelope{ID: uuid.New()}, nil
}

func (queue *fakeQueue) totalJobs() int {
	return len(queue.torrentJobs) + len(queue.magnetJobs) + len(queue.urlJobs)
}

type fakeExtractor struct {
	info *extractor.RemoteInfo
	err  error
}

func (ext *fakeExtractor) Extract(context.Context, string) (*extractor.RemoteInfo, error) {
	return ext.info, ext.err
}

type fakePolicy struct {
	calls int
}

func (policy *fakePolicy) AutoBlacklistIfNeeded(_ database.Queryable, _ *video.Video, _ moderation.Requester, isRemote bool, isNew bool) (bool, error) {
	policy.calls++
	return false, nil
}

type resolverFixture struct {
	resolver  *importer.Resolver
	catalog   *fakeCatalog
	ledger    *fakeLedger
	queue     *fakeQueue
	policy    *fakePolicy
	channelID uuid.UUID
	paths     storage.Paths
}

func newFixture(t *testing.T, ext extractor.Extractor, config importer.Config) *resolverFixture {
	return newFixtureWithManager(t, ext, config, stubManager{})
}

func newFixtureWithManager(t *testing.T, ext extractor.Extractor, config importer.Config, manager database.Manager) *resolverFixture {
	base := t.TempDir()
	paths := storage.Paths{
		Videos:     filepath.Join(base, "videos"),
		Torrents:   filepath.Join(base, "torrents"),
		Thumbnails: filepath.Join(base, "thumbnails"),
		Previews:   filepath.Join(base, "previews"),
		Captions:   filepath.Join(base, "captions"),
	}
	artifacts, err := storage.New(paths)
	require.NoError(t, err)

	channelID := uuid.New()
	catalog := &fakeCatalog{channels: map[uuid.UUID]*video.Channel{
		channelID: {ID: channelID, Name: "main", Local: true},
	}}
	ledger := &fakeLedger{}
	queue := &fakeQueue{}
	policy := &fakePolicy{}

	resolver := importer.NewResolver(
		config,
		manager,
		catalog,
		ledger,
		artifacts,
		artifact.NewPipeline(nil),
		ext,
		queue,
		policy,
		event.New(),
	)

	return &resolverFixture{
		resolver:  resolver,
		catalog:   catalog,
		ledger:    ledger,
		queue:     queue,
		policy:    policy,
		channelID: channelID,
		paths:     paths,
	}
}

func writeUploadedTorrent(t *testing.T, info metainfo.Info) string {
	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "upload.torrent")
	handle, err := os.Create(path)
	require.NoError(t, err)
	defer handle.Close()

	mi := metainfo.MetaInfo{InfoBytes: infoBytes}
	require.NoError(t, mi.Write(handle))

	return path
}

func Test_Resolve_RejectsZeroSources(t *testing.T) {
	fixture := newFixture(t, &fakeExtractor{}, importer.Config{})

	_, err := fixture.resolver.Resolve(context.Background(), &importer.Request{ChannelID: fixture.channelID})

	assert.ErrorIs(t, err, importer.ErrAmbiguousSource)
	assert.Empty(t, fixture.catalog.savedVideos)
	assert.Empty(t, fixture.ledger.saved)
	assert.Zero(t, fixture.queue.totalJobs())
}

func Test_Resolve_RejectsMultipleSources(t *testing.T) {
	fixture := newFixture(t, &fakeExtractor{}, importer.Config{})

	_, err := fixture.resolver.Resolve(context.Background(), &importer.Request{
		ChannelID: fixture.channelID,
		MagnetURI: "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a",
		TargetURL: "https://example.com/video",
	})

	assert.ErrorIs(t, err, importer.ErrAmbiguousSource)
	assert.Empty(t, fixture.catalog.savedVideos)
	assert.Zero(t, fixture.queue.totalJobs())
}

func Test_Resolve_MagnetSource(t *testing.T) {
	fixture := newFixture(t, &fakeExtractor{}, importer.Config{})
	magnet := "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a&dn=Holiday+Video"

	result, err := fixture.resolver.Resolve(context.Background(), &importer.Request{
		ChannelID: fixture.channelID,
		MagnetURI: magnet,
	})

	require.NoError(t, err)
	assert.Equal(t, "Holiday Video", result.Video.Name)
	assert.Equal(t, video.ToImport, result.Video.State)
	assert.Equal(t, video.PrivacyPrivate, result.Video.Privacy)

	require.Len(t, fixture.ledger.saved, 1)
	imp := fixture.ledger.saved[0]
	assert.Equal(t, result.Video.ID, imp.VideoID)
	require.NotNil(t, imp.MagnetURI)
	assert.Equal(t, magnet, *imp.MagnetURI)
	assert.Nil(t, imp.TorrentName)
	assert.Nil(t, imp.TargetURL)

	require.Len(t, fixture.queue.magnetJobs, 1)
	assert.Equal(t, imp.ID, fixture.queue.magnetJobs[0].ImportID)
	assert.Equal(t, 1, fixture.queue.totalJobs())
	assert.Equal(t, 1, fixture.policy.calls)
}

func Test_Resolve_TorrentSource(t *testing.T) {
	fixture := newFixture(t, &fakeExtractor{}, importer.Config{})
	uploaded := writeUploadedTorrent(t, metainfo.Info{
		Name:        "holiday.mp4",
		Length:      4096,
		PieceLength: 16384,
		Pieces:      make([]byte, 20),
	})

	result, err := fixture.resolver.Resolve(context.Background(), &importer.Request{
		ChannelID:           fixture.channelID,
		TorrentFilePath:     uploaded,
		TorrentOriginalName: "my upload.torrent",
	})

	require.NoError(t, err)
	assert.Equal(t, "holiday.mp4", result.Video.Name)

	require.Len(t, fixture.ledger.saved, 1)
	imp := fixture.ledger.saved[0]
	require.NotNil(t, imp.TorrentName)

	// The uploaded container was renamed into managed torrent storage.
	assert.NoFileExists(t, uploaded)
	assert.FileExists(t, filepath.Join(fixture.paths.Torrents, *imp.TorrentName))

	require.Len(t, fixture.queue.torrentJobs, 1)
	assert.Equal(t, *imp.TorrentName, fixture.queue.torrentJobs[0].TorrentName)
	assert.Equal(t, 1, fixture.queue.totalJobs())
}

// A transient conflict re-executes the whole commit body; every attempt must
// observe the same staged artifacts and produce identical writes.
func Test_Resolve_TransactionRetryIsIdempotent(t *testing.T) {
	fixture := newFixtureWithManager(t, &fakeExtractor{}, importer.Config{}, retryingManager{})
	uploaded := writeUploadedTorrent(t, metainfo.Info{
		Name:        "holiday.mp4",
		Length:      4096,
		PieceLength: 16384,
		Pieces:      make([]byte, 20),
	})

	result, err := fixture.resolver.Resolve(context.Background(), &importer.Request{
		ChannelID:       fixture.channelID,
		TorrentFilePath: uploaded,
	})
	require.NoError(t, err)

	require.Len(t, fixture.catalog.savedVideos, retryableAttempts)
	for _, saved := range fixture.catalog.savedVideos {
		assert.Equal(t, result.Video.ID, saved.ID)
		assert.Equal(t, "holiday.mp4", saved.Name)
	}

	require.Len(t, fixture.ledger.saved, retryableAttempts)
	for _, imp := range fixture.ledger.saved {
		assert.Equal(t, result.Import.ID, imp.ID)
	}

	// The staged torrent survives the retries and exactly one job goes out.
	require.NotNil(t, result.Import.TorrentName)
	assert.FileExists(t, filepath.Join(fixture.paths.Torrents, *result.Import.TorrentName))
	assert.Equal(t, 1, fixture.queue.totalJobs())
}

func Test_Resolve_RejectsMultiFileTorrent(t *testing.T) {
	fixture := newFixture(t, &fakeExtractor{}, importer.Config{})
	uploaded := writeUploadedTorrent(t, metainfo.Info{
		Name:        "bundle",
		PieceLength: 16384,
		Pieces:      make([]byte, 40),
		Files: []metainfo.FileInfo{
			{Length: 1024, Path: []string{"one.mp4"}},
			{Length: 2048, Path: []string{"two.mp4"}},
		},
	})

	_, err := fixture.resolver.Resolve(context.Background(), &importer.Request{
		ChannelID:       fixture.channelID,
		TorrentFilePath: uploaded,
	})

	assert.ErrorIs(t, err, torrent.ErrIncorrectFilesInTorrent)
	assert.Empty(t, fixture.catalog.savedVideos)
	assert.Empty(t, fixture.ledger.saved)
	assert.Zero(t, fixture.queue.totalJobs())

	// The rejected container must not linger in managed storage.
	entries, readErr := os.ReadDir(fixture.paths.Torrents)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func Test_Resolve_ExtractorFailureLeavesNothingBehind(t *testing.T) {
	fixture := newFixture(t, &fakeExtractor{err: extractor.ErrCannotFetchRemote}, importer.Config{})

	_, err := fixture.resolver.Resolve(context.Background(), &importer.Request{
		ChannelID: fixture.channelID,
		TargetURL: "https://example.com/watch?v=123",
	})

	assert.ErrorIs(t, err, extractor.ErrCannotFetchRemote)
	assert.Empty(t, fixture.catalog.savedVideos)
	assert.Empty(t, fixture.ledger.saved)
	assert.Zero(t, fixture.queue.totalJobs())
	assert.Zero(t, fixture.policy.calls)
}

func Test_Resolve_URLSource_MergesExplicitOverExtractor(t *testing.T) {
	description := "remote description"
	remote := &extractor.RemoteInfo{
		Name:        "Remote Title",
		Description: description,
		NSFW:        true,
		Tags:        []string{"travel", "vlog"},
		FileExt:     "webm",
	}
	fixture := newFixture(t, &fakeExtractor{info: remote}, importer.Config{})

	explicitName := "My Own Title"
	privacy := video.PrivacyPublic
	result, err := fixture.resolver.Resolve(context.Background(), &importer.Request{
		ChannelID: fixture.channelID,
		TargetURL: "https://example.com/watch?v=123",
		Name:      &explicitName,
		Privacy:   &privacy,
	})

	require.NoError(t, err)
	assert.Equal(t, "My Own Title", result.Video.Name)
	assert.Equal(t, video.PrivacyPublic, result.Video.Privacy)
	require.NotNil(t, result.Video.Description)
	assert.Equal(t, "remote description", *result.Video.Description)
	assert.True(t, result.Video.NSFW)

	// Extractor tags apply when the request names none.
	assert.ElementsMatch(t, []string{"travel", "vlog"}, fixture.catalog.taggedLabels)

	require.Len(t, fixture.queue.urlJobs, 1)
	assert.Equal(t, "webm", fixture.queue.urlJobs[0].FileExt)
}

func Test_Resolve_MarkChannelUpdatedPolicy(t *testing.T) {
	magnet := "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a&dn=Video"

	defaultFixture := newFixture(t, &fakeExtractor{}, importer.Config{})
	_, err := defaultFixture.resolver.Resolve(context.Background(), &importer.Request{
		ChannelID: defaultFixture.channelID,
		MagnetURI: magnet,
	})
	require.NoError(t, err)
	assert.Empty(t, defaultFixture.catalog.markedChannels)

	optInFixture := newFixture(t, &fakeExtractor{}, importer.Config{MarkChannelUpdatedOnImport: true})
	_, err = optInFixture.resolver.Resolve(context.Background(), &importer.Request{
		ChannelID: optInFixture.channelID,
		MagnetURI: magnet,
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{optInFixture.channelID}, optInFixture.catalog.markedChannels)
}

func Test_Resolve_EnqueueFailureMarksImportFailed(t *testing.T) {
	fixture := newFixture(t, &fakeExtractor{}, importer.Config{})
	fixture.queue.failWith = errors.New("queue unreachable")

	_, err := fixture.resolver.Resolve(context.Background(), &importer.Request{
		ChannelID: fixture.channelID,
		MagnetURI: "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a&dn=Video",
	})

	assert.Error(t, err)
	assert.Equal(t, []importer.ImportState{importer.ImportFailed}, fixture.ledger.states)
}
