// Import resolution: accept exactly one media source (torrent file, magnet
// URI or remote URL), normalize it to a pending catalog entry inside a single
// transaction, and hand the heavy download work to the job queue.
package importer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/naiad-media/naiad/internal/artifact"
	"github.com/naiad-media/naiad/internal/database"
	"github.com/naiad-media/naiad/internal/event"
	"github.com/naiad-media/naiad/internal/extractor"
	"github.com/naiad-media/naiad/internal/jobs"
	"github.com/naiad-media/naiad/internal/moderation"
	"github.com/naiad-media/naiad/internal/storage"
	"github.com/naiad-media/naiad/internal/torrent"
	"github.com/naiad-media/naiad/internal/video"
	"github.com/naiad-media/naiad/pkg/logger"
)

var log = logger.Get("Importer")

const (
	fallbackVideoName = "Unknown name"
	maxTagCount       = 5
)

type (
	Config struct {
		// MarkChannelUpdatedOnImport bumps the owning channels updated_at
		// inside the import transaction. Off by default: a pending import
		// is not yet visible content, so surfacing the channel as "recently
		// active" for it is misleading.
		MarkChannelUpdatedOnImport bool `yaml:"mark_channel_updated" env:"IMPORT_MARK_CHANNEL_UPDATED" env-default:"false"`
	}

	// JobQueue is the slice of the job dispatcher the resolver awaits on.
	JobQueue interface {
		EnqueueImportTorrent(ctx context.Context, payload jobs.ImportTorrentPayload) (*jobs.Envelope, error)
		EnqueueImportMagnet(ctx context.Context, payload jobs.ImportMagnetPayload) (*jobs.Envelope, error)
		EnqueueImportURL(ctx context.Context, payload jobs.ImportURLPayload) (*jobs.Envelope, error)
	}

	// catalog is the slice of the video store the resolver writes through.
	catalog interface {
		GetChannel(db database.Queryable, channelID uuid.UUID) (*video.Channel, error)
		SaveVideo(db database.Queryable, v *video.Video) error
		SaveThumbnail(db database.Queryable, t *video.Thumbnail) error
		UpsertTags(db database.Queryable, labels []string) ([]video.Tag, error)
		SaveVideoTagAssociations(db database.Queryable, videoID uuid.UUID, tags []video.Tag) error
		SaveCaption(db database.Queryable, c *video.Caption) error
		MarkChannelUpdated(db database.Queryable, channelID uuid.UUID) error
	}

	// importLedger persists the import records themselves.
	importLedger interface {
		SaveImport(db database.Queryable, imp *Import) error
		SetImportState(db database.Queryable, importID uuid.UUID, state ImportState, cause *string) error
	}

	autoBlacklister interface {
		AutoBlacklistIfNeeded(db database.Queryable, v *video.Video, requester moderation.Requester, isRemote bool, isNew bool) (bool, error)
	}

	// Result is what a successful resolution hands back: the pending
	// catalog entry and its import record, both committed.
	Result struct {
		Video  *video.Video
		Import *Import
	}

	Resolver struct {
		db        database.Manager
		videos    catalog
		imports   importLedger
		artifacts *storage.Store
		pipeline  *artifact.Pipeline
		extractor extractor.Extractor
		queue     JobQueue
		policy    autoBlacklister
		eventBus  event.EventDispatcher
		validate  *validator.Validate
		config    Config
	}

	// normalized is the source-independent shape every variant reduces to
	// before the descriptor merge.
	normalized struct {
		kind        SourceKind
		name        string
		torrentName string
		remote      *extractor.RemoteInfo
	}
)

func NewResolver(
	config Config,
	db database.Manager,
	videos catalog,
	imports importLedger,
	artifacts *storage.Store,
	pipeline *artifact.Pipeline,
	ext extractor.Extractor,
	queue JobQueue,
	policy autoBlacklister,
	eventBus event.EventDispatcher,
) *Resolver {
	return &Resolver{
		db:        db,
		videos:    videos,
		imports:   imports,
		artifacts: artifacts,
		pipeline:  pipeline,
		extractor: ext,
		queue:     queue,
		policy:    policy,
		eventBus:  eventBus,
		validate:  validator.New(),
		config:    config,
	}
}

// Resolve validates the request, normalizes its single source, commits the
// pending video + import record in one transaction and enqueues exactly one
// download job. Any failure before the commit leaves no trace in the catalog.
func (resolver *Resolver) Resolve(ctx context.Context, request *Request) (*Result, error) {
	if err := request.validate(resolver.validate); err != nil {
		return nil, err
	}

	kind, _ := request.sourceKind()
	source, err := resolver.normalizeSource(ctx, kind, request)
	if err != nil {
		return nil, err
	}

	v := resolver.buildDescriptor(request, source)
	imp := buildImportRecord(v.ID, request, source)
	thumbs := resolver.pipeline.BuildThumbnails(v.ID, resolver.thumbnailSources(v.ID, request, source))

	tags := request.Tags
	if len(tags) == 0 && source.remote != nil {
		tags = source.remote.Tags
		if len(tags) > maxTagCount {
			tags = tags[:maxTagCount]
		}
	}

	// The commit body mutates no in-memory state and the staged source
	// artifacts are already in place, so re-running it wholesale on a
	// transient conflict is safe.
	if err := resolver.db.WrapRetryableTx(func(tx *sqlx.Tx) error {
		return resolver.commit(tx, request, v, imp, thumbs, tags)
	}); err != nil {
		resolver.discardSourceArtifacts(source, thumbs)
		return nil, err
	}

	if source.remote != nil {
		resolver.importSubtitles(v.ID, source.remote.Subtitles)
	}

	if err := resolver.enqueue(ctx, kind, request, imp, source); err != nil {
		// The pending record stays; a failed import is surfaced through
		// its state rather than by rolling back the catalog entry.
		cause := err.Error()
		if stateErr := resolver.imports.SetImportState(resolver.db.GetSqlxDb(), imp.ID, ImportFailed, &cause); stateErr != nil {
			log.Errorf("Failed to mark import %s failed after enqueue error: %v\n", imp.ID, stateErr)
		}

		return nil, fmt.Errorf("failed to enqueue import job: %w", err)
	}

	resolver.eventBus.Dispatch(event.VideoImportedEvent, v.ID)

	return &Result{Video: v, Import: imp}, nil
}

// normalizeSource reduces the declared variant to a common shape. The torrent
// file is renamed into managed storage here; the remote URL is probed via the
// extractor, whose wholesale failure aborts the import before anything is
// persisted.
func (resolver *Resolver) normalizeSource(ctx context.Context, kind SourceKind, request *Request) (*normalized, error) {
	switch kind {
	case SourceTorrentFile:
		originalName := request.TorrentOriginalName
		if originalName == "" {
			originalName = filepath.Base(request.TorrentFilePath)
		}

		secureName, err := storage.SecureName(originalName)
		if err != nil {
			return nil, fmt.Errorf("failed to generate torrent storage name: %w", err)
		}

		storedPath := resolver.artifacts.TorrentPath(secureName)
		if err := resolver.artifacts.Move(request.TorrentFilePath, storedPath); err != nil {
			return nil, fmt.Errorf("failed to store uploaded torrent: %w", err)
		}

		info, err := torrent.ParseTorrentFile(storedPath)
		if err != nil {
			if discardErr := resolver.artifacts.Discard(storedPath); discardErr != nil {
				log.Warnf("Failed to discard rejected torrent %s: %v\n", storedPath, discardErr)
			}

			return nil, err
		}

		return &normalized{kind: kind, name: info.Name, torrentName: secureName}, nil
	case SourceMagnetURI:
		displayName, _, err := torrent.ParseMagnetURI(request.MagnetURI)
		if err != nil {
			return nil, err
		}

		return &normalized{kind: kind, name: displayName}, nil
	case SourceRemoteURL:
		remote, err := resolver.extractor.Extract(ctx, request.TargetURL)
		if err != nil {
			return nil, err
		}

		return &normalized{kind: kind, name: remote.Name, remote: remote}, nil
	default:
		panic(fmt.Sprintf("illegal source kind %d provided to import normalization", kind))
	}
}

// buildDescriptor merges explicit request fields over extractor-provided
// values over hard defaults, producing the pending catalog entry.
func (resolver *Resolver) buildDescriptor(request *Request, source *normalized) *video.Video {
	v := &video.Video{
		ID:              uuid.New(),
		ChannelID:       request.ChannelID,
		Name:            source.name,
		Privacy:         video.PrivacyPrivate,
		CommentsEnabled: true,
		DownloadEnabled: true,
		State:           video.ToImport,
	}

	if source.remote != nil {
		remote := source.remote
		if remote.Description != "" {
			v.Description = &remote.Description
		}

		v.Category = remote.Category
		v.Licence = remote.Licence
		v.Language = remote.Language
		v.NSFW = remote.NSFW
	}

	if request.Name != nil {
		v.Name = *request.Name
	}
	if v.Name == "" {
		v.Name = fallbackVideoName
	}

	if request.Description != nil {
		v.Description = request.Description
	}
	if request.Category != nil {
		v.Category = request.Category
	}
	if request.Licence != nil {
		v.Licence = request.Licence
	}
	if request.Language != nil {
		v.Language = request.Language
	}
	if request.NSFW != nil {
		v.NSFW = *request.NSFW
	}
	if request.Privacy != nil {
		v.Privacy = *request.Privacy
	}
	if request.WaitTranscoding != nil {
		v.WaitTranscoding = *request.WaitTranscoding
	}
	if request.CommentsEnabled != nil {
		v.CommentsEnabled = *request.CommentsEnabled
	}
	if request.DownloadEnabled != nil {
		v.DownloadEnabled = *request.DownloadEnabled
	}

	v.Support = request.Support
	v.OriginallyPublishedAt = request.OriginallyPublishedAt

	return v
}

func buildImportRecord(videoID uuid.UUID, request *Request, source *normalized) *Import {
	imp := &Import{
		ID:      uuid.New(),
		VideoID: videoID,
		State:   ImportPending,
	}

	switch source.kind {
	case SourceTorrentFile:
		imp.TorrentName = &source.torrentName
	case SourceMagnetURI:
		imp.MagnetURI = &request.MagnetURI
	case SourceRemoteURL:
		imp.TargetURL = &request.TargetURL
	}

	return imp
}

// thumbnailSources wires the uploaded thumbnail/preview paths in, adding a
// remote-fetch fallback when the extractor reported a thumbnail URL.
func (resolver *Resolver) thumbnailSources(videoID uuid.UUID, request *Request, source *normalized) []artifact.ThumbnailSource {
	sources := []artifact.ThumbnailSource{
		{Kind: video.ThumbnailMiniature, UploadedPath: request.ThumbnailPath},
		{Kind: video.ThumbnailPreview, UploadedPath: request.PreviewPath},
	}

	if source.remote == nil || source.remote.ThumbnailURL == "" {
		return sources
	}

	for i := range sources {
		kind := sources[i].Kind
		sources[i].FallbackOrigin = video.ThumbnailOriginFetched
		sources[i].Fallback = func() (string, error) {
			dst := resolver.artifacts.ThumbnailPath(fmt.Sprintf("%s-%d.jpg", videoID, kind))
			if err := extractor.FetchToFile(source.remote.ThumbnailURL, dst); err != nil {
				return "", err
			}

			return dst, nil
		}
	}

	return sources
}

// commit is the single transaction of an import resolution: everything the
// catalog should remember about the pending video lands here, or none of it.
func (resolver *Resolver) commit(tx *sqlx.Tx, request *Request, v *video.Video, imp *Import, thumbs []*video.Thumbnail, tagLabels []string) error {
	if _, err := resolver.videos.GetChannel(tx, request.ChannelID); err != nil {
		return err
	}

	if err := resolver.videos.SaveVideo(tx, v); err != nil {
		return err
	}

	for _, thumb := range thumbs {
		if err := resolver.videos.SaveThumbnail(tx, thumb); err != nil {
			return err
		}
	}

	if len(tagLabels) > 0 {
		tags, err := resolver.videos.UpsertTags(tx, tagLabels)
		if err != nil {
			return err
		}

		if err := resolver.videos.SaveVideoTagAssociations(tx, v.ID, tags); err != nil {
			return err
		}
	}

	if err := resolver.imports.SaveImport(tx, imp); err != nil {
		return err
	}

	if _, err := resolver.policy.AutoBlacklistIfNeeded(tx, v, request.Requester, true, true); err != nil {
		return err
	}

	if resolver.config.MarkChannelUpdatedOnImport {
		if err := resolver.videos.MarkChannelUpdated(tx, request.ChannelID); err != nil {
			return err
		}
	}

	return nil
}

// importSubtitles fetches and records extractor-reported subtitles after the
// import commit. Each subtitle is independent: a failure is logged and the
// rest still land.
func (resolver *Resolver) importSubtitles(videoID uuid.UUID, subtitles []extractor.Subtitle) {
	for _, subtitle := range subtitles {
		dst := resolver.artifacts.CaptionPath(fmt.Sprintf("%s-%s.vtt", videoID, subtitle.Language))
		if err := extractor.FetchToFile(subtitle.URL, dst); err != nil {
			log.Warnf("Failed to fetch subtitle (lang=%s) for video %s: %v\n", subtitle.Language, videoID, err)
			continue
		}

		caption := &video.Caption{ID: uuid.New(), VideoID: videoID, Language: subtitle.Language, Path: dst}
		if err := resolver.videos.SaveCaption(resolver.db.GetSqlxDb(), caption); err != nil {
			log.Warnf("Failed to record subtitle (lang=%s) for video %s: %v\n", subtitle.Language, videoID, err)
		}
	}
}

// enqueue pushes exactly one awaited download job matching the source
// variant.
func (resolver *Resolver) enqueue(ctx context.Context, kind SourceKind, request *Request, imp *Import, source *normalized) error {
	switch kind {
	case SourceTorrentFile:
		_, err := resolver.queue.EnqueueImportTorrent(ctx, jobs.ImportTorrentPayload{ImportID: imp.ID, TorrentName: source.torrentName})
		return err
	case SourceMagnetURI:
		_, err := resolver.queue.EnqueueImportMagnet(ctx, jobs.ImportMagnetPayload{ImportID: imp.ID, MagnetURI: request.MagnetURI})
		return err
	case SourceRemoteURL:
		fileExt := "mp4"
		if source.remote != nil && source.remote.FileExt != "" {
			fileExt = source.remote.FileExt
		}

		_, err := resolver.queue.EnqueueImportURL(ctx, jobs.ImportURLPayload{ImportID: imp.ID, TargetURL: request.TargetURL, FileExt: fileExt})
		return err
	default:
		panic(fmt.Sprintf("illegal source kind %d provided to import enqueue", kind))
	}
}

// discardSourceArtifacts cleans up files staged before a failed commit.
func (resolver *Resolver) discardSourceArtifacts(source *normalized, thumbs []*video.Thumbnail) {
	if source.torrentName != "" {
		if err := resolver.artifacts.Discard(resolver.artifacts.TorrentPath(source.torrentName)); err != nil {
			log.Warnf("Failed to discard staged torrent %s: %v\n", source.torrentName, err)
		}
	}

	for _, thumb := range thumbs {
		if thumb.Origin != video.ThumbnailOriginFetched {
			continue
		}

		if err := resolver.artifacts.Discard(thumb.Path); err != nil {
			log.Warnf("Failed to discard fetched thumbnail %s: %v\n", thumb.Path, err)
		}
	}
}
