// Ingest coordination: the top-level orchestrator for adding, updating and
// viewing videos. It owns the transaction boundary for each operation and the
// composition of the artifact pipeline, torrent stage, job queue, federation
// notifier and view accumulator around it.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/naiad-media/naiad/internal/artifact"
	"github.com/naiad-media/naiad/internal/database"
	"github.com/naiad-media/naiad/internal/event"
	"github.com/naiad-media/naiad/internal/federation"
	"github.com/naiad-media/naiad/internal/jobs"
	"github.com/naiad-media/naiad/internal/moderation"
	"github.com/naiad-media/naiad/internal/storage"
	"github.com/naiad-media/naiad/internal/video"
	"github.com/naiad-media/naiad/internal/views"
	"github.com/naiad-media/naiad/pkg/logger"
)

var log = logger.Get("Ingest")

type (
	Config struct {
		// TranscodingEnabled decides the initial lifecycle state of an
		// uploaded video: ToTranscode when on, Published immediately when
		// off.
		TranscodingEnabled bool `yaml:"transcoding_enabled" env:"INGEST_TRANSCODING_ENABLED" env-default:"true"`
	}

	// TorrentCreator is the slice of the torrent stage the post-commit
	// chain drives.
	TorrentCreator interface {
		CreateTorrent(v *video.Video, file *video.VideoFile) error
	}

	// ChangeNotifier is the slice of the federation notifier the
	// coordinator hands committed changes to.
	ChangeNotifier interface {
		NotifyAndFederate(ctx context.Context, videoID uuid.UUID, isNew bool)
		FederateView(ctx context.Context, videoID uuid.UUID)
	}

	// TranscodeQueue is the awaited half of the job dispatcher.
	TranscodeQueue interface {
		EnqueueTranscode(ctx context.Context, payload jobs.TranscodePayload) (*jobs.Envelope, error)
	}

	// catalog is the slice of the video store the coordinator drives. All
	// methods accept the transaction they must run inside.
	catalog interface {
		GetChannel(db database.Queryable, channelID uuid.UUID) (*video.Channel, error)
		GetVideo(db database.Queryable, videoID uuid.UUID) (*video.Video, error)
		GetVideoDetails(db database.Queryable, videoID uuid.UUID) (*video.Details, error)
		SaveVideo(db database.Queryable, v *video.Video) error
		UpdateVideo(db database.Queryable, v *video.Video) error
		SaveVideoFile(db database.Queryable, f *video.VideoFile) error
		SaveThumbnail(db database.Queryable, t *video.Thumbnail) error
		UpsertTags(db database.Queryable, labels []string) ([]video.Tag, error)
		SaveVideoTagAssociations(db database.Queryable, videoID uuid.UUID, tags []video.Tag) error
		UpsertScheduledUpdate(db database.Queryable, s *video.ScheduledUpdate) error
		DeleteScheduledUpdate(db database.Queryable, videoID uuid.UUID) error
		GetDueScheduledUpdates(db database.Queryable) ([]video.ScheduledUpdate, error)
		MarkChannelUpdated(db database.Queryable, channelID uuid.UUID) error
	}

	autoBlacklister interface {
		AutoBlacklistIfNeeded(db database.Queryable, v *video.Video, requester moderation.Requester, isRemote bool, isNew bool) (bool, error)
	}

	viewRecorder interface {
		RecordView(ctx context.Context, videoID uuid.UUID, viewerKey string, isLive bool, isLocal bool) (views.Outcome, error)
	}

	// FrameGrabber captures a still from a media file, used for the
	// generated-thumbnail fallback.
	FrameGrabber interface {
		GrabFrame(src string, dst string) error
	}

	Coordinator struct {
		config    Config
		db        database.Manager
		videos    catalog
		artifacts *storage.Store
		pipeline  *artifact.Pipeline
		grabber   FrameGrabber
		torrents  TorrentCreator
		notifier  ChangeNotifier
		queue     TranscodeQueue
		accum     viewRecorder
		policy    autoBlacklister
		federator federation.Federator
		eventBus  event.EventDispatcher
		validate  *validator.Validate
	}
)

func New(
	config Config,
	db database.Manager,
	videos catalog,
	artifacts *storage.Store,
	pipeline *artifact.Pipeline,
	grabber FrameGrabber,
	torrents TorrentCreator,
	notifier ChangeNotifier,
	queue TranscodeQueue,
	accum viewRecorder,
	policy autoBlacklister,
	federator federation.Federator,
	eventBus event.EventDispatcher,
) *Coordinator {
	return &Coordinator{
		config:    config,
		db:        db,
		videos:    videos,
		artifacts: artifacts,
		pipeline:  pipeline,
		grabber:   grabber,
		torrents:  torrents,
		notifier:  notifier,
		queue:     queue,
		accum:     accum,
		policy:    policy,
		federator: federator,
		eventBus:  eventBus,
		validate:  validator.New(),
	}
}

// AddVideo ingests an uploaded file: technical metadata is computed up-front
// so the canonical filename is known, the file is moved into managed storage,
// and the descriptor, file record, thumbnails, tags, optional scheduled
// update and blacklist flag all commit in one retryable transaction. The
// descriptor's mutable fields are restored from a snapshot before every
// retry so a rolled-back attempt never contaminates the next one.
func (coordinator *Coordinator) AddVideo(ctx context.Context, request *AddRequest) (*video.Video, error) {
	if err := coordinator.validate.Struct(request); err != nil {
		return nil, err
	}

	meta, err := coordinator.pipeline.ComputeTechnicalMetadata(request.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe uploaded file: %w", err)
	}

	v := coordinator.buildDescriptor(request, meta)
	file, err := coordinator.buildFileRecord(request, v, meta)
	if err != nil {
		return nil, err
	}

	thumbs := coordinator.pipeline.BuildThumbnails(v.ID, coordinator.thumbnailSources(v, request))

	snapshot := video.TakeSnapshot(v)
	destination := coordinator.artifacts.VideoPath(video.GenerateFilename(v.ID, file.Resolution, file.Extension))
	if err := coordinator.db.WrapRetryableTx(func(tx *sqlx.Tx) error {
		snapshot.Restore(v)

		// The move recomputes its destination and tolerates the source
		// already being in place, so re-running it on a retry is safe.
		if err := coordinator.artifacts.Move(request.FilePath, destination); err != nil {
			return err
		}

		return coordinator.commitAdd(tx, request, v, file, thumbs)
	}); err != nil {
		snapshot.Restore(v)
		return nil, err
	}

	go coordinator.runDerivativeChain(v, file)

	if v.State == video.ToTranscode {
		if _, err := coordinator.queue.EnqueueTranscode(ctx, jobs.TranscodePayload{VideoID: v.ID, IsNew: true}); err != nil {
			return nil, fmt.Errorf("video %s committed but transcode enqueue failed: %w", v.ID, err)
		}
	}

	return v, nil
}

func (coordinator *Coordinator) buildDescriptor(request *AddRequest, meta *artifact.TechnicalMetadata) *video.Video {
	state := video.Published
	if coordinator.config.TranscodingEnabled {
		state = video.ToTranscode
	}

	return &video.Video{
		ID:                    uuid.New(),
		ChannelID:             request.ChannelID,
		Name:                  request.Name,
		Description:           request.Description,
		Privacy:               request.Privacy,
		Category:              request.Category,
		Licence:               request.Licence,
		Language:              request.Language,
		NSFW:                  request.NSFW,
		CommentsEnabled:       request.CommentsEnabled,
		DownloadEnabled:       request.DownloadEnabled,
		WaitTranscoding:       request.WaitTranscoding,
		Duration:              meta.Duration,
		State:                 state,
		Support:               request.Support,
		OriginallyPublishedAt: request.OriginallyPublishedAt,
	}
}

func (coordinator *Coordinator) buildFileRecord(request *AddRequest, v *video.Video, meta *artifact.TechnicalMetadata) (*video.VideoFile, error) {
	info, err := os.Stat(request.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat uploaded file: %w", err)
	}

	extension := filepath.Ext(request.FilePath)
	if extension == "" {
		return nil, fmt.Errorf("uploaded file %s carries no extension", request.FilePath)
	}

	return &video.VideoFile{
		ID:         uuid.New(),
		VideoID:    v.ID,
		Extension:  extension,
		Size:       info.Size(),
		Resolution: meta.Resolution,
		FPS:        meta.FPS,
		Metadata:   meta.Raw,
	}, nil
}

// thumbnailSources wires the uploaded artwork, falling back to a frame
// grabbed from the video itself for any slot left empty. Thumbnails are
// derived before the transaction runs, so the grab reads the file at its
// original upload location.
func (coordinator *Coordinator) thumbnailSources(v *video.Video, request *AddRequest) []artifact.ThumbnailSource {
	grab := func(kind video.ThumbnailKind) func() (string, error) {
		return func() (string, error) {
			dst := coordinator.artifacts.ThumbnailPath(fmt.Sprintf("%s-%d.jpg", v.ID, kind))
			if err := coordinator.grabber.GrabFrame(request.FilePath, dst); err != nil {
				return "", err
			}

			return dst, nil
		}
	}

	return []artifact.ThumbnailSource{
		{
			Kind:           video.ThumbnailMiniature,
			UploadedPath:   request.ThumbnailPath,
			Fallback:       grab(video.ThumbnailMiniature),
			FallbackOrigin: video.ThumbnailOriginGenerated,
		},
		{
			Kind:           video.ThumbnailPreview,
			UploadedPath:   request.PreviewPath,
			Fallback:       grab(video.ThumbnailPreview),
			FallbackOrigin: video.ThumbnailOriginGenerated,
		},
	}
}

func (coordinator *Coordinator) commitAdd(tx *sqlx.Tx, request *AddRequest, v *video.Video, file *video.VideoFile, thumbs []*video.Thumbnail) error {
	if _, err := coordinator.videos.GetChannel(tx, request.ChannelID); err != nil {
		return err
	}

	if err := coordinator.videos.SaveVideo(tx, v); err != nil {
		return err
	}

	if err := coordinator.videos.SaveVideoFile(tx, file); err != nil {
		return err
	}

	for _, thumb := range thumbs {
		if err := coordinator.videos.SaveThumbnail(tx, thumb); err != nil {
			return err
		}
	}

	if len(request.Tags) > 0 {
		tags, err := coordinator.videos.UpsertTags(tx, request.Tags)
		if err != nil {
			return err
		}

		if err := coordinator.videos.SaveVideoTagAssociations(tx, v.ID, tags); err != nil {
			return err
		}
	}

	if request.ScheduledUpdate != nil {
		scheduled := &video.ScheduledUpdate{
			ID:       uuid.New(),
			VideoID:  v.ID,
			UpdateAt: request.ScheduledUpdate.UpdateAt,
			Privacy:  request.ScheduledUpdate.Privacy,
		}
		if err := coordinator.videos.UpsertScheduledUpdate(tx, scheduled); err != nil {
			return err
		}
	}

	if err := coordinator.videos.MarkChannelUpdated(tx, request.ChannelID); err != nil {
		return err
	}

	if _, err := coordinator.policy.AutoBlacklistIfNeeded(tx, v, request.Requester, false, true); err != nil {
		return err
	}

	return nil
}

// runDerivativeChain is the detached torrent -> federation chain started
// after a successful add. Its failures are logged and never reach the
// caller; federation notification never runs before the torrent stage has
// finished for this video.
func (coordinator *Coordinator) runDerivativeChain(v *video.Video, file *video.VideoFile) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Panic inside derivative chain for video %s: %v\n", v.ID, r)
		}
	}()

	if err := coordinator.torrents.CreateTorrent(v, file); err != nil {
		log.Errorf("Torrent creation for video %s failed: %v\n", v.ID, err)
		return
	}

	coordinator.eventBus.Dispatch(event.TorrentCreatedEvent, v.ID)
	coordinator.notifier.NotifyAndFederate(context.Background(), v.ID, true)
}

// ViewVideo records one playback view. Within the dedup window repeated
// views from the same viewer are dropped. Live views never touch the VOD
// counter: locally owned streams route to the session aggregator (which
// federates on its own schedule) and remote streams are counted by their
// origin instance. VOD views bump the counter and federate directly.
func (coordinator *Coordinator) ViewVideo(ctx context.Context, videoID uuid.UUID, viewerKey string) (views.Outcome, error) {
	v, err := coordinator.videos.GetVideo(coordinator.db.GetSqlxDb(), videoID)
	if err != nil {
		return views.AlreadyRecorded, err
	}

	channel, err := coordinator.videos.GetChannel(coordinator.db.GetSqlxDb(), v.ChannelID)
	if err != nil {
		return views.AlreadyRecorded, err
	}

	outcome, err := coordinator.accum.RecordView(ctx, videoID, viewerKey, v.IsLive, channel.Local)
	if err != nil || outcome == views.AlreadyRecorded {
		return outcome, err
	}

	if !v.IsLive {
		coordinator.notifier.FederateView(ctx, videoID)
	}

	return outcome, nil
}
