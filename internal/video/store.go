package video

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/database"
)

var (
	ErrVideoNotFound     = errors.New("video does not exist")
	ErrVideoFileNotFound = errors.New("video file does not exist")
	ErrChannelNotFound   = errors.New("channel does not exist")
)

type (
	// videoModel joins the videos table with a JSONB aggregate of its file
	// records. A separate struct keeps the JsonColumn container out of the
	// stores public API.
	videoModel struct {
		Video
		Files database.JsonColumn[[]VideoFile] `db:"files"`
	}

	// Details is a fully-populated read of a video: the descriptor plus
	// every rendition currently attached to it.
	Details struct {
		Video
		Files []VideoFile
	}

	Store struct{}
)

func NewStore() *Store {
	return &Store{}
}

// SaveVideo inserts the provided video descriptor. The descriptor's ID must
// already be populated by the caller; creation timestamps are taken from the
// database clock.
func (store *Store) SaveVideo(db database.Queryable, v *Video) error {
	_, err := db.NamedExec(`
		INSERT INTO videos(id, channel_id, name, description, privacy, category, licence, language, nsfw,
			comments_enabled, download_enabled, wait_transcoding, is_live, duration, views, state, support,
			originally_published_at, created_at, updated_at)
		VALUES(:id, :channel_id, :name, :description, :privacy, :category, :licence, :language, :nsfw,
			:comments_enabled, :download_enabled, :wait_transcoding, :is_live, :duration, :views, :state, :support,
			:originally_published_at, current_timestamp, current_timestamp)
	`, v)
	if err != nil {
		return fmt.Errorf("failed to insert video %s: %w", v.ID, err)
	}

	return nil
}

// UpdateVideo persists the mutable fields of an existing video descriptor.
func (store *Store) UpdateVideo(db database.Queryable, v *Video) error {
	result, err := db.NamedExec(`
		UPDATE videos SET
			channel_id=:channel_id, name=:name, description=:description, privacy=:privacy,
			category=:category, licence=:licence, language=:language, nsfw=:nsfw,
			comments_enabled=:comments_enabled, download_enabled=:download_enabled,
			wait_transcoding=:wait_transcoding, duration=:duration, state=:state, support=:support,
			originally_published_at=:originally_published_at, updated_at=current_timestamp
		WHERE id=:id
	`, v)
	if err != nil {
		return fmt.Errorf("failed to update video %s: %w", v.ID, err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrVideoNotFound
	}

	return nil
}

func (store *Store) GetVideo(db database.Queryable, videoID uuid.UUID) (*Video, error) {
	var result Video
	if err := db.Get(&result, `SELECT * FROM videos WHERE id=$1`, videoID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVideoNotFound
		}

		return nil, err
	}

	return &result, nil
}

// GetVideoDetails returns the video and all of its file records in a single
// joined query. Used by read paths that must observe the freshest committed
// state (e.g. federation announcement after derivative work).
func (store *Store) GetVideoDetails(db database.Queryable, videoID uuid.UUID) (*Details, error) {
	query, args, err := selectVideoBuilder().Where("videos.id=?", videoID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select video query: %w", err)
	}

	var model videoModel
	if err := db.Get(&model, db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVideoNotFound
		}

		return nil, err
	}

	details := Details{Video: model.Video}
	if files := model.Files.Get(); files != nil {
		details.Files = *files
	}

	return &details, nil
}

func (store *Store) SaveVideoFile(db database.Queryable, f *VideoFile) error {
	_, err := db.NamedExec(`
		INSERT INTO video_files(id, video_id, extension, size, resolution, fps, metadata, info_hash,
			torrent_filename, created_at, updated_at)
		VALUES(:id, :video_id, :extension, :size, :resolution, :fps, :metadata, :info_hash,
			:torrent_filename, current_timestamp, current_timestamp)
		ON CONFLICT(video_id, resolution) DO UPDATE SET
			extension=EXCLUDED.extension, size=EXCLUDED.size, fps=EXCLUDED.fps,
			metadata=EXCLUDED.metadata, updated_at=current_timestamp
	`, f)
	if err != nil {
		return fmt.Errorf("failed to save file record for video %s: %w", f.VideoID, err)
	}

	return nil
}

func (store *Store) GetVideoFile(db database.Queryable, fileID uuid.UUID) (*VideoFile, error) {
	var result VideoFile
	if err := db.Get(&result, `SELECT * FROM video_files WHERE id=$1`, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVideoFileNotFound
		}

		return nil, err
	}

	return &result, nil
}

// SetFileTorrent records the content-addressed identity of a file record. The
// row is matched by ID so the write targets whatever state the record is in
// NOW, not the possibly-stale struct the caller holds.
func (store *Store) SetFileTorrent(db database.Queryable, fileID uuid.UUID, infoHash string, torrentFilename string) error {
	result, err := db.Exec(`
		UPDATE video_files SET info_hash=$2, torrent_filename=$3, updated_at=current_timestamp WHERE id=$1
	`, fileID, infoHash, torrentFilename)
	if err != nil {
		return err
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrVideoFileNotFound
	}

	return nil
}

func (store *Store) SaveThumbnail(db database.Queryable, t *Thumbnail) error {
	_, err := db.NamedExec(`
		INSERT INTO thumbnails(id, video_id, kind, origin, path, automatically_generated, created_at)
		VALUES(:id, :video_id, :kind, :origin, :path, :automatically_generated, current_timestamp)
		ON CONFLICT(video_id, kind) DO UPDATE SET
			origin=EXCLUDED.origin, path=EXCLUDED.path, automatically_generated=EXCLUDED.automatically_generated
	`, t)
	return err
}

// UpsertScheduledUpdate attaches (or replaces) the scheduled privacy change
// for a video. At most one exists per video.
func (store *Store) UpsertScheduledUpdate(db database.Queryable, s *ScheduledUpdate) error {
	_, err := db.NamedExec(`
		INSERT INTO video_scheduled_updates(id, video_id, update_at, privacy)
		VALUES(:id, :video_id, :update_at, :privacy)
		ON CONFLICT(video_id) DO UPDATE SET update_at=EXCLUDED.update_at, privacy=EXCLUDED.privacy
	`, s)
	return err
}

func (store *Store) DeleteScheduledUpdate(db database.Queryable, videoID uuid.UUID) error {
	_, err := db.Exec(`DELETE FROM video_scheduled_updates WHERE video_id=$1`, videoID)
	return err
}

// GetDueScheduledUpdates lists every scheduled privacy change whose effective
// time has elapsed. The scheduler applying them lives outside this core.
func (store *Store) GetDueScheduledUpdates(db database.Queryable) ([]ScheduledUpdate, error) {
	var results []ScheduledUpdate
	if err := db.Select(&results, `SELECT * FROM video_scheduled_updates WHERE update_at <= current_timestamp`); err != nil {
		return nil, err
	}

	return results, nil
}

func (store *Store) SaveCaption(db database.Queryable, c *Caption) error {
	_, err := db.NamedExec(`
		INSERT INTO video_captions(id, video_id, language, path, created_at)
		VALUES(:id, :video_id, :language, :path, current_timestamp)
		ON CONFLICT(video_id, language) DO UPDATE SET path=EXCLUDED.path
	`, c)
	return err
}

// AddViews bumps the persisted VOD view total for a video.
func (store *Store) AddViews(db database.Queryable, videoID uuid.UUID, count int64) error {
	_, err := db.Exec(`UPDATE videos SET views = views + $2 WHERE id=$1`, videoID, count)
	return err
}

func (store *Store) GetChannel(db database.Queryable, channelID uuid.UUID) (*Channel, error) {
	var result Channel
	if err := db.Get(&result, `SELECT * FROM channels WHERE id=$1`, channelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChannelNotFound
		}

		return nil, err
	}

	return &result, nil
}

// MarkChannelUpdated refreshes the channels updated marker, signalling to
// subscribers that the channel has new content.
func (store *Store) MarkChannelUpdated(db database.Queryable, channelID uuid.UUID) error {
	_, err := db.Exec(`UPDATE channels SET updated_at=current_timestamp WHERE id=$1`, channelID)
	return err
}

func selectVideoBuilder() squirrel.SelectBuilder {
	return squirrel.
		Select("videos.*", "COALESCE(JSONB_AGG(video_files.*) FILTER (WHERE video_files.id IS NOT NULL), '[]') AS files").
		From("videos").
		LeftJoin("video_files ON video_files.video_id = videos.id").
		GroupBy("videos.id")
}
