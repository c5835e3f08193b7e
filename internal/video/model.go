package video

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	// State tracks a videos lifecycle from creation (or import) through
	// to publication.
	State int

	// Privacy is the visibility level of a video. The zero value is not
	// a legal privacy; callers must choose one explicitly.
	Privacy int

	// ThumbnailKind distinguishes the two thumbnail slots every video
	// may carry.
	ThumbnailKind int

	// ThumbnailOrigin records where the bytes of a thumbnail came from.
	ThumbnailOrigin int

	// Video is the canonical catalog record for a media resource. It is
	// built in-memory by the ingest coordinator (or import resolver) and
	// becomes durable once a store save commits.
	Video struct {
		ID                    uuid.UUID  `db:"id"`
		ChannelID             uuid.UUID  `db:"channel_id"`
		Name                  string     `db:"name"`
		Description           *string    `db:"description"`
		Privacy               Privacy    `db:"privacy"`
		Category              *int       `db:"category"`
		Licence               *int       `db:"licence"`
		Language              *string    `db:"language"`
		NSFW                  bool       `db:"nsfw"`
		CommentsEnabled       bool       `db:"comments_enabled"`
		DownloadEnabled       bool       `db:"download_enabled"`
		WaitTranscoding       bool       `db:"wait_transcoding"`
		IsLive                bool       `db:"is_live"`
		Duration              int        `db:"duration"`
		Views                 int64      `db:"views"`
		State                 State      `db:"state"`
		Support               *string    `db:"support"`
		OriginallyPublishedAt *time.Time `db:"originally_published_at"`
		CreatedAt             time.Time  `db:"created_at"`
		UpdatedAt             time.Time  `db:"updated_at"`
	}

	// VideoFile is one physical rendition of a video. Resolution carries the
	// AudioOnlyResolution sentinel (and a nil FPS) for audio-only media.
	// The json tags mirror the column names so rows survive a round-trip
	// through the JSONB aggregate used by the joined video read.
	VideoFile struct {
		ID              uuid.UUID `db:"id" json:"id"`
		VideoID         uuid.UUID `db:"video_id" json:"video_id"`
		Extension       string    `db:"extension" json:"extension"`
		Size            int64     `db:"size" json:"size"`
		Resolution      int       `db:"resolution" json:"resolution"`
		FPS             *int      `db:"fps" json:"fps"`
		Metadata        []byte    `db:"metadata" json:"metadata"`
		InfoHash        *string   `db:"info_hash" json:"info_hash"`
		TorrentFilename *string   `db:"torrent_filename" json:"torrent_filename"`
		CreatedAt       time.Time `db:"created_at" json:"created_at"`
		UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
	}

	Thumbnail struct {
		ID                     uuid.UUID       `db:"id"`
		VideoID                uuid.UUID       `db:"video_id"`
		Kind                   ThumbnailKind   `db:"kind"`
		Origin                 ThumbnailOrigin `db:"origin"`
		Path                   string          `db:"path"`
		AutomaticallyGenerated bool            `db:"automatically_generated"`
		CreatedAt              time.Time       `db:"created_at"`
	}

	// ScheduledUpdate is an optional privacy change attached to a video,
	// applied once UpdateAt has elapsed. At most one exists per video.
	ScheduledUpdate struct {
		ID       uuid.UUID `db:"id"`
		VideoID  uuid.UUID `db:"video_id"`
		UpdateAt time.Time `db:"update_at"`
		Privacy  Privacy   `db:"privacy"`
	}

	Caption struct {
		ID        uuid.UUID `db:"id"`
		VideoID   uuid.UUID `db:"video_id"`
		Language  string    `db:"language"`
		Path      string    `db:"path"`
		CreatedAt time.Time `db:"created_at"`
	}

	Channel struct {
		ID        uuid.UUID `db:"id"`
		Name      string    `db:"name"`
		Local     bool      `db:"local"`
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
)

const (
	ToTranscode State = iota + 1
	Published
	ToImport
)

const (
	PrivacyPublic Privacy = iota + 1
	PrivacyUnlisted
	PrivacyPrivate
	PrivacyInternal
)

const (
	ThumbnailMiniature ThumbnailKind = iota + 1
	ThumbnailPreview
)

const (
	ThumbnailOriginUploaded ThumbnailOrigin = iota + 1
	ThumbnailOriginGenerated
	ThumbnailOriginFetched
)

// AudioOnlyResolution is the sentinel resolution recorded for file records
// whose media carries no video stream.
const AudioOnlyResolution = 0

// FederationEligible reports whether videos at this privacy level may be
// propagated to peer instances. Private and internal videos never leave
// the local instance.
func (p Privacy) FederationEligible() bool {
	return p == PrivacyPublic || p == PrivacyUnlisted
}

func (s State) String() string {
	switch s {
	case ToTranscode:
		return "TO_TRANSCODE"
	case Published:
		return "PUBLISHED"
	case ToImport:
		return "TO_IMPORT"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}

func (v *Video) String() string {
	return fmt.Sprintf("Video{ID=%s name=%q state=%s}", v.ID, v.Name, v.State)
}

// IsAudioOnly reports whether this file record represents audio-only media.
func (f *VideoFile) IsAudioOnly() bool {
	return f.Resolution == AudioOnlyResolution
}
