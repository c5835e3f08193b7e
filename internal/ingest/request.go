package ingest

import (
	"time"

	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/moderation"
	"github.com/naiad-media/naiad/internal/video"
)

type (
	// ScheduledChange requests a later privacy transition for the video
	// being created or updated.
	ScheduledChange struct {
		UpdateAt time.Time     `validate:"required"`
		Privacy  video.Privacy `validate:"required"`
	}

	// AddRequest is one upload: the physical file already on local disk
	// plus the descriptor fields chosen by the uploader.
	AddRequest struct {
		ChannelID uuid.UUID `validate:"required"`
		Requester moderation.Requester
		FilePath  string `validate:"required"`

		Name                  string `validate:"required,min=1,max=120"`
		Description           *string
		Privacy               video.Privacy `validate:"required"`
		Category              *int
		Licence               *int
		Language              *string
		NSFW                  bool
		CommentsEnabled       bool
		DownloadEnabled       bool
		WaitTranscoding       bool
		Support               *string
		OriginallyPublishedAt *time.Time
		Tags                  []string `validate:"max=5,dive,min=1,max=30"`

		ThumbnailPath   string
		PreviewPath     string
		ScheduledUpdate *ScheduledChange
	}

	// UpdatePatch applies partial changes to an existing video. A nil
	// field is untouched. ScheduledUpdate uses the three-way flag: when
	// ClearScheduledUpdate is set an existing scheduled change is removed,
	// which is distinct from leaving ScheduledUpdate nil.
	UpdatePatch struct {
		Name                  *string `validate:"omitempty,min=1,max=120"`
		Description           *string
		Privacy               *video.Privacy
		Category              *int
		Licence               *int
		Language              *string
		NSFW                  *bool
		CommentsEnabled       *bool
		DownloadEnabled       *bool
		WaitTranscoding       *bool
		Support               *string
		OriginallyPublishedAt *time.Time
		Tags                  []string `validate:"max=5,dive,min=1,max=30"`
		ChannelID             *uuid.UUID

		ScheduledUpdate      *ScheduledChange
		ClearScheduledUpdate bool
	}
)
