package video

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is a value-object copy of a videos mutable fields, captured
// immediately before the first attempt of a retryable transaction. Restoring
// the snapshot before each re-execution guarantees a rolled-back attempt's
// partial mutations are never used as the base for the next attempt.
type Snapshot struct {
	channelID             uuid.UUID
	name                  string
	description           *string
	privacy               Privacy
	category              *int
	licence               *int
	language              *string
	nsfw                  bool
	commentsEnabled       bool
	downloadEnabled       bool
	waitTranscoding       bool
	duration              int
	state                 State
	support               *string
	originallyPublishedAt *time.Time
}

// TakeSnapshot captures the current values of the videos mutable fields.
// Pointer fields are copied by value so later mutation of the video cannot
// alter the captured state.
func TakeSnapshot(v *Video) Snapshot {
	return Snapshot{
		channelID:             v.ChannelID,
		name:                  v.Name,
		description:           copyPtr(v.Description),
		privacy:               v.Privacy,
		category:              copyPtr(v.Category),
		licence:               copyPtr(v.Licence),
		language:              copyPtr(v.Language),
		nsfw:                  v.NSFW,
		commentsEnabled:       v.CommentsEnabled,
		downloadEnabled:       v.DownloadEnabled,
		waitTranscoding:       v.WaitTranscoding,
		duration:              v.Duration,
		state:                 v.State,
		support:               copyPtr(v.Support),
		originallyPublishedAt: copyPtr(v.OriginallyPublishedAt),
	}
}

// ChannelID exposes the captured channel so callers can tell a patch that
// re-homes the video apart from one naming the channel it already had.
func (s Snapshot) ChannelID() uuid.UUID {
	return s.channelID
}

// Restore writes the captured values back onto the video, discarding any
// mutation applied since the snapshot was taken.
func (s Snapshot) Restore(v *Video) {
	v.ChannelID = s.channelID
	v.Name = s.name
	v.Description = copyPtr(s.description)
	v.Privacy = s.privacy
	v.Category = copyPtr(s.category)
	v.Licence = copyPtr(s.licence)
	v.Language = copyPtr(s.language)
	v.NSFW = s.nsfw
	v.CommentsEnabled = s.commentsEnabled
	v.DownloadEnabled = s.downloadEnabled
	v.WaitTranscoding = s.waitTranscoding
	v.Duration = s.duration
	v.State = s.state
	v.Support = copyPtr(s.support)
	v.OriginallyPublishedAt = copyPtr(s.originallyPublishedAt)
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}

	v := *p
	return &v
}
