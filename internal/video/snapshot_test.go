package video_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/video"
	"github.com/stretchr/testify/assert"
)

func exampleVideo() *video.Video {
	description := "an example"
	category := 4
	published := time.Date(2023, time.March, 10, 12, 0, 0, 0, time.UTC)

	return &video.Video{
		ID:                    uuid.New(),
		ChannelID:             uuid.New(),
		Name:                  "example",
		Description:           &description,
		Privacy:               video.PrivacyPublic,
		Category:              &category,
		NSFW:                  false,
		CommentsEnabled:       true,
		DownloadEnabled:       true,
		Duration:              120,
		State:                 video.Published,
		OriginallyPublishedAt: &published,
	}
}

func Test_Snapshot_RestoreDiscardsMutations(t *testing.T) {
	v := exampleVideo()
	snapshot := video.TakeSnapshot(v)

	v.Name = "mutated"
	v.Privacy = video.PrivacyPrivate
	newDescription := "mutated description"
	v.Description = &newDescription
	v.Category = nil
	v.CommentsEnabled = false

	snapshot.Restore(v)

	assert.Equal(t, "example", v.Name)
	assert.Equal(t, video.PrivacyPublic, v.Privacy)
	assert.Equal(t, "an example", *v.Description)
	assert.Equal(t, 4, *v.Category)
	assert.True(t, v.CommentsEnabled)
}

// Re-applying a toggle across two simulated retries must not compound: the
// snapshot is restored before each attempt, so the final state reflects a
// single application of the patch.
func Test_Snapshot_RetriedToggleDoesNotCompound(t *testing.T) {
	v := exampleVideo()
	assert.False(t, v.NSFW)

	snapshot := video.TakeSnapshot(v)

	for attempt := 0; attempt < 2; attempt++ {
		snapshot.Restore(v)
		v.NSFW = !v.NSFW
	}

	assert.True(t, v.NSFW)
}

func Test_Snapshot_PointerFieldsAreDeepCopied(t *testing.T) {
	v := exampleVideo()
	snapshot := video.TakeSnapshot(v)

	// Mutating the pointee after taking the snapshot must not alter the
	// captured value.
	*v.Description = "scribbled over"
	snapshot.Restore(v)

	assert.Equal(t, "an example", *v.Description)
}

func Test_Snapshot_DoesNotTouchImmutableFields(t *testing.T) {
	v := exampleVideo()
	originalID := v.ID
	v.Views = 42

	snapshot := video.TakeSnapshot(v)
	v.Name = "mutated"
	snapshot.Restore(v)

	assert.Equal(t, originalID, v.ID)
	assert.EqualValues(t, 42, v.Views)
}
