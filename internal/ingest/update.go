package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/naiad-media/naiad/internal/video"
)

// UpdateVideo applies a partial patch to an existing video inside one
// retryable transaction. Absent patch fields leave the stored value alone.
// When the privacy change takes the video out of federation eligibility an
// explicit retract is issued to peers before the new value becomes durable;
// on any failure the in-memory descriptor is restored to its pre-update
// snapshot before the error is surfaced.
func (coordinator *Coordinator) UpdateVideo(ctx context.Context, videoID uuid.UUID, patch *UpdatePatch) (*video.Video, error) {
	if err := coordinator.validate.Struct(patch); err != nil {
		return nil, err
	}

	v, err := coordinator.videos.GetVideo(coordinator.db.GetSqlxDb(), videoID)
	if err != nil {
		return nil, err
	}

	snapshot := video.TakeSnapshot(v)
	wasEligible := v.Privacy.FederationEligible()

	if err := coordinator.db.WrapRetryableTx(func(tx *sqlx.Tx) error {
		snapshot.Restore(v)
		applyPatch(v, patch)

		if wasEligible && !v.Privacy.FederationEligible() {
			// Peers must forget the video before the ineligible privacy
			// value is durable; retract is idempotent so a transaction
			// retry re-issuing it is harmless.
			if err := coordinator.federator.Retract(ctx, v.ID); err != nil {
				return fmt.Errorf("failed to retract video %s from peers: %w", v.ID, err)
			}
		}

		if patch.ChannelID != nil && *patch.ChannelID != snapshot.ChannelID() {
			if err := coordinator.reassignChannel(ctx, tx, v, *patch.ChannelID); err != nil {
				return err
			}
		}

		if err := coordinator.videos.UpdateVideo(tx, v); err != nil {
			return err
		}

		if patch.Tags != nil {
			tags, err := coordinator.videos.UpsertTags(tx, patch.Tags)
			if err != nil {
				return err
			}

			if err := coordinator.videos.SaveVideoTagAssociations(tx, v.ID, tags); err != nil {
				return err
			}
		}

		return coordinator.applyScheduledChange(tx, v.ID, patch)
	}); err != nil {
		snapshot.Restore(v)
		return nil, err
	}

	// Subscribers see the video as brand new when it leaves a confidential
	// privacy level for the first time.
	isNewForSubscribers := !wasEligible && v.Privacy.FederationEligible()
	go coordinator.notifier.NotifyAndFederate(context.Background(), v.ID, isNewForSubscribers)

	return v, nil
}

func applyPatch(v *video.Video, patch *UpdatePatch) {
	if patch.Name != nil {
		v.Name = *patch.Name
	}
	if patch.Description != nil {
		v.Description = patch.Description
	}
	if patch.Privacy != nil {
		v.Privacy = *patch.Privacy
	}
	if patch.Category != nil {
		v.Category = patch.Category
	}
	if patch.Licence != nil {
		v.Licence = patch.Licence
	}
	if patch.Language != nil {
		v.Language = patch.Language
	}
	if patch.NSFW != nil {
		v.NSFW = *patch.NSFW
	}
	if patch.CommentsEnabled != nil {
		v.CommentsEnabled = *patch.CommentsEnabled
	}
	if patch.DownloadEnabled != nil {
		v.DownloadEnabled = *patch.DownloadEnabled
	}
	if patch.WaitTranscoding != nil {
		v.WaitTranscoding = *patch.WaitTranscoding
	}
	if patch.Support != nil {
		v.Support = patch.Support
	}
	if patch.OriginallyPublishedAt != nil {
		v.OriginallyPublishedAt = patch.OriginallyPublishedAt
	}
	if patch.ChannelID != nil {
		v.ChannelID = *patch.ChannelID
	}
}

// reassignChannel re-homes the video under a new channel and, when the video
// is visible to peers, tells them about the ownership change.
func (coordinator *Coordinator) reassignChannel(ctx context.Context, tx *sqlx.Tx, v *video.Video, channelID uuid.UUID) error {
	if _, err := coordinator.videos.GetChannel(tx, channelID); err != nil {
		return err
	}

	if err := coordinator.videos.MarkChannelUpdated(tx, channelID); err != nil {
		return err
	}

	if v.Privacy.FederationEligible() {
		details, err := coordinator.videos.GetVideoDetails(tx, v.ID)
		if err != nil {
			return err
		}

		details.ChannelID = channelID
		if err := coordinator.federator.PropagateOwnershipChange(ctx, details); err != nil {
			return fmt.Errorf("failed to propagate ownership change for video %s: %w", v.ID, err)
		}
	}

	return nil
}

// applyScheduledChange handles the three-way scheduled-update semantics of a
// patch: set, explicitly clear, or leave untouched.
func (coordinator *Coordinator) applyScheduledChange(tx *sqlx.Tx, videoID uuid.UUID, patch *UpdatePatch) error {
	if patch.ClearScheduledUpdate {
		return coordinator.videos.DeleteScheduledUpdate(tx, videoID)
	}

	if patch.ScheduledUpdate == nil {
		return nil
	}

	return coordinator.videos.UpsertScheduledUpdate(tx, &video.ScheduledUpdate{
		ID:       uuid.New(),
		VideoID:  videoID,
		UpdateAt: patch.ScheduledUpdate.UpdateAt,
		Privacy:  patch.ScheduledUpdate.Privacy,
	})
}
