package ingest

import (
	"context"
	"time"
)

const scheduledUpdateInterval = time.Minute

// RunScheduledUpdates periodically applies due scheduled privacy changes.
// Each due row is turned into a regular UpdateVideo call (so federation and
// notification behave exactly as a manual change would) and then cleared.
// Returns when the context is cancelled.
func (coordinator *Coordinator) RunScheduledUpdates(ctx context.Context) error {
	ticker := time.NewTicker(scheduledUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			coordinator.applyDueScheduledUpdates(ctx)
		}
	}
}

func (coordinator *Coordinator) applyDueScheduledUpdates(ctx context.Context) {
	due, err := coordinator.videos.GetDueScheduledUpdates(coordinator.db.GetSqlxDb())
	if err != nil {
		log.Errorf("Failed to list due scheduled updates: %v\n", err)
		return
	}

	for _, scheduled := range due {
		privacy := scheduled.Privacy
		patch := &UpdatePatch{Privacy: &privacy, ClearScheduledUpdate: true}
		if _, err := coordinator.UpdateVideo(ctx, scheduled.VideoID, patch); err != nil {
			log.Errorf("Failed to apply scheduled update for video %s: %v\n", scheduled.VideoID, err)
			continue
		}

		log.Infof("Applied scheduled privacy change for video %s (now %d)\n", scheduled.VideoID, privacy)
	}
}
