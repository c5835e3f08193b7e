package federation

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/database"
	"github.com/naiad-media/naiad/internal/event"
	"github.com/naiad-media/naiad/internal/video"
	"github.com/naiad-media/naiad/pkg/logger"
)

var log = logger.Get("Federation")

const maxStageRetries = 3

type (
	// VideoReader is the slice of the video store the notifier uses for its
	// fresh post-commit read.
	VideoReader interface {
		GetVideoDetails(db database.Queryable, videoID uuid.UUID) (*video.Details, error)
	}

	// Notifier performs the best-effort, post-commit half of publication:
	// notify local subscribers, then propagate to peers. It never surfaces
	// errors to the operation that triggered it.
	Notifier struct {
		db        database.Manager
		videos    VideoReader
		eventBus  event.EventCoordinator
		federator Federator
	}
)

func NewNotifier(db database.Manager, videos VideoReader, eventBus event.EventCoordinator, federator Federator) *Notifier {
	return &Notifier{db: db, videos: videos, eventBus: eventBus, federator: federator}
}

// NotifyAndFederate reloads the fully-populated video and announces it: local
// subscribers first, peers second. The reload is deliberate - derivative work
// (torrent creation, transcodes) may have completed since the triggering
// transaction committed, and peers should see that state.
//
// Each stage is retried a bounded number of times; a stage that still fails
// is logged and the chain is abandoned. Nothing is ever reported to a caller.
func (notifier *Notifier) NotifyAndFederate(ctx context.Context, videoID uuid.UUID, isNew bool) {
	var details *video.Details
	err := notifier.retryStage(ctx, "reload", func() error {
		var err error
		details, err = notifier.videos.GetVideoDetails(notifier.db.GetSqlxDb(), videoID)
		return err
	})
	if err != nil {
		log.Errorf("Abandoning federation of video %s: reload failed: %s\n", videoID, err.Error())
		return
	}

	if isNew {
		notifier.eventBus.Dispatch(event.NewVideoEvent, videoID)
	} else {
		notifier.eventBus.Dispatch(event.UpdateVideoEvent, videoID)
	}

	if !details.Privacy.FederationEligible() {
		log.Debugf("Video %s is not federation-eligible (privacy %d); peers not notified\n", videoID, details.Privacy)
		return
	}

	err = notifier.retryStage(ctx, "propagate", func() error {
		return notifier.federator.Propagate(ctx, details, isNew)
	})
	if err != nil {
		log.Errorf("Abandoning federation of video %s: propagate failed: %s\n", videoID, err.Error())
		return
	}

	log.Debugf("Video %s announced to local subscribers and federated to peers\n", videoID)
}

// FederateView forwards a recorded VOD view to peers, best-effort.
func (notifier *Notifier) FederateView(ctx context.Context, videoID uuid.UUID) {
	err := notifier.retryStage(ctx, "propagate-view", func() error {
		return notifier.federator.PropagateView(ctx, videoID)
	})
	if err != nil {
		log.Errorf("Failed to federate view of video %s: %s\n", videoID, err.Error())
	}
}

func (notifier *Notifier) retryStage(ctx context.Context, label string, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxStageRetries),
		ctx,
	)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if err := op(); err != nil {
			log.Warnf("Federation stage '%s' attempt %d failed: %s\n", label, attempt, err.Error())
			return fmt.Errorf("stage '%s': %w", label, err)
		}

		return nil
	}, policy)
}
