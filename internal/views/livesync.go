package views

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/database"
)

type (
	// ViewFederator propagates view totals to peers. Live totals go out on
	// the syncers schedule, never per-view.
	ViewFederator interface {
		PropagateView(ctx context.Context, videoID uuid.UUID) error
	}

	// LiveSyncer periodically closes out live-session totals: drained
	// counts are persisted onto catalog rows and announced to peers once
	// per video per cycle.
	LiveSyncer struct {
		config    Config
		live      *SessionAggregator
		db        database.Manager
		catalog   CatalogStore
		federator ViewFederator
	}
)

func NewLiveSyncer(config Config, live *SessionAggregator, db database.Manager, catalog CatalogStore, federator ViewFederator) *LiveSyncer {
	return &LiveSyncer{config: config, live: live, db: db, catalog: catalog, federator: federator}
}

// Run drains the live-session aggregator on the configured flush interval,
// closing out one final time when the context is cancelled.
func (syncer *LiveSyncer) Run(ctx context.Context) error {
	interval := time.Duration(syncer.config.FlushIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			syncer.closeOut(ctx)
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
			syncer.closeOut(closeCtx)
			cancel()
			return nil
		}
	}
}

func (syncer *LiveSyncer) closeOut(ctx context.Context) {
	for videoID, count := range syncer.live.Drain() {
		if err := syncer.catalog.AddViews(syncer.db.GetSqlxDb(), videoID, count); err != nil {
			log.Errorf("Failed to persist %d live views onto video %s: %s\n", count, videoID, err.Error())
			continue
		}

		if err := syncer.federator.PropagateView(ctx, videoID); err != nil {
			log.Warnf("Failed to announce live view total for video %s: %s\n", videoID, err.Error())
		}
	}
}
