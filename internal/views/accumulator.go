// The view accumulator provides de-duplicated, live-vs-VOD-aware view
// counting. Dedup state, buffered VOD counters and the live-session
// aggregator are all external and shared across every video concurrently.
package views

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/database"
	"github.com/naiad-media/naiad/pkg/logger"
)

var log = logger.Get("Views")

type (
	// Outcome reports what a view attempt did.
	Outcome int

	// LiveAggregator batches view increments for in-progress live streams;
	// it federates its totals on its own schedule, so the accumulator never
	// federates live views directly.
	LiveAggregator interface {
		AddView(videoID uuid.UUID)
	}

	// CatalogStore is the slice of the video store used to flush buffered
	// VOD counts onto catalog rows.
	CatalogStore interface {
		AddViews(db database.Queryable, videoID uuid.UUID, count int64) error
	}

	Accumulator struct {
		config  Config
		store   ViewStore
		live    LiveAggregator
		db      database.Manager
		catalog CatalogStore
	}
)

const (
	Recorded Outcome = iota
	AlreadyRecorded
)

func NewAccumulator(config Config, store ViewStore, live LiveAggregator, db database.Manager, catalog CatalogStore) *Accumulator {
	return &Accumulator{config: config, store: store, live: live, db: db, catalog: catalog}
}

// RecordView registers one view of the given video by the given viewer key.
//
// The check and the set are deliberately NOT one atomic primitive; two
// concurrent requests for the same pair may both observe "not recorded" in a
// narrow window, costing at most one extra counted view.
func (acc *Accumulator) RecordView(ctx context.Context, videoID uuid.UUID, viewerKey string, isLive bool, isLocal bool) (Outcome, error) {
	seen, err := acc.store.IsViewRecorded(ctx, videoID, viewerKey)
	if err != nil {
		return AlreadyRecorded, err
	}
	if seen {
		return AlreadyRecorded, nil
	}

	window := time.Duration(acc.config.DedupWindowSeconds) * time.Second
	if err := acc.store.RecordViewer(ctx, videoID, viewerKey, window); err != nil {
		return AlreadyRecorded, err
	}

	if isLive {
		// The VOD counter is never touched for a live stream. Only locally
		// owned streams reach the session aggregator; the origin instance
		// counts views of a remote live.
		if isLocal {
			acc.live.AddView(videoID)
		}

		return Recorded, nil
	}

	if err := acc.store.IncrementVOD(ctx, videoID); err != nil {
		return AlreadyRecorded, err
	}

	return Recorded, nil
}

// Run periodically drains the buffered VOD counters into the catalog. It
// blocks until the provided context is cancelled, flushing one final time
// on the way out.
func (acc *Accumulator) Run(ctx context.Context) error {
	interval := time.Duration(acc.config.FlushIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			acc.flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
			acc.flush(flushCtx)
			cancel()
			return nil
		}
	}
}

func (acc *Accumulator) flush(ctx context.Context) {
	counts, err := acc.store.DrainVOD(ctx)
	if err != nil {
		log.Errorf("Failed to drain buffered VOD counters: %s\n", err.Error())
		return
	}

	for videoID, count := range counts {
		if err := acc.catalog.AddViews(acc.db.GetSqlxDb(), videoID, count); err != nil {
			log.Errorf("Failed to flush %d views onto video %s: %s\n", count, videoID, err.Error())
		}
	}
}
