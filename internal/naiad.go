package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/naiad-media/naiad/internal/artifact"
	"github.com/naiad-media/naiad/internal/database"
	"github.com/naiad-media/naiad/internal/event"
	"github.com/naiad-media/naiad/internal/extractor"
	"github.com/naiad-media/naiad/internal/federation"
	"github.com/naiad-media/naiad/internal/importer"
	"github.com/naiad-media/naiad/internal/ingest"
	"github.com/naiad-media/naiad/internal/jobs"
	"github.com/naiad-media/naiad/internal/moderation"
	"github.com/naiad-media/naiad/internal/storage"
	"github.com/naiad-media/naiad/internal/torrent"
	"github.com/naiad-media/naiad/internal/video"
	"github.com/naiad-media/naiad/internal/views"
	"github.com/naiad-media/naiad/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	runnableFunc func(context.Context) error
)

func (f runnableFunc) Run(ctx context.Context) error { return f(ctx) }

// Naiad is the top-level object for the server, responsible for wiring the
// catalog stores, artifact pipeline, job queue, view accumulator and
// federation notifier together and running the long-lived services.
type Naiad struct {
	config   NaiadConfig
	eventBus event.EventCoordinator

	videoStore  *video.Store
	importStore *importer.Store
	policy      *moderation.Policy
	federator   federation.Federator

	coordinator *ingest.Coordinator
	resolver    *importer.Resolver
}

func New(config NaiadConfig) *Naiad {
	log.Debugf("Bootstrapping Naiad services using config: %#v\n", config)

	return &Naiad{
		config:      config,
		eventBus:    event.New(),
		videoStore:  video.NewStore(),
		importStore: importer.NewStore(),
		policy:      moderation.NewPolicy(config.Moderation),
		federator:   federation.NoopFederator{},
	}
}

// Run connects the external collaborators (Postgres, Redis), wires the
// operation surfaces and runs the long-lived services until the provided
// context is cancelled or a service crashes.
func (naiad *Naiad) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Fatalf("Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Infof("Connecting to database...\n")
	db := database.New()
	if err := db.Connect(naiad.config.Database); err != nil {
		return err
	}

	artifacts, err := storage.New(naiad.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialise artifact storage: %w", err)
	}

	log.Infof("Connecting to job queue...\n")
	dispatcher, err := jobs.NewDispatcher(naiad.config.Jobs)
	if err != nil {
		return err
	}

	log.Infof("Connecting to view store...\n")
	viewStore, err := views.NewRedisViewStore(naiad.config.Views.RedisURL)
	if err != nil {
		return err
	}

	prober := &artifact.FfprobeProber{
		FfmpegBinPath:  naiad.config.FfmpegBinPath,
		FfprobeBinPath: naiad.config.FfprobeBinPath,
	}
	pipeline := artifact.NewPipeline(prober)

	liveSessions := views.NewSessionAggregator()
	accumulator := views.NewAccumulator(naiad.config.Views, viewStore, liveSessions, db, naiad.videoStore)
	liveSyncer := views.NewLiveSyncer(naiad.config.Views, liveSessions, db, naiad.videoStore, naiad.federator)
	notifier := federation.NewNotifier(db, naiad.videoStore, naiad.eventBus, naiad.federator)
	torrentStage := torrent.NewStage(db, naiad.videoStore, artifacts, naiad.config.Trackers)

	naiad.coordinator = ingest.New(
		naiad.config.Ingest,
		db,
		naiad.videoStore,
		artifacts,
		pipeline,
		prober,
		torrentStage,
		notifier,
		dispatcher,
		accumulator,
		naiad.policy,
		naiad.federator,
		naiad.eventBus,
	)

	naiad.resolver = importer.NewResolver(
		naiad.config.Import,
		db,
		naiad.videoStore,
		naiad.importStore,
		artifacts,
		pipeline,
		extractor.New(naiad.config.Extractor),
		dispatcher,
		naiad.policy,
		naiad.eventBus,
	)

	wg := &sync.WaitGroup{}
	naiad.spawnAsyncService(ctx, wg, accumulator, "view-accumulator", crashHandler)
	naiad.spawnAsyncService(ctx, wg, liveSyncer, "live-view-sync", crashHandler)
	naiad.spawnAsyncService(ctx, wg, runnableFunc(naiad.coordinator.RunScheduledUpdates), "scheduled-updates", crashHandler)
	log.Infof("Naiad services spawned!\n")

	wg.Wait()
	return nil
}

// Coordinator exposes the add/update/view operation surface. Only valid once
// Run has wired the services.
func (naiad *Naiad) Coordinator() *ingest.Coordinator { return naiad.coordinator }

// Resolver exposes the import operation surface. Only valid once Run has
// wired the services.
func (naiad *Naiad) Resolver() *importer.Resolver { return naiad.resolver }

// spawnAsyncService will run the provided service as its own go-routine,
// ensuring that the service waitgroup is updated correctly
func (naiad *Naiad) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Debugf("Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
