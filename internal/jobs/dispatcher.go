// The job dispatcher hands typed payloads to the external worker system via
// a redis-backed queue. Callers choose between two guarantee levels: an
// awaited enqueue (the caller blocks until the queue acknowledges receipt)
// and a fire-and-forget handoff whose failures are only ever logged.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/naiad-media/naiad/pkg/logger"
	"github.com/redis/go-redis/v9"
)

var log = logger.Get("JobQueue")

const enqueueTimeout = time.Second * 10

type (
	Config struct {
		RedisURL  string `yaml:"redis_url" env:"JOBS_REDIS_URL" env-default:"redis://localhost:6379/0"`
		QueueName string `yaml:"queue" env:"JOBS_QUEUE" env-default:"naiad:jobs"`
	}

	// Queue is the transport the dispatcher pushes envelopes onto. Satisfied
	// by *redis.Client; abstracted for tests.
	Queue interface {
		LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	}

	Dispatcher struct {
		queue     Queue
		queueName string
	}
)

func NewDispatcher(config Config) (*Dispatcher, error) {
	opt, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse job queue redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping job queue redis: %w", err)
	}

	return &Dispatcher{queue: client, queueName: config.QueueName}, nil
}

func NewDispatcherWithQueue(queue Queue, queueName string) *Dispatcher {
	return &Dispatcher{queue: queue, queueName: queueName}
}

// EnqueueTranscode submits a transcode job, blocking until the queue
// acknowledges receipt. Losing a transcode job silently would leave a
// published-looking record that never transcodes, so this is always awaited.
func (dispatcher *Dispatcher) EnqueueTranscode(ctx context.Context, payload TranscodePayload) (*Envelope, error) {
	envelope, err := newEnvelope(TypeTranscode, payload)
	if err != nil {
		return nil, err
	}

	return envelope, dispatcher.push(ctx, envelope)
}

// EnqueueImportTorrent submits an awaited torrent-import job.
func (dispatcher *Dispatcher) EnqueueImportTorrent(ctx context.Context, payload ImportTorrentPayload) (*Envelope, error) {
	envelope, err := newEnvelope(TypeImportTorrent, payload)
	if err != nil {
		return nil, err
	}

	return envelope, dispatcher.push(ctx, envelope)
}

// EnqueueImportMagnet submits an awaited magnet-import job.
func (dispatcher *Dispatcher) EnqueueImportMagnet(ctx context.Context, payload ImportMagnetPayload) (*Envelope, error) {
	envelope, err := newEnvelope(TypeImportMagnet, payload)
	if err != nil {
		return nil, err
	}

	return envelope, dispatcher.push(ctx, envelope)
}

// EnqueueImportURL submits an awaited remote-URL-import job.
func (dispatcher *Dispatcher) EnqueueImportURL(ctx context.Context, payload ImportURLPayload) (*Envelope, error) {
	envelope, err := newEnvelope(TypeImportURL, payload)
	if err != nil {
		return nil, err
	}

	return envelope, dispatcher.push(ctx, envelope)
}

// EnqueueDetached submits a job without making the caller wait for queue
// acknowledgment. A failed handoff is logged and dropped.
func (dispatcher *Dispatcher) EnqueueDetached(jobType JobType, payload any) {
	envelope, err := newEnvelope(jobType, payload)
	if err != nil {
		log.Errorf("Failed to build detached %s job: %s\n", jobType, err.Error())
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		defer cancel()

		if err := dispatcher.push(ctx, envelope); err != nil {
			log.Errorf("Detached enqueue of %s job %s failed: %s\n", envelope.Type, envelope.ID, err.Error())
		}
	}()
}

func (dispatcher *Dispatcher) push(ctx context.Context, envelope *Envelope) error {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to serialise job envelope: %w", err)
	}

	if err := dispatcher.queue.LPush(ctx, dispatcher.queueName, raw).Err(); err != nil {
		return fmt.Errorf("job queue rejected %s job %s: %w", envelope.Type, envelope.ID, err)
	}

	log.Debugf("Enqueued %s job %s\n", envelope.Type, envelope.ID)
	return nil
}
