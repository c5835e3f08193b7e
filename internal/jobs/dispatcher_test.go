package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/jobs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu     sync.Mutex
	keys   []string
	pushed [][]byte
	err    error
	signal chan struct{}
}

func (queue *fakeQueue) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	queue.mu.Lock()
	queue.keys = append(queue.keys, key)
	for _, value := range values {
		queue.pushed = append(queue.pushed, value.([]byte))
	}
	count := int64(len(queue.pushed))
	queue.mu.Unlock()

	cmd := redis.NewIntCmd(ctx, "lpush", key)
	if queue.err != nil {
		cmd.SetErr(queue.err)
	} else {
		cmd.SetVal(count)
	}

	if queue.signal != nil {
		queue.signal <- struct{}{}
	}
	return cmd
}

func (queue *fakeQueue) lastPushed(t *testing.T) jobs.Envelope {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	require.NotEmpty(t, queue.pushed)

	envelope := jobs.Envelope{}
	require.NoError(t, json.Unmarshal(queue.pushed[len(queue.pushed)-1], &envelope))
	return envelope
}

func Test_Dispatcher_AwaitedEnqueueWrapsPayload(t *testing.T) {
	queue := &fakeQueue{}
	dispatcher := jobs.NewDispatcherWithQueue(queue, "naiad:jobs")

	payload := jobs.TranscodePayload{VideoID: uuid.New(), IsNew: true}
	envelope, err := dispatcher.EnqueueTranscode(context.Background(), payload)
	require.NoError(t, err)
	require.NotNil(t, envelope)
	assert.Equal(t, jobs.TypeTranscode, envelope.Type)
	assert.NotEqual(t, uuid.Nil, envelope.ID)

	pushed := queue.lastPushed(t)
	assert.Equal(t, []string{"naiad:jobs"}, queue.keys)
	assert.Equal(t, envelope.ID, pushed.ID)
	assert.Equal(t, jobs.TypeTranscode, pushed.Type)

	decoded := jobs.TranscodePayload{}
	require.NoError(t, json.Unmarshal(pushed.Payload, &decoded))
	assert.Equal(t, payload, decoded)
}

func Test_Dispatcher_AwaitedEnqueueSurfacesQueueFailure(t *testing.T) {
	queue := &fakeQueue{err: errors.New("connection refused")}
	dispatcher := jobs.NewDispatcherWithQueue(queue, "naiad:jobs")

	_, err := dispatcher.EnqueueImportMagnet(context.Background(), jobs.ImportMagnetPayload{
		ImportID:  uuid.New(),
		MagnetURI: "magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func Test_Dispatcher_DetachedEnqueueDeliversAsynchronously(t *testing.T) {
	queue := &fakeQueue{signal: make(chan struct{}, 1)}
	dispatcher := jobs.NewDispatcherWithQueue(queue, "naiad:jobs")

	payload := jobs.ImportURLPayload{ImportID: uuid.New(), TargetURL: "https://example.com/v", FileExt: "mp4"}
	dispatcher.EnqueueDetached(jobs.TypeImportURL, payload)

	select {
	case <-queue.signal:
	case <-time.After(time.Second * 5):
		t.Fatal("detached job was never handed to the queue")
	}

	pushed := queue.lastPushed(t)
	assert.Equal(t, jobs.TypeImportURL, pushed.Type)

	decoded := jobs.ImportURLPayload{}
	require.NoError(t, json.Unmarshal(pushed.Payload, &decoded))
	assert.Equal(t, payload, decoded)
}

func Test_Dispatcher_DetachedEnqueueFailureIsDropped(t *testing.T) {
	queue := &fakeQueue{err: errors.New("connection refused"), signal: make(chan struct{}, 1)}
	dispatcher := jobs.NewDispatcherWithQueue(queue, "naiad:jobs")

	// A failed detached handoff is logged and dropped; nothing for the
	// caller to observe beyond the attempt itself.
	dispatcher.EnqueueDetached(jobs.TypeTranscode, jobs.TranscodePayload{VideoID: uuid.New()})

	select {
	case <-queue.signal:
	case <-time.After(time.Second * 5):
		t.Fatal("detached job was never handed to the queue")
	}
}
