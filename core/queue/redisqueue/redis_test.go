package redisqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/concierge/core/queue"
)

func newTestQueue(t *testing.T, opts Options) (*Queue, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if opts.Name == "" {
		opts.Name = "test:updates"
	}
	opts.WaitTime = time.Second
	q := New(rdb, opts)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	return q, mr, &now
}

func envelope(id int) queue.Envelope {
	return queue.Envelope{
		EventType:  "message",
		Update:     json.RawMessage(`{"update_id":1}`),
		ReceivedAt: time.Unix(0, 0).UTC(),
		UpdateID:   id,
	}
}

func TestPublishReceiveAck(t *testing.T) {
	q, mr, _ := newTestQueue(t, Options{BatchSize: 10})
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, envelope(1)))
	require.NoError(t, q.Publish(ctx, envelope(2)))

	msgs, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, 1, m.ReceiveCount)
		assert.Equal(t, "message", m.Attributes[queue.AttrEventType])
		env, err := queue.Decode(m.Body)
		require.NoError(t, err)
		assert.Equal(t, "message", env.EventType)
	}

	require.NoError(t, q.Ack(ctx, msgs))
	processing, _ := mr.List(q.processing)
	assert.Empty(t, processing)
	assert.False(t, mr.Exists(q.bodies))

	msgs, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReceiveRespectsBatchSize(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{BatchSize: 2})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Publish(ctx, envelope(i)))
	}

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 2)
	second, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Len(t, second, 1)
}

func TestReclaimRequeuesThenDeadLetters(t *testing.T) {
	q, mr, now := newTestQueue(t, Options{BatchSize: 10, VisibilityTimeout: time.Minute, MaxReceives: 2})
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, envelope(7)))

	msgs, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	requeued, dead, err := q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued+dead, "deadline not reached yet")

	*now = now.Add(2 * time.Minute)
	requeued, dead, err = q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Zero(t, dead)

	msgs, err = q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].ReceiveCount)

	*now = now.Add(2 * time.Minute)
	requeued, dead, err = q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued)
	assert.Equal(t, 1, dead)

	ready, _ := mr.List(q.ready)
	assert.Empty(t, ready)
	bodies, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, bodies, 1)
	env, err := queue.Decode(bodies[0])
	require.NoError(t, err)
	assert.Equal(t, "message", env.EventType)
}

func TestAckedMessageIsNotReclaimed(t *testing.T) {
	q, _, now := newTestQueue(t, Options{VisibilityTimeout: time.Second})
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, envelope(1)))
	msgs, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, msgs))

	*now = now.Add(time.Hour)
	requeued, dead, err := q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued+dead)
}

func TestStartReclaimerRejectsBadInterval(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})
	_, err := StartReclaimer(context.Background(), q, 0)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r, err := StartReclaimer(ctx, q, time.Second)
	require.NoError(t, err)
	cancel()
	r.Stop()
}
